package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/cache"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/resilience"
	"github.com/sells-group/funnel-cli/pkg/apollo"
)

// CompanyEnricher resolves an organization identity per lead, consults the
// shared cache, and falls back to the provider with a single fixed-backoff
// retry. Provider results are written through to the cache, touching only the
// columns this stage owns.
type CompanyEnricher struct {
	provider   apollo.Client
	cache      *cache.OrgCache
	ttl        time.Duration
	retryDelay time.Duration
	now        func() time.Time
}

// NewCompanyEnricher creates a CompanyEnricher. cache may be nil, in which
// case every lead goes straight to the provider.
func NewCompanyEnricher(provider apollo.Client, orgCache *cache.OrgCache, ttl, retryDelay time.Duration) *CompanyEnricher {
	return &CompanyEnricher{
		provider:   provider,
		cache:      orgCache,
		ttl:        ttl,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// WithNow fixes the clock for staleness tests.
func (e *CompanyEnricher) WithNow(now func() time.Time) *CompanyEnricher {
	e.now = now
	return e
}

// OrgIdentity derives the stable organization key for a lead: normalized
// domain, else a slug of the normalized company name. Empty when neither is
// usable.
func OrgIdentity(lead *model.Lead) string {
	if domain := model.NormalizeDomain(lead.CompanyDomain); domain != "" {
		return domain
	}
	name := model.NormalizeCompanyName(lead.CompanyName)
	if name == "" {
		return ""
	}
	return "name:" + strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// Enrich annotates the lead with employeeCount, annualRevenue, industry and
// companySource. Returns the number of provider credits consumed. Leads
// already enriched are skipped so a stage retry never re-spends credits.
func (e *CompanyEnricher) Enrich(ctx context.Context, lead *model.Lead) (int, error) {
	if src := lead.StringAttr("companySource"); src != "" && src != "error" {
		return 0, nil
	}

	orgID := OrgIdentity(lead)
	if orgID == "" {
		return 0, eris.New("enrich: no organization identity")
	}

	// Cache read. Failures degrade to a provider call, never fatal.
	if e.cache != nil {
		rec, err := e.cache.Get(ctx, orgID)
		if err != nil {
			zap.L().Warn("enrich: cache read failed, bypassing",
				zap.String("org", orgID),
				zap.Error(err),
			)
		} else if cache.Fresh(rec, e.ttl, e.now()) && rec.EmployeeCount != nil {
			applyOrgRecord(lead, rec)
			return 0, nil
		}
	}

	policy := resilience.ProviderRetry(e.retryDelay)
	policy.OnRetry = resilience.RetryLogger("apollo", "organization enrich")
	org, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*apollo.Organization, error) {
		return e.provider.EnrichOrganization(ctx, orgID)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "enrich: organization %s", orgID)
	}

	lead.SetAttr("employeeCount", org.EmployeeCount)
	lead.SetAttr("annualRevenue", org.AnnualRevenue)
	lead.SetAttr("industry", org.Industry)
	lead.SetAttr("companySource", "apollo")

	// Write-through, scoped to the columns this stage owns.
	if e.cache != nil {
		fields := map[string]any{
			"name":           org.Name,
			"domain":         org.Domain,
			"industry":       org.Industry,
			"employee_count": org.EmployeeCount,
			"annual_revenue": org.AnnualRevenue,
		}
		if org.LinkedInURL != "" {
			fields["linkedin_url"] = org.LinkedInURL
		}
		if err := e.cache.Upsert(ctx, orgID, fields); err != nil {
			zap.L().Warn("enrich: cache write failed",
				zap.String("org", orgID),
				zap.Error(err),
			)
		}
	}

	return 1, nil
}

func applyOrgRecord(lead *model.Lead, rec *cache.OrgRecord) {
	if rec.EmployeeCount != nil {
		lead.SetAttr("employeeCount", *rec.EmployeeCount)
	}
	if rec.AnnualRevenue != nil {
		lead.SetAttr("annualRevenue", *rec.AnnualRevenue)
	}
	if rec.Industry != nil {
		lead.SetAttr("industry", *rec.Industry)
	}
	lead.SetAttr("companySource", "cache")
}
