package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/resilience"
	"github.com/sells-group/funnel-cli/pkg/apollo"
)

// ContactEnricher discovers a work email for each lead via person match.
// Match results are person-scoped, so unlike company enrichment they are not
// written to the org cache.
type ContactEnricher struct {
	provider   apollo.Client
	retryDelay time.Duration
}

// NewContactEnricher creates a ContactEnricher.
func NewContactEnricher(provider apollo.Client, retryDelay time.Duration) *ContactEnricher {
	return &ContactEnricher{provider: provider, retryDelay: retryDelay}
}

// Enrich annotates the lead with email, emailStatus and contactSource.
// Returns the number of provider credits consumed. Leads that arrived with
// an email, or were already matched, are skipped.
func (e *ContactEnricher) Enrich(ctx context.Context, lead *model.Lead) (int, error) {
	if lead.Email != "" {
		lead.SetAttr("email", lead.Email)
		lead.SetAttr("emailStatus", "provided")
		lead.SetAttr("contactSource", "input")
		return 0, nil
	}
	if src := lead.StringAttr("contactSource"); src != "" && src != "error" {
		return 0, nil
	}

	req := apollo.PersonMatchRequest{
		FirstName:    lead.FirstName,
		LastName:     lead.LastName,
		Title:        lead.Title,
		Domain:       model.NormalizeDomain(lead.CompanyDomain),
		LinkedInURL:  lead.LinkedInURL,
		RevealEmails: true,
	}
	if req.Domain == "" && req.LinkedInURL == "" {
		return 0, eris.New("enrich: no person identity for match")
	}

	policy := resilience.ProviderRetry(e.retryDelay)
	policy.OnRetry = resilience.RetryLogger("apollo", "person match")
	person, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*apollo.Person, error) {
		return e.provider.MatchPerson(ctx, req)
	})
	if err != nil {
		return 0, eris.Wrap(err, "enrich: person match")
	}

	lead.SetAttr("email", person.Email)
	lead.SetAttr("emailStatus", person.EmailStatus)
	lead.SetAttr("contactSource", "apollo")
	return 1, nil
}
