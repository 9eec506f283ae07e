package pipeline

import (
	"fmt"

	"github.com/sells-group/funnel-cli/internal/config"
	"github.com/sells-group/funnel-cli/internal/model"
)

// FilterPolicy decides, after a stage's enrichment, which still-active leads
// are permanently excluded. Reason builds the human-readable tag from the
// triggering value.
type FilterPolicy struct {
	// Name labels the policy in filter analytics.
	Name string

	// Predicate returns (true, value) when the lead should be tagged, where
	// value parameterizes the reason template.
	Predicate func(lead *model.Lead) (bool, any)

	// Reason renders the exclusion tag for a triggering value.
	Reason func(value any) string
}

// Apply evaluates the policy over currently-untagged leads only. Leads tagged
// by an earlier stage are never re-evaluated, so the active set can only
// shrink. Apply is idempotent.
func (p *FilterPolicy) Apply(leads []model.Lead) model.FilterOutcome {
	outcome := model.FilterOutcome{FilterReason: p.Name}
	for i := range leads {
		if !leads[i].Active() {
			continue
		}
		outcome.OriginalCount++
		tag, value := p.Predicate(&leads[i])
		if tag && leads[i].SetTag(p.Reason(value)) {
			outcome.TaggedCount++
		} else {
			outcome.UntaggedCount++
		}
	}
	return outcome
}

// TitleRelevanceFilter excludes leads whose title classified as Irrelevant.
func TitleRelevanceFilter() *FilterPolicy {
	return &FilterPolicy{
		Name: "Irrelevant Title",
		Predicate: func(lead *model.Lead) (bool, any) {
			category := lead.StringAttr("titleCategory")
			return category == "Irrelevant", category
		},
		Reason: func(value any) string {
			return fmt.Sprintf("Irrelevant Title: %v", value)
		},
	}
}

// HeadcountFilter excludes leads whose company headcount falls outside
// [min, max]. Leads with no headcount yet pass through.
func HeadcountFilter(cfg config.FiltersConfig) *FilterPolicy {
	return &FilterPolicy{
		Name: "Headcount Out of Range",
		Predicate: func(lead *model.Lead) (bool, any) {
			count, ok := lead.NumberAttr("employeeCount")
			if !ok {
				return false, nil
			}
			out := count < float64(cfg.MinHeadcount) || count > float64(cfg.MaxHeadcount)
			return out, int(count)
		},
		Reason: func(value any) string {
			return fmt.Sprintf("Headcount Out of Range: %v", value)
		},
	}
}

// RevenueFilter excludes leads whose estimated annual revenue is below the
// configured minimum. This backs a pure filter stage: no processor runs.
func RevenueFilter(cfg config.FiltersConfig) *FilterPolicy {
	return &FilterPolicy{
		Name: "Revenue Below Minimum",
		Predicate: func(lead *model.Lead) (bool, any) {
			revenue, ok := lead.NumberAttr("annualRevenue")
			if !ok {
				return false, nil
			}
			return revenue < cfg.MinRevenue, revenue
		},
		Reason: func(value any) string {
			return fmt.Sprintf("Revenue Below Minimum: $%.0f", value)
		},
	}
}

// EmailFoundFilter excludes leads for which contact enrichment produced no
// email address.
func EmailFoundFilter() *FilterPolicy {
	return &FilterPolicy{
		Name: "No Email Found",
		Predicate: func(lead *model.Lead) (bool, any) {
			if lead.Email != "" {
				return false, nil
			}
			return lead.StringAttr("email") == "", nil
		},
		Reason: func(any) string {
			return "No Email Found"
		},
	}
}
