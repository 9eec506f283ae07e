package pipeline

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/funnel-cli/internal/cache"
	"github.com/sells-group/funnel-cli/internal/config"
	"github.com/sells-group/funnel-cli/internal/enrich"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/pkg/anthropic"
	"github.com/sells-group/funnel-cli/pkg/apollo"
)

// Canonical stage IDs, in default pipeline order.
const (
	StageTitleRelevance = "title_relevance"
	StageCompanyEnrich  = "company_enrich"
	StageRevenueFilter  = "revenue_filter"
	StageContactEnrich  = "contact_enrich"
)

// StageDef binds one pipeline stage to its processor and filter. Run is nil
// for pure filter stages.
type StageDef struct {
	model.Stage

	// Domain prefixes the batch executor's error annotations for this stage.
	Domain string

	Run    RowFunc
	Filter *FilterPolicy
}

// BuildStages assembles the default pipeline: title classification, company
// enrichment, the revenue gate, and contact matching. orgCache may be nil.
func BuildStages(ai anthropic.Client, provider apollo.Client, orgCache *cache.OrgCache, cfg *config.Config) []StageDef {
	classifier := enrich.NewTitleClassifier(ai, cfg.Anthropic)
	company := enrich.NewCompanyEnricher(provider, orgCache, cfg.Cache.TTL(), cfg.Apollo.RetryDelay())
	contact := enrich.NewContactEnricher(provider, cfg.Apollo.RetryDelay())

	defs := []StageDef{
		{
			Stage:  model.Stage{ID: StageTitleRelevance, Name: "Title Relevance", Kind: model.StageKindEnrichment},
			Domain: "title",
			Run: func(ctx context.Context, lead *model.Lead) (RowUsage, error) {
				usage, err := classifier.Classify(ctx, lead)
				return RowUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}, err
			},
			Filter: TitleRelevanceFilter(),
		},
		{
			Stage:  model.Stage{ID: StageCompanyEnrich, Name: "Company Enrichment", Kind: model.StageKindEnrichment},
			Domain: "company",
			Run: func(ctx context.Context, lead *model.Lead) (RowUsage, error) {
				credits, err := company.Enrich(ctx, lead)
				return RowUsage{Credits: credits}, err
			},
			Filter: HeadcountFilter(cfg.Filters),
		},
		{
			Stage:  model.Stage{ID: StageRevenueFilter, Name: "Revenue Filter", Kind: model.StageKindFilter},
			Domain: "revenue",
			Filter: RevenueFilter(cfg.Filters),
		},
		{
			Stage:  model.Stage{ID: StageContactEnrich, Name: "Contact Enrichment", Kind: model.StageKindEnrichment},
			Domain: "contact",
			Run: func(ctx context.Context, lead *model.Lead) (RowUsage, error) {
				credits, err := contact.Enrich(ctx, lead)
				return RowUsage{Credits: credits}, err
			},
			Filter: EmailFoundFilter(),
		},
	}

	for i := range defs {
		defs[i].Index = i
	}
	return defs
}

// StagePlan is an optional YAML description of which stages run and in what
// order. Stages omitted from the plan do not run.
type StagePlan struct {
	Stages []StagePlanEntry `yaml:"stages"`
}

// StagePlanEntry selects one stage by ID.
type StagePlanEntry struct {
	ID      string `yaml:"id"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// LoadStagePlan reads a stage plan from a YAML file.
func LoadStagePlan(path string) (*StagePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read stage plan %s", path)
	}

	var plan StagePlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse stage plan %s", path)
	}
	if len(plan.Stages) == 0 {
		return nil, eris.Errorf("pipeline: stage plan %s selects no stages", path)
	}
	return &plan, nil
}

// Apply filters and reorders the stage definitions per the plan, reindexing
// the result. Unknown stage IDs are an error.
func (p *StagePlan) Apply(defs []StageDef) ([]StageDef, error) {
	byID := make(map[string]StageDef, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}

	var out []StageDef
	for _, entry := range p.Stages {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		def, ok := byID[entry.ID]
		if !ok {
			return nil, eris.Errorf("pipeline: unknown stage %q in plan", entry.ID)
		}
		def.Index = len(out)
		out = append(out, def)
	}
	if len(out) == 0 {
		return nil, eris.New("pipeline: stage plan disables every stage")
	}
	return out, nil
}
