package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/config"
	"github.com/sells-group/funnel-cli/internal/model"
)

func defaultStages(t *testing.T) []StageDef {
	t.Helper()
	cfg := &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-test", MaxTokens: 256},
		Filters:   config.FiltersConfig{MinHeadcount: 10, MaxHeadcount: 100, MinRevenue: 1_000_000},
	}
	return BuildStages(nil, nil, nil, cfg)
}

func TestBuildStagesOrder(t *testing.T) {
	defs := defaultStages(t)
	require.Len(t, defs, 4)

	wantIDs := []string{StageTitleRelevance, StageCompanyEnrich, StageRevenueFilter, StageContactEnrich}
	for i, def := range defs {
		assert.Equal(t, wantIDs[i], def.ID)
		assert.Equal(t, i, def.Index)
		require.NotNil(t, def.Filter, def.ID)
	}

	// The revenue gate is the only stage with no processor.
	for _, def := range defs {
		if def.ID == StageRevenueFilter {
			assert.Nil(t, def.Run)
			assert.Equal(t, model.StageKindFilter, def.Kind)
		} else {
			assert.NotNil(t, def.Run, def.ID)
			assert.Equal(t, model.StageKindEnrichment, def.Kind)
		}
	}
}

func writeStagePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStagePlan(t *testing.T) {
	path := writeStagePlan(t, `
stages:
  - id: company_enrich
  - id: title_relevance
  - id: revenue_filter
    enabled: false
`)

	plan, err := LoadStagePlan(path)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 3)

	defs, err := plan.Apply(defaultStages(t))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, StageCompanyEnrich, defs[0].ID)
	assert.Equal(t, 0, defs[0].Index)
	assert.Equal(t, StageTitleRelevance, defs[1].ID)
	assert.Equal(t, 1, defs[1].Index)
}

func TestLoadStagePlanErrors(t *testing.T) {
	_, err := LoadStagePlan(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadStagePlan(writeStagePlan(t, "stages: []"))
	require.Error(t, err)

	_, err = LoadStagePlan(writeStagePlan(t, "stages: {not: a list"))
	require.Error(t, err)
}

func TestStagePlanUnknownStage(t *testing.T) {
	plan := &StagePlan{Stages: []StagePlanEntry{{ID: "does_not_exist"}}}
	_, err := plan.Apply(defaultStages(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestStagePlanAllDisabled(t *testing.T) {
	off := false
	plan := &StagePlan{Stages: []StagePlanEntry{{ID: StageTitleRelevance, Enabled: &off}}}
	_, err := plan.Apply(defaultStages(t))
	require.Error(t, err)
}
