package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/cost"
	"github.com/sells-group/funnel-cli/internal/model"
)

func testAggregator() *Aggregator {
	rates := cost.Rates{
		Anthropic: map[string]cost.ModelRate{
			"claude-test": {Input: 1.0, Output: 5.0},
		},
		Apollo: cost.ApolloRate{PerCredit: 0.015},
	}
	return NewAggregator(cost.NewCalculator(rates), "claude-test")
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 0.0, SuccessRate(0, 0))
	assert.Equal(t, 0.0, SuccessRate(0, 5))
	assert.Equal(t, 100.0, SuccessRate(10, 0))
	assert.Equal(t, 80.0, SuccessRate(10, 2))
}

func TestThroughput(t *testing.T) {
	assert.Equal(t, 0.0, Throughput(100, 0))
	assert.Equal(t, 60.0, Throughput(60, time.Minute))
}

func TestAggregatorStage(t *testing.T) {
	agg := testAggregator()
	sa := model.StageAnalytics{
		InputCount:            10,
		OutputCount:           7,
		FilteredCount:         3,
		ErrorCount:            2,
		Credits:               10,
		InputTokens:           1_000_000,
		OutputTokens:          100_000,
		ProcessingTimeSeconds: 60,
	}

	ss := agg.Stage("company_enrich", sa)

	assert.Equal(t, 80.0, ss.SuccessRate)
	assert.Equal(t, 10.0, ss.ThroughputPerMin)
	// 1M input at $1/M + 100k output at $5/M + 10 credits at $0.015.
	assert.InDelta(t, 1.0+0.5+0.15, ss.EstimatedCostUSD, 1e-9)
}

func TestAggregatorStageEmpty(t *testing.T) {
	agg := testAggregator()
	ss := agg.Stage("revenue_filter", model.StageAnalytics{Skipped: true})

	assert.True(t, ss.Skipped)
	assert.Zero(t, ss.SuccessRate)
	assert.Zero(t, ss.ThroughputPerMin)
	assert.Zero(t, ss.EstimatedCostUSD)
}

func TestAggregatorRun(t *testing.T) {
	agg := testAggregator()
	stages := []model.Stage{
		{ID: "title_relevance", Index: 0},
		{ID: "company_enrich", Index: 1},
		{ID: "revenue_filter", Index: 2},
	}
	analytics := map[string]model.StageAnalytics{
		"title_relevance": {InputCount: 10, FilteredCount: 3, InputTokens: 500_000, OutputTokens: 50_000, ProcessingTimeSeconds: 30},
		"company_enrich":  {InputCount: 7, FilteredCount: 2, ErrorCount: 1, Credits: 6, ProcessingTimeSeconds: 30},
		// revenue_filter has not run yet.
	}

	summary := agg.Run(stages, analytics)

	require.Len(t, summary.Stages, 2)
	assert.Equal(t, 17, summary.TotalInput)
	assert.Equal(t, 5, summary.TotalFiltered)
	assert.Equal(t, 1, summary.TotalErrors)
	assert.Equal(t, 6, summary.TotalCredits)
	assert.Equal(t, int64(550_000), summary.TotalTokens)
	assert.InDelta(t, 0.5+0.25+6*0.015, summary.EstimatedCostUSD, 1e-9)
	assert.InDelta(t, 60, summary.ElapsedSeconds, 1e-9)
	assert.Equal(t, 17.0, summary.ThroughputPerMin)
	assert.InDelta(t, float64(16)/17*100, summary.SuccessRate, 1e-9)
}

func TestAggregatorRunEmpty(t *testing.T) {
	agg := testAggregator()
	summary := agg.Run(nil, nil)

	assert.Empty(t, summary.Stages)
	assert.Zero(t, summary.SuccessRate)
	assert.Zero(t, summary.ThroughputPerMin)
}
