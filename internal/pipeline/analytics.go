package pipeline

import (
	"time"

	"github.com/sells-group/funnel-cli/internal/cost"
	"github.com/sells-group/funnel-cli/internal/model"
)

// SuccessRate returns (attempts-errors)/attempts*100, guarding the zero
// denominator: a stage that attempted nothing has a 0 rate, never NaN.
func SuccessRate(attempts, errors int) float64 {
	if attempts <= 0 {
		return 0
	}
	return float64(attempts-errors) / float64(attempts) * 100
}

// Throughput returns rows per elapsed minute, 0 when no time has passed.
func Throughput(rows int, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(rows) / minutes
}

// StageSummary is a stage's derived analytics view.
type StageSummary struct {
	StageID           string  `json:"stage_id"`
	InputCount        int     `json:"input_count"`
	OutputCount       int     `json:"output_count"`
	FilteredCount     int     `json:"filtered_count"`
	ErrorCount        int     `json:"error_count"`
	Skipped           bool    `json:"skipped"`
	SuccessRate       float64 `json:"success_rate"`
	ThroughputPerMin  float64 `json:"throughput_per_min"`
	Credits           int     `json:"credits"`
	InputTokens       int64   `json:"input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	ProcessingSeconds float64 `json:"processing_seconds"`
}

// RunSummary aggregates stage analytics run-wide.
type RunSummary struct {
	Stages           []StageSummary `json:"stages"`
	TotalInput       int            `json:"total_input"`
	TotalFiltered    int            `json:"total_filtered"`
	TotalErrors      int            `json:"total_errors"`
	TotalCredits     int            `json:"total_credits"`
	TotalTokens      int64          `json:"total_tokens"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	SuccessRate      float64        `json:"success_rate"`
	ThroughputPerMin float64        `json:"throughput_per_min"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
}

// Aggregator derives per-stage and run-wide summaries from raw stage
// analytics.
type Aggregator struct {
	calc  *cost.Calculator
	model string
}

// NewAggregator creates an Aggregator pricing Claude usage at the given
// model's rates.
func NewAggregator(calc *cost.Calculator, claudeModel string) *Aggregator {
	return &Aggregator{calc: calc, model: claudeModel}
}

// Stage derives a summary for one stage.
func (a *Aggregator) Stage(stageID string, sa model.StageAnalytics) StageSummary {
	elapsed := time.Duration(sa.ProcessingTimeSeconds * float64(time.Second))
	return StageSummary{
		StageID:           stageID,
		InputCount:        sa.InputCount,
		OutputCount:       sa.OutputCount,
		FilteredCount:     sa.FilteredCount,
		ErrorCount:        sa.ErrorCount,
		Skipped:           sa.Skipped,
		SuccessRate:       SuccessRate(sa.InputCount, sa.ErrorCount),
		ThroughputPerMin:  Throughput(sa.InputCount, elapsed),
		Credits:           sa.Credits,
		InputTokens:       sa.InputTokens,
		OutputTokens:      sa.OutputTokens,
		EstimatedCostUSD:  a.stageCost(sa),
		ProcessingSeconds: sa.ProcessingTimeSeconds,
	}
}

// Run derives the run-wide summary across all stages, in stage order.
func (a *Aggregator) Run(stages []model.Stage, analytics map[string]model.StageAnalytics) RunSummary {
	var summary RunSummary
	var elapsed time.Duration
	var attempts, errors int

	for _, stage := range stages {
		sa, ok := analytics[stage.ID]
		if !ok {
			continue
		}
		ss := a.Stage(stage.ID, sa)
		summary.Stages = append(summary.Stages, ss)

		summary.TotalInput += sa.InputCount
		summary.TotalFiltered += sa.FilteredCount
		summary.TotalErrors += sa.ErrorCount
		summary.TotalCredits += sa.Credits
		summary.TotalTokens += sa.InputTokens + sa.OutputTokens
		summary.EstimatedCostUSD += ss.EstimatedCostUSD
		elapsed += time.Duration(sa.ProcessingTimeSeconds * float64(time.Second))
		attempts += sa.InputCount
		errors += sa.ErrorCount
	}

	summary.SuccessRate = SuccessRate(attempts, errors)
	summary.ThroughputPerMin = Throughput(summary.TotalInput, elapsed)
	summary.ElapsedSeconds = elapsed.Seconds()
	return summary
}

func (a *Aggregator) stageCost(sa model.StageAnalytics) float64 {
	return a.calc.Claude(a.model, sa.InputTokens, sa.OutputTokens) + a.calc.Credits(sa.Credits)
}
