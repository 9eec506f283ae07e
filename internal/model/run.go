package model

import "time"

// StageKind distinguishes stages that call an external processor from pure
// filter stages that only apply a predicate.
type StageKind string

const (
	StageKindEnrichment StageKind = "enrichment"
	StageKindFilter     StageKind = "filter"
)

// StageState represents the current state of a pipeline stage.
type StageState string

const (
	StageStatePending    StageState = "pending"
	StageStateProcessing StageState = "processing"
	StageStateComplete   StageState = "complete"
	StageStateError      StageState = "error"
	StageStateCancelled  StageState = "cancelled"
)

// Stage is one ordered, uniquely-identified unit of the pipeline. Stages are
// immutable for the life of a run.
type Stage struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Kind  StageKind `json:"kind"`
	Index int       `json:"index"`
}

// StageStatus holds a stage's state, message, and attached analytics.
type StageStatus struct {
	State   StageState `json:"state"`
	Message string     `json:"message,omitempty"`
}

// StageAnalytics accumulates stage-specific counters plus timings. Counters
// is an open schema: each stage records what it measures.
type StageAnalytics struct {
	InputCount    int            `json:"input_count"`
	OutputCount   int            `json:"output_count"`
	FilteredCount int            `json:"filtered_count"`
	ErrorCount    int            `json:"error_count"`
	Credits       int            `json:"credits"`
	InputTokens   int64          `json:"input_tokens"`
	OutputTokens  int64          `json:"output_tokens"`
	Skipped       bool           `json:"skipped,omitempty"`
	Counters      map[string]any `json:"counters,omitempty"`

	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}

// FilterOutcome records what a stage's tag filter did to the active set.
type FilterOutcome struct {
	OriginalCount int    `json:"original_count"`
	UntaggedCount int    `json:"untagged_count"`
	TaggedCount   int    `json:"tagged_count"`
	FilterReason  string `json:"filter_reason"`
}

// LogEntry is one append-only line in the run log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// RunState is the full observable state of a pipeline run. The engine owns
// the authoritative copy; callers only ever see deep copies.
type RunState struct {
	RunID              string                    `json:"run_id"`
	Leads              []Lead                    `json:"leads"`
	CurrentStageIndex  int                       `json:"current_stage_index"`
	IsProcessing       bool                      `json:"is_processing"`
	IsCancelling       bool                      `json:"is_cancelling"`
	ProcessingComplete bool                      `json:"processing_complete"`
	FatalError         string                    `json:"fatal_error,omitempty"`
	// Progress is 0-100 scoped to the current stage, not the whole run.
	Progress float64 `json:"progress"`
	Log                []LogEntry                `json:"log"`
	StageStatuses      map[string]StageStatus    `json:"stage_statuses"`
	StageAnalytics     map[string]StageAnalytics `json:"stage_analytics"`
	FilterAnalytics    map[string]FilterOutcome  `json:"filter_analytics"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy of the run state.
func (s *RunState) Clone() *RunState {
	out := *s
	out.Leads = make([]Lead, len(s.Leads))
	for i := range s.Leads {
		out.Leads[i] = s.Leads[i].Clone()
	}
	out.Log = append([]LogEntry(nil), s.Log...)
	out.StageStatuses = make(map[string]StageStatus, len(s.StageStatuses))
	for k, v := range s.StageStatuses {
		out.StageStatuses[k] = v
	}
	out.StageAnalytics = make(map[string]StageAnalytics, len(s.StageAnalytics))
	for k, v := range s.StageAnalytics {
		if v.Counters != nil {
			counters := make(map[string]any, len(v.Counters))
			for ck, cv := range v.Counters {
				counters[ck] = cv
			}
			v.Counters = counters
		}
		out.StageAnalytics[k] = v
	}
	out.FilterAnalytics = make(map[string]FilterOutcome, len(s.FilterAnalytics))
	for k, v := range s.FilterAnalytics {
		out.FilterAnalytics[k] = v
	}
	return &out
}

// ActiveLeads returns the leads still eligible for processing.
func (s *RunState) ActiveLeads() []Lead {
	var active []Lead
	for i := range s.Leads {
		if s.Leads[i].Active() {
			active = append(active, s.Leads[i].Clone())
		}
	}
	return active
}
