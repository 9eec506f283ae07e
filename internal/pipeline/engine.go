// Package pipeline drives leads through the ordered enrichment and filter
// stages, one stage per step, with snapshot persistence at every transition.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/config"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/store"
	"github.com/sells-group/funnel-cli/pkg/anthropic"
	"github.com/sells-group/funnel-cli/pkg/apollo"
)

// Sentinel results from ProcessCurrentStep.
var (
	ErrNoRun       = eris.New("pipeline: no run loaded")
	ErrRunComplete = eris.New("pipeline: run already complete")
	ErrBusy        = eris.New("pipeline: a stage is already processing")
	ErrCancelled   = eris.New("pipeline: run cancelled")
	ErrStageFailed = eris.New("pipeline: current stage failed, retry to continue")
)

// Probe verifies provider connectivity before the first stage runs.
type Probe func(ctx context.Context) error

// ConnectivityProbe checks both providers. Either failure fails the probe.
func ConnectivityProbe(ai anthropic.Client, provider apollo.Client) Probe {
	return func(ctx context.Context) error {
		if err := ai.Ping(ctx); err != nil {
			return eris.Wrap(err, "pipeline: anthropic probe")
		}
		if err := provider.Health(ctx); err != nil {
			return eris.Wrap(err, "pipeline: apollo probe")
		}
		return nil
	}
}

// Engine owns the authoritative run state and advances it one stage at a
// time. All exported methods are safe for concurrent use.
type Engine struct {
	stages []StageDef
	store  store.Store
	broker *Broker
	probe  Probe
	cfg    config.PipelineConfig

	mu          sync.Mutex
	state       *model.RunState
	procCancel  context.CancelFunc
	cancelTimer *time.Timer
}

// NewEngine creates an Engine. store, broker and probe may each be nil, which
// disables persistence, events, or the connectivity check respectively.
func NewEngine(stages []StageDef, st store.Store, broker *Broker, probe Probe, cfg config.PipelineConfig) *Engine {
	return &Engine{
		stages: stages,
		store:  st,
		broker: broker,
		probe:  probe,
		cfg:    cfg,
	}
}

// Stages returns the pipeline's stage descriptors in order.
func (e *Engine) Stages() []model.Stage {
	out := make([]model.Stage, len(e.stages))
	for i, def := range e.stages {
		out[i] = def.Stage
	}
	return out
}

// SetInitialData starts a fresh run over the given leads and persists its
// first snapshot. Each lead is assigned its resolved identity as ID up front
// so later enrichment never shifts how rows merge; duplicate identities keep
// the first occurrence. Returns the new run ID.
func (e *Engine) SetInitialData(ctx context.Context, leads []model.Lead) (string, error) {
	if len(leads) == 0 {
		return "", eris.New("pipeline: no leads to process")
	}

	seen := make(map[string]bool, len(leads))
	deduped := make([]model.Lead, 0, len(leads))
	for i := range leads {
		key, ok := model.ResolveIdentity(leads[i])
		if !ok {
			return "", eris.Errorf("pipeline: lead %d has no usable identity", i)
		}
		if seen[key] {
			zap.L().Warn("pipeline: duplicate lead dropped", zap.String("identity", key))
			continue
		}
		seen[key] = true
		lead := leads[i].Clone()
		lead.ID = key
		deduped = append(deduped, lead)
	}

	now := time.Now()
	state := &model.RunState{
		RunID:           uuid.NewString(),
		Leads:           deduped,
		StageStatuses:   make(map[string]model.StageStatus, len(e.stages)),
		StageAnalytics:  make(map[string]model.StageAnalytics, len(e.stages)),
		FilterAnalytics: make(map[string]model.FilterOutcome, len(e.stages)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, def := range e.stages {
		state.StageStatuses[def.ID] = model.StageStatus{State: model.StageStatePending}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.appendLogLocked("run created")
	e.persistLocked(ctx)
	return state.RunID, nil
}

// Resume loads a persisted run. A snapshot taken mid-stage resumes at that
// stage's start: the in-flight markers are cleared and the stage reruns,
// which is safe because processors are idempotent per lead.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	if e.store == nil {
		return eris.New("pipeline: no store configured")
	}
	state, err := e.store.LoadSnapshot(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	if state == nil {
		return eris.Errorf("pipeline: no snapshot for run %s", runID)
	}
	if state.CurrentStageIndex >= len(e.stages) && !state.ProcessingComplete {
		return eris.Errorf("pipeline: snapshot stage index %d exceeds pipeline length %d",
			state.CurrentStageIndex, len(e.stages))
	}

	state.IsProcessing = false
	state.IsCancelling = false
	for id, status := range state.StageStatuses {
		if status.State == model.StageStateProcessing {
			status.State = model.StageStatePending
			status.Message = ""
			state.StageStatuses[id] = status
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.appendLogLocked("run resumed")
	return nil
}

// State returns a deep copy of the current run state, or nil when no run is
// loaded.
func (e *Engine) State() *model.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	return e.state.Clone()
}

// Reset discards the current run and removes its snapshot.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return nil
	}
	runID := e.state.RunID
	e.state = nil
	e.stopCancelTimerLocked()
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.RemoveSnapshot(ctx, runID); err != nil {
			return eris.Wrapf(err, "pipeline: remove snapshot %s", runID)
		}
	}
	return nil
}

// Cancel requests cooperative cancellation. The in-flight stage keeps running
// until the next window boundary; if it has not stopped within the configured
// timeout its context is cancelled outright. No further stages start.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil || e.state.ProcessingComplete || e.state.IsCancelling {
		return
	}

	e.state.IsCancelling = true
	e.appendLogLocked("cancellation requested")

	if e.state.IsProcessing && e.procCancel != nil {
		timeout := e.cfg.CancelTimeout()
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		cancel := e.procCancel
		e.cancelTimer = time.AfterFunc(timeout, cancel)
	}
}

// RetryCurrentStage clears a stage failure or cancellation so the next
// ProcessCurrentStep re-enters the same stage. Per-lead annotations from the
// failed pass remain; idempotent processors skip the rows that succeeded.
func (e *Engine) RetryCurrentStage(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNoRun
	}
	if e.state.IsProcessing {
		return ErrBusy
	}
	if e.state.ProcessingComplete {
		return ErrRunComplete
	}

	stage := e.stages[e.state.CurrentStageIndex]
	e.state.StageStatuses[stage.ID] = model.StageStatus{State: model.StageStatePending}
	e.state.FatalError = ""
	e.state.IsCancelling = false
	e.appendLogLocked("retrying stage: " + stage.Name)
	e.persistLocked(ctx)
	return nil
}

// ProcessCurrentStep runs exactly one stage of the pipeline: probe (first
// stage only), enrich the active leads in windows, apply the stage filter,
// attach analytics, persist, and advance. Per-row failures are annotated and
// never halt the stage; stage-level failures halt the run until retried.
func (e *Engine) ProcessCurrentStep(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return ErrNoRun
	}
	if e.state.ProcessingComplete {
		e.mu.Unlock()
		return ErrRunComplete
	}
	if e.state.IsProcessing {
		e.mu.Unlock()
		return ErrBusy
	}
	if e.state.FatalError != "" {
		e.mu.Unlock()
		return ErrStageFailed
	}

	stageIdx := e.state.CurrentStageIndex
	stage := e.stages[stageIdx]

	if e.state.IsCancelling {
		// Stage boundary: honor the pending cancel before starting work.
		e.state.StageStatuses[stage.ID] = model.StageStatus{
			State:   model.StageStateCancelled,
			Message: "cancelled before start",
		}
		e.state.IsCancelling = false
		e.appendLogLocked("run cancelled at stage boundary: " + stage.Name)
		e.persistLocked(ctx)
		e.mu.Unlock()
		e.publishStage(stage.ID, "cancelled")
		return ErrCancelled
	}

	e.state.IsProcessing = true
	e.state.Progress = 0
	e.state.StageStatuses[stage.ID] = model.StageStatus{State: model.StageStateProcessing}
	e.appendLogLocked("stage started: " + stage.Name)
	active := e.state.ActiveLeads()

	runCtx, cancel := context.WithCancel(ctx)
	e.procCancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.publishStage(stage.ID, "processing")

	if stageIdx == 0 && e.probe != nil {
		if err := e.probe(runCtx); err != nil {
			return e.failStage(ctx, stage, err)
		}
	}

	start := time.Now()

	if len(active) == 0 {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.state.StageAnalytics[stage.ID] = model.StageAnalytics{
			Skipped:   true,
			StartTime: start,
			EndTime:   start,
		}
		e.state.StageStatuses[stage.ID] = model.StageStatus{
			State:   model.StageStateComplete,
			Message: "skipped: no active leads",
		}
		e.appendLogLocked("stage skipped, no active leads: " + stage.Name)
		e.finishStageLocked(ctx, stageIdx)
		return nil
	}

	var analytics BatchAnalytics
	processed := active
	var runErr error
	if stage.Run != nil {
		processed, analytics, runErr = RunBatch(runCtx, active, stage.Run, BatchOptions{
			Domain:           stage.Domain,
			WindowSize:       e.cfg.WindowSize,
			InterWindowDelay: e.cfg.InterWindowDelay(),
			OnProgress: func(percent float64) {
				e.reportProgress(stage, percent)
			},
		})
	}
	end := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Windows that completed before cancellation or escalation are kept.
	e.state.Leads = mergeByIdentity(e.state.Leads, processed)

	if runErr != nil {
		e.stopCancelTimerLocked()
		// A fatal escalation halts the stage for retry; anything else from
		// the executor is context cancellation.
		if eris.Is(runErr, ErrFatal) {
			return e.failStageLocked(ctx, stage, runErr)
		}
		e.state.StageStatuses[stage.ID] = model.StageStatus{
			State:   model.StageStateCancelled,
			Message: "cancelled mid-stage",
		}
		e.state.IsProcessing = false
		e.state.IsCancelling = false
		e.appendLogLocked("stage cancelled: " + stage.Name)
		e.persistLocked(ctx)
		e.publishStage(stage.ID, "cancelled")
		return eris.Wrap(ErrCancelled, runErr.Error())
	}

	var outcome model.FilterOutcome
	if stage.Filter != nil {
		outcome = stage.Filter.Apply(e.state.Leads)
		e.state.FilterAnalytics[stage.ID] = outcome
	}

	e.state.StageAnalytics[stage.ID] = model.StageAnalytics{
		InputCount:            len(active),
		OutputCount:           len(e.state.ActiveLeads()),
		FilteredCount:         outcome.TaggedCount,
		ErrorCount:            analytics.ErrorCount,
		Credits:               analytics.Credits,
		InputTokens:           analytics.InputTokens,
		OutputTokens:          analytics.OutputTokens,
		StartTime:             start,
		EndTime:               end,
		ProcessingTimeSeconds: end.Sub(start).Seconds(),
	}
	e.state.StageStatuses[stage.ID] = model.StageStatus{State: model.StageStateComplete}
	e.appendLogLocked("stage complete: " + stage.Name)
	e.finishStageLocked(ctx, stageIdx)
	e.publishStage(stage.ID, "complete")
	return nil
}

// Run drives ProcessCurrentStep until the pipeline completes, is cancelled,
// or a stage fails.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.ProcessCurrentStep(ctx); err != nil {
			if eris.Is(err, ErrRunComplete) {
				return nil
			}
			return err
		}
		if st := e.State(); st != nil && st.ProcessingComplete {
			return nil
		}
	}
}

// finishStageLocked advances past a completed stage, marks completion when it
// was the last one, and persists the transition. Progress is scoped to the
// current stage, so a finished stage reads 100 until the next one starts.
func (e *Engine) finishStageLocked(ctx context.Context, stageIdx int) {
	e.stopCancelTimerLocked()
	e.state.Progress = 100
	if stageIdx+1 >= len(e.stages) {
		e.state.ProcessingComplete = true
		e.appendLogLocked("run complete")
	} else {
		e.state.CurrentStageIndex = stageIdx + 1
	}
	e.state.IsProcessing = false
	e.persistLocked(ctx)
}

// failStage records a stage-level failure. The run halts at the same stage
// index until RetryCurrentStage clears it.
func (e *Engine) failStage(ctx context.Context, stage StageDef, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failStageLocked(ctx, stage, err)
}

func (e *Engine) failStageLocked(ctx context.Context, stage StageDef, err error) error {
	e.stopCancelTimerLocked()

	msg := err.Error()
	e.state.StageStatuses[stage.ID] = model.StageStatus{
		State:   model.StageStateError,
		Message: msg,
	}
	e.state.FatalError = msg
	e.state.IsProcessing = false
	e.appendLogLocked("stage failed: " + stage.Name + ": " + msg)
	e.persistLocked(ctx)
	e.publishStage(stage.ID, "error")
	return eris.Wrapf(err, "pipeline: stage %s", stage.ID)
}

// reportProgress records the current stage's 0-100 completion, monotone
// within the stage.
func (e *Engine) reportProgress(stage StageDef, percent float64) {
	e.mu.Lock()
	if percent > e.state.Progress {
		e.state.Progress = percent
	}
	e.mu.Unlock()

	if e.broker != nil {
		e.broker.Publish(Event{
			Kind:     EventProgress,
			StageID:  stage.ID,
			Progress: percent,
		})
	}
}

func (e *Engine) publishStage(stageID, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(Event{
		Kind:    EventStage,
		StageID: stageID,
		Message: message,
	})
}

func (e *Engine) appendLogLocked(message string) {
	now := time.Now()
	e.state.Log = append(e.state.Log, model.LogEntry{Time: now, Message: message})
	e.state.UpdatedAt = now
	if e.broker != nil {
		e.broker.Publish(Event{Kind: EventLog, Time: now, Message: message})
	}
}

// persistLocked snapshots the current state. Persistence failures are logged
// and never interrupt processing; the in-memory state stays authoritative.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	snap := e.state.Clone()
	if err := e.store.SaveSnapshot(ctx, snap.RunID, snap); err != nil {
		zap.L().Warn("pipeline: snapshot save failed",
			zap.String("run", snap.RunID),
			zap.Error(err),
		)
	}
}

func (e *Engine) stopCancelTimerLocked() {
	if e.cancelTimer != nil {
		e.cancelTimer.Stop()
		e.cancelTimer = nil
	}
}
