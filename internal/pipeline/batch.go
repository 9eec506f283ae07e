package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/funnel-cli/internal/model"
)

// ErrFatal marks a processor failure as systemic rather than row-scoped. A
// RowFunc wraps it for failures that would hit every remaining row the same
// way, such as rejected credentials; RunBatch stops the batch and surfaces it
// so the stage halts instead of finishing with every row annotated.
var ErrFatal = eris.New("pipeline: fatal stage error")

// RowUsage reports the external resources one row's processing consumed.
type RowUsage struct {
	Credits      int
	InputTokens  int64
	OutputTokens int64
}

// RowFunc processes a single lead in place. On error the executor annotates
// the lead and keeps going; the error never aborts the window.
type RowFunc func(ctx context.Context, lead *model.Lead) (RowUsage, error)

// BatchOptions configures one executor run.
type BatchOptions struct {
	// Domain prefixes the error annotation attributes, e.g. "company" yields
	// companySource/companyError.
	Domain string

	// WindowSize bounds per-window concurrency. Defaults to 5.
	WindowSize int

	// InterWindowDelay pauses between windows as back-pressure against
	// rate-limited providers.
	InterWindowDelay time.Duration

	// OnProgress, if set, is called after every completed row with a
	// monotonic 0-100 percentage.
	OnProgress func(percent float64)
}

// BatchAnalytics summarizes an executor run.
type BatchAnalytics struct {
	Total        int
	ErrorCount   int
	Credits      int
	InputTokens  int64
	OutputTokens int64
}

// RunBatch drives fn over leads in fixed-size concurrent windows. Leads are
// mutated in place; the returned slice is the same backing array. A window
// fully completes before the next starts.
func RunBatch(ctx context.Context, leads []model.Lead, fn RowFunc, opts BatchOptions) ([]model.Lead, BatchAnalytics, error) {
	windowSize := opts.WindowSize
	if windowSize <= 0 {
		windowSize = 5
	}

	analytics := BatchAnalytics{Total: len(leads)}
	if len(leads) == 0 {
		return leads, analytics, nil
	}

	var (
		mu        sync.Mutex
		completed atomic.Int64
	)

	report := func() {
		done := completed.Add(1)
		if opts.OnProgress != nil {
			opts.OnProgress(float64(done) / float64(len(leads)) * 100)
		}
	}

	for start := 0; start < len(leads); start += windowSize {
		if err := ctx.Err(); err != nil {
			return leads, analytics, err
		}

		end := min(start+windowSize, len(leads))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				usage, err := fn(gctx, &leads[i])
				mu.Lock()
				analytics.Credits += usage.Credits
				analytics.InputTokens += usage.InputTokens
				analytics.OutputTokens += usage.OutputTokens
				if err != nil {
					analytics.ErrorCount++
				}
				mu.Unlock()

				if err != nil {
					// Row-level failures are isolated: annotate and move on.
					leads[i].SetAttr(opts.Domain+"Source", "error")
					leads[i].SetAttr(opts.Domain+"Error", err.Error())
					zap.L().Warn("batch: row failed",
						zap.String("domain", opts.Domain),
						zap.String("lead", leads[i].ID),
						zap.Error(err),
					)
				}
				report()
				if err != nil && eris.Is(err, ErrFatal) {
					return err
				}
				return nil
			})
		}
		// Row-level errors stay inside the window; only fatal escalations
		// surface through Wait.
		if err := g.Wait(); err != nil {
			return leads, analytics, err
		}

		if err := ctx.Err(); err != nil {
			return leads, analytics, err
		}

		zap.L().Debug("batch: window complete",
			zap.String("domain", opts.Domain),
			zap.String("progress", progressPercent(int(completed.Load()), len(leads))),
		)

		if opts.InterWindowDelay > 0 && end < len(leads) {
			timer := time.NewTimer(opts.InterWindowDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return leads, analytics, ctx.Err()
			case <-timer.C:
			}
		}
	}

	// Every single row failing is a systemic provider failure, not bad rows.
	if analytics.ErrorCount == analytics.Total {
		return leads, analytics, eris.Wrapf(ErrFatal, "batch: all %d rows failed", analytics.Total)
	}

	return leads, analytics, nil
}

// mergeByIdentity folds processed leads back into the full set by identity.
// Leads the processor did not return are left untouched.
func mergeByIdentity(all []model.Lead, processed []model.Lead) []model.Lead {
	index := make(map[string]int, len(all))
	for i := range all {
		if key, ok := model.ResolveIdentity(all[i]); ok {
			index[key] = i
		}
	}
	for i := range processed {
		key, ok := model.ResolveIdentity(processed[i])
		if !ok {
			continue
		}
		if pos, found := index[key]; found {
			all[pos] = processed[i]
		}
	}
	return all
}

// progressPercent formats a percentage for logging.
func progressPercent(done, total int) string {
	if total == 0 {
		return "100%"
	}
	return fmt.Sprintf("%.0f%%", float64(done)/float64(total)*100)
}
