// internal/poller/poller.go
package poller

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"render-dispatch/internal/domain"
	"render-dispatch/internal/metrics"
)

// ProgressFunc is invoked whenever the observed run status changes.
// Callbacks fire in observation order from a single goroutine.
type ProgressFunc func(run *domain.RemoteRun)

// Poller drives a bounded polling loop from dispatch to terminal state.
// Transitions are driven purely by snapshots read from the correlator; the
// poller never infers a transition locally. Transient fetch errors and
// correlation misses are absorbed and retried on the next tick; only a
// terminal status or the timeout boundary ends the loop.
type Poller struct {
	finder     domain.RunFinder
	onProgress ProgressFunc
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New creates a poller over the given run finder. onProgress may be nil.
func New(finder domain.RunFinder, onProgress ProgressFunc, logger *slog.Logger) *Poller {
	return &Poller{
		finder:     finder,
		onProgress: onProgress,
		logger:     logger.With("component", "status-poller"),
		tracer:     otel.Tracer("render-dispatch-poller"),
	}
}

// Poll repeatedly correlates and fetches the run status until a terminal
// state or the timeout budget is reached. A timed-out result is explicitly
// distinct from a failed one: the remote job may still be running and the
// caller decides whether to keep checking later. Cancellation is honored
// within one tick.
func (p *Poller) Poll(ctx context.Context, token string, dispatchedAt time.Time, interval, timeout time.Duration) (*domain.PollResult, error) {
	ctx, span := p.tracer.Start(ctx, "poller.Poll",
		trace.WithAttributes(
			attribute.String("token", token),
			attribute.String("interval", interval.String()),
			attribute.String("timeout", timeout.String()),
		))
	defer span.End()

	deadline := time.Now().Add(timeout)
	var last *domain.RemoteRun
	lastStatus := domain.RunStatus("")

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		metrics.PollAttemptsTotal.Inc()
		run, err := p.finder.Find(ctx, token, dispatchedAt)
		switch {
		case err != nil:
			// transient: network failure or a non-200 listing. Retried on
			// the next tick, still counts toward the timeout budget.
			metrics.TransientFetchErrors.Inc()
			p.logger.Warn("status fetch failed, will retry", "attempt", attempt, "error", err)
		case run == nil:
			p.logger.Debug("no matching run yet", "attempt", attempt, "token", token)
		default:
			last = run
			if run.Status != lastStatus {
				lastStatus = run.Status
				p.logger.Info("run status observed",
					"run_id", run.ID,
					"status", string(run.Status),
					"attempt", attempt,
				)
				if p.onProgress != nil {
					p.onProgress(run)
				}
			}
			if run.Terminal() {
				span.SetAttributes(attribute.String("conclusion", string(run.Conclusion)))
				return &domain.PollResult{Run: run}, nil
			}
		}

		if !time.Now().Before(deadline) {
			span.SetAttributes(attribute.Bool("timed_out", true))
			return &domain.PollResult{Run: last, TimedOut: true}, nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// re-check immediately after waking so a stop request is honored
		// within one tick even if it raced the timer
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			span.SetAttributes(attribute.Bool("timed_out", true))
			return &domain.PollResult{Run: last, TimedOut: true}, nil
		}
	}
}
