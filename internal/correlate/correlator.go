// internal/correlate/correlator.go
package correlate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"render-dispatch/internal/domain"
)

// DispatchEvent is the event type the listing is filtered by.
const DispatchEvent = "workflow_dispatch"

// RunAPI is the slice of the workflow API the correlator needs.
type RunAPI interface {
	ListRecentRuns(ctx context.Context, event string, perPage int) ([]domain.RemoteRun, error)
	RunDetail(ctx context.Context, id int64) (*domain.RemoteRun, string, error)
}

// Correlator identifies, among a small page of recently created runs, the
// one matching a dispatch attempt. The listing endpoint does not echo the
// correlation token, so matching is best-effort: a token hit in the detail
// body wins; otherwise any run created after dispatchedAt minus a tolerance
// window is a candidate, and the one created closest to the dispatch time
// is chosen. The tolerance compensates for clock skew between the local
// dispatch call and the platform's recorded creation time.
type Correlator struct {
	api       RunAPI
	tolerance time.Duration
	perPage   int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewCorrelator creates a correlator over the given run API.
func NewCorrelator(api RunAPI, tolerance time.Duration, perPage int, logger *slog.Logger) *Correlator {
	if tolerance <= 0 {
		tolerance = 10 * time.Second
	}
	if perPage <= 0 {
		perPage = 8
	}
	return &Correlator{
		api:       api,
		tolerance: tolerance,
		perPage:   perPage,
		logger:    logger.With("component", "run-correlator"),
		tracer:    otel.Tracer("render-dispatch-correlator"),
	}
}

// Find returns the run matching the token, or nil when no candidate matches
// yet. A nil result is expected during the earliest polling iterations; the
// run simply has not appeared in the listing.
func (c *Correlator) Find(ctx context.Context, token string, dispatchedAt time.Time) (*domain.RemoteRun, error) {
	ctx, span := c.tracer.Start(ctx, "correlator.Find",
		trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	runs, err := c.api.ListRecentRuns(ctx, DispatchEvent, c.perPage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list recent runs")
		return nil, err
	}

	var tokenMatches, windowMatches []domain.RemoteRun
	cutoff := dispatchedAt.Add(-c.tolerance)

	for _, r := range runs {
		detail, raw, err := c.api.RunDetail(ctx, r.ID)
		if err != nil {
			// best-effort: a candidate we cannot inspect is skipped this
			// round and reconsidered on the next poll tick
			c.logger.Debug("run detail fetch failed, skipping candidate", "run_id", r.ID, "error", err)
			continue
		}
		if strings.Contains(raw, token) {
			tokenMatches = append(tokenMatches, *detail)
			continue
		}
		if detail.CreatedAt.After(cutoff) {
			windowMatches = append(windowMatches, *detail)
		}
	}

	candidates := tokenMatches
	if len(candidates) == 0 {
		candidates = windowMatches
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := closestTo(candidates, dispatchedAt)
	span.SetAttributes(
		attribute.Int64("run.id", best.ID),
		attribute.Bool("token_match", len(tokenMatches) > 0),
	)
	return best, nil
}

// closestTo picks the run whose creation timestamp is nearest the dispatch
// time. Candidates are never empty here.
func closestTo(runs []domain.RemoteRun, dispatchedAt time.Time) *domain.RemoteRun {
	best := 0
	bestDelta := absDelta(runs[0].CreatedAt, dispatchedAt)
	for i := 1; i < len(runs); i++ {
		if d := absDelta(runs[i].CreatedAt, dispatchedAt); d < bestDelta {
			best, bestDelta = i, d
		}
	}
	return &runs[best]
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
