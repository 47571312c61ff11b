// internal/usecase/dispatch_service.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"render-dispatch/internal/domain"
	"render-dispatch/internal/metrics"
)

// DispatchInput is what a caller provides for one dispatch attempt.
type DispatchInput struct {
	Workflow string            `validate:"required"`
	Ref      string            `validate:"required"`
	Inputs   map[string]string `validate:"-"`
	Watch    bool              `validate:"-"`
}

// Options tunes the orchestrated attempt.
type Options struct {
	TokenPrefix  string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DispatchService sequences dispatch, poll and post-success delivery, and
// translates component errors into a single reported outcome. One instance
// handles one logical flow per Run call; no state is shared between calls
// beyond the collaborators themselves.
type DispatchService struct {
	dispatcher domain.WorkflowDispatcher
	poller     domain.StatusPoller
	notifier   domain.ArtifactNotifier
	opts       Options
	validate   *validator.Validate
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewDispatchService creates the orchestrator.
func NewDispatchService(dispatcher domain.WorkflowDispatcher, poller domain.StatusPoller, notifier domain.ArtifactNotifier, opts Options, logger *slog.Logger) *DispatchService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Minute
	}
	return &DispatchService{
		dispatcher: dispatcher,
		poller:     poller,
		notifier:   notifier,
		opts:       opts,
		validate:   validator.New(),
		logger:     logger.With("component", "dispatch-service"),
		tracer:     otel.Tracer("render-dispatch-usecase"),
	}
}

// Run generates a correlation token, triggers the remote workflow and, when
// watching, polls it to a terminal state. Every fatal path attempts a
// best-effort failure notice before returning; a notice failure is logged
// and never overrides the original outcome.
func (s *DispatchService) Run(ctx context.Context, in DispatchInput) (*domain.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "service.Run",
		trace.WithAttributes(
			attribute.String("workflow", in.Workflow),
			attribute.Bool("watch", in.Watch),
		))
	defer span.End()

	if err := s.validate.Struct(in); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid dispatch input")
		return nil, fmt.Errorf("invalid dispatch input: %w", err)
	}

	token := domain.NewCorrelationToken(s.opts.TokenPrefix)
	span.SetAttributes(attribute.String("token", token))
	logger := s.logger.With("token", token)

	req := &domain.DispatchRequest{
		Workflow: in.Workflow,
		Ref:      in.Ref,
		Token:    token,
		Inputs:   in.Inputs,
	}

	dispatchedAt := time.Now()
	if err := s.dispatcher.Trigger(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		s.notifyFailure(ctx, token, err.Error())

		var derr *domain.DispatchError
		if errors.As(err, &derr) {
			return s.report(&domain.Outcome{
				Kind:   domain.OutcomeDispatchError,
				Token:  token,
				Reason: derr.Error(),
			}), nil
		}
		// non-HTTP failures (no credentials, network) propagate as errors
		return nil, err
	}

	if !in.Watch {
		logger.Info("workflow dispatched, not watching")
		return s.report(&domain.Outcome{Kind: domain.OutcomeDispatched, Token: token}), nil
	}

	res, err := s.poller.Poll(ctx, token, dispatchedAt, s.opts.PollInterval, s.opts.PollTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "polling aborted")
		s.notifyFailure(ctx, token, err.Error())
		return nil, err
	}

	if res.TimedOut {
		followUp := s.dispatcher.RunsPageURL()
		if res.Run != nil {
			followUp = res.Run.HTMLURL
		}
		logger.Warn("poll budget exhausted, remote job may still be running", "follow_up", followUp)
		return s.report(&domain.Outcome{
			Kind:        domain.OutcomeTimedOut,
			Token:       token,
			FollowUpURL: followUp,
		}), nil
	}

	run := res.Run
	span.SetAttributes(attribute.Int64("run.id", run.ID), attribute.String("conclusion", string(run.Conclusion)))

	if run.Conclusion == domain.ConclusionSuccess {
		artifact := run.Artifact
		if artifact == "" {
			artifact = run.HTMLURL
		}
		if err := s.notifier.SendArtifact(ctx, artifact, token); err != nil {
			logger.Warn("artifact delivery failed", "error", err)
		}
		logger.Info("run succeeded", "run_id", run.ID, "artifact", artifact)
		return s.report(&domain.Outcome{
			Kind:        domain.OutcomeSucceeded,
			Token:       token,
			ArtifactRef: artifact,
		}), nil
	}

	reason := fmt.Sprintf("run %d concluded %q", run.ID, run.Conclusion)
	s.notifyFailure(ctx, token, reason)
	logger.Error("run failed", "run_id", run.ID, "conclusion", string(run.Conclusion))
	return s.report(&domain.Outcome{
		Kind:        domain.OutcomeFailed,
		Token:       token,
		Reason:      reason,
		FollowUpURL: run.HTMLURL,
	}), nil
}

// notifyFailure is best-effort: delivery errors are logged, never returned.
func (s *DispatchService) notifyFailure(ctx context.Context, token, reason string) {
	if err := s.notifier.SendFailure(ctx, token, reason); err != nil {
		s.logger.Warn("failure notice delivery failed", "token", token, "error", err)
	}
}

func (s *DispatchService) report(o *domain.Outcome) *domain.Outcome {
	metrics.DispatchesTotal.WithLabelValues(string(o.Kind)).Inc()
	return o
}
