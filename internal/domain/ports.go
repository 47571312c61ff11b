// internal/domain/ports.go
package domain

import (
	"context"
	"time"
)

// WorkflowDispatcher submits the fire-and-forget dispatch call carrying the
// correlation token. No run handle is returned synchronously; that is the
// integration constraint the rest of the core exists to work around.
type WorkflowDispatcher interface {
	Trigger(ctx context.Context, req *DispatchRequest) error
	// RunsPageURL returns a human-facing URL for manual follow-up when no
	// individual run could be correlated.
	RunsPageURL() string
}

// RunFinder locates the remote run matching a dispatch attempt. A nil run
// with a nil error means no candidate matches yet; that is an expected
// outcome during the earliest polling iterations, not an error.
type RunFinder interface {
	Find(ctx context.Context, token string, dispatchedAt time.Time) (*RemoteRun, error)
}

// PollResult is what a poll loop ends with: either a terminal run snapshot
// or a timeout with the last snapshot observed (possibly nil).
type PollResult struct {
	Run      *RemoteRun
	TimedOut bool
}

// StatusPoller drives a bounded polling loop from dispatch to terminal
// state or timeout.
type StatusPoller interface {
	Poll(ctx context.Context, token string, dispatchedAt time.Time, interval, timeout time.Duration) (*PollResult, error)
}

// ArtifactNotifier is the delivery collaborator. Both calls are
// fire-and-forget from the core's perspective: a failure to notify must
// never mask the original outcome.
type ArtifactNotifier interface {
	SendArtifact(ctx context.Context, ref, label string) error
	SendFailure(ctx context.Context, label, reason string) error
}
