// internal/domain/outcome.go
package domain

// OutcomeKind classifies the end-to-end result of one dispatch attempt.
type OutcomeKind string

const (
	// OutcomeDispatched means the trigger was accepted but the run was not
	// observed (watch disabled).
	OutcomeDispatched OutcomeKind = "dispatched"
	// OutcomeSucceeded means the run completed with a success conclusion.
	OutcomeSucceeded OutcomeKind = "succeeded"
	// OutcomeFailed means the run completed with a failure conclusion.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeTimedOut means the poll budget ran out before a terminal
	// status was observed. The remote job may still be running; this is
	// deliberately distinct from OutcomeFailed.
	OutcomeTimedOut OutcomeKind = "timed_out"
	// OutcomeDispatchError means the remote platform rejected the trigger.
	OutcomeDispatchError OutcomeKind = "dispatch_error"
)

// Outcome is the single reported result of an orchestrated attempt.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Token       string      `json:"token"`
	ArtifactRef string      `json:"artifact_ref,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	FollowUpURL string      `json:"follow_up_url,omitempty"`
}
