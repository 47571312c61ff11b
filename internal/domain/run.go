// internal/domain/run.go
package domain

import "time"

// RunStatus is the remote platform's declared status for a workflow run.
// The poller never infers a transition locally; it reports whatever the
// platform declares in the latest snapshot.
type RunStatus string

const (
	RunStatusUnknown    RunStatus = "unknown"
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// Conclusion is the terminal verdict of a run. It is only meaningful when
// the status is RunStatusCompleted.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
	ConclusionNone    Conclusion = ""
)

// NormalizeStatus maps a raw platform status string onto RunStatus.
// Anything the platform reports outside the known set (e.g. "waiting",
// "requested") is treated as unknown rather than guessed at.
func NormalizeStatus(s string) RunStatus {
	switch RunStatus(s) {
	case RunStatusQueued, RunStatusInProgress, RunStatusCompleted:
		return RunStatus(s)
	default:
		return RunStatusUnknown
	}
}

// RemoteRun is a read-only snapshot of a workflow run owned by the remote
// platform. The core never mutates it.
type RemoteRun struct {
	ID         int64      `json:"id"`
	Event      string     `json:"event"`
	Status     RunStatus  `json:"status"`
	Conclusion Conclusion `json:"conclusion"`
	CreatedAt  time.Time  `json:"created_at"`
	HTMLURL    string     `json:"html_url"`
	Artifact   string     `json:"artifact,omitempty"`
}

// Terminal reports whether the run has reached a state after which no
// further transitions occur.
func (r *RemoteRun) Terminal() bool {
	return r.Status == RunStatusCompleted
}
