// internal/domain/dispatch.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DispatchRequest describes a single fire-and-forget workflow dispatch.
// Immutable once submitted.
type DispatchRequest struct {
	Workflow string            `json:"workflow"`
	Ref      string            `json:"ref"`
	Token    string            `json:"token"`
	Inputs   map[string]string `json:"inputs,omitempty"`
}

// Validate checks if the dispatch request is complete.
func (r *DispatchRequest) Validate() error {
	if r.Workflow == "" {
		return fmt.Errorf("workflow identifier cannot be empty")
	}
	if r.Ref == "" {
		return fmt.Errorf("ref cannot be empty")
	}
	if r.Token == "" {
		return fmt.Errorf("correlation token cannot be empty")
	}
	return nil
}

// DispatchError is returned when the remote platform rejects the trigger
// call. It is fatal: retrying a dispatch creates a duplicate remote job, so
// retry policy lives with the caller, never here.
type DispatchError struct {
	Status int
	Body   string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("workflow dispatch rejected: http %d: %s", e.Status, e.Body)
}

// NewCorrelationToken generates a token unique per dispatch attempt. The
// token is created locally before any remote state exists and is later used
// to re-identify the resulting run.
func NewCorrelationToken(prefix string) string {
	if prefix == "" {
		prefix = "render"
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
