// internal/infra/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"render-dispatch/internal/domain"
)

// Service is the rotator pool name for workflow API credentials.
const Service = "github"

// maxBodyBytes bounds how much of a response body is read for error
// reporting and token matching.
const maxBodyBytes = 1 << 20

// TokenSource serves one API key per call, rotating across a pool.
type TokenSource interface {
	Next(service string) (string, error)
}

// Options configures the workflow API client.
type Options struct {
	BaseURL       string
	Owner         string
	Repo          string
	TokenInputKey string
	Timeout       time.Duration
}

// Client talks to a GitHub Actions-shaped workflow API: dispatch, run
// listing and run detail. Every outbound call authenticates with a key
// taken from the rotator, so repeated polling spreads load across the pool.
type Client struct {
	base     string
	owner    string
	repo     string
	inputKey string
	keys     TokenSource
	client   *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewClient creates a workflow API client.
func NewClient(opts Options, keys TokenSource, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	inputKey := opts.TokenInputKey
	if inputKey == "" {
		inputKey = "correlation_id"
	}
	return &Client{
		base:     opts.BaseURL,
		owner:    opts.Owner,
		repo:     opts.Repo,
		inputKey: inputKey,
		keys:     keys,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "workflow-api"),
		tracer:   otel.Tracer("render-dispatch-workflow-api"),
	}
}

// Trigger submits the fire-and-forget dispatch request with the correlation
// token embedded in the workflow inputs. The platform returns no run handle;
// a non-success status becomes a domain.DispatchError. No retry here —
// a duplicate dispatch creates a duplicate remote job, so retrying is the
// orchestrator's deliberate decision, never this layer's.
func (c *Client) Trigger(ctx context.Context, req *domain.DispatchRequest) error {
	ctx, span := c.tracer.Start(ctx, "workflowapi.Trigger",
		trace.WithAttributes(
			attribute.String("workflow", req.Workflow),
			attribute.String("ref", req.Ref),
		))
	defer span.End()

	inputs := make(map[string]string, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	inputs[c.inputKey] = req.Token

	body, err := json.Marshal(map[string]any{
		"ref":    req.Ref,
		"inputs": inputs,
	})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch body: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches", c.base, c.owner, c.repo, req.Workflow)
	res, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch request failed")
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		derr := &domain.DispatchError{Status: res.StatusCode, Body: string(respBody)}
		span.RecordError(derr)
		span.SetStatus(codes.Error, "dispatch rejected")
		return derr
	}

	c.logger.Info("workflow dispatched", "workflow", req.Workflow, "ref", req.Ref, "token", req.Token)
	return nil
}

// ListRecentRuns fetches the most recent runs filtered by event type,
// most-recent-first, as the platform returns them.
func (c *Client) ListRecentRuns(ctx context.Context, event string, perPage int) ([]domain.RemoteRun, error) {
	ctx, span := c.tracer.Start(ctx, "workflowapi.ListRecentRuns",
		trace.WithAttributes(attribute.String("event", event), attribute.Int("per_page", perPage)))
	defer span.End()

	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs?event=%s&per_page=%d", c.base, c.owner, c.repo, event, perPage)
	res, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run listing failed")
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("run listing returned %s", res.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "run listing failed")
		return nil, err
	}

	var p struct {
		WorkflowRuns []struct {
			ID         int64     `json:"id"`
			Event      string    `json:"event"`
			Status     string    `json:"status"`
			Conclusion string    `json:"conclusion"`
			CreatedAt  time.Time `json:"created_at"`
			HTMLURL    string    `json:"html_url"`
		} `json:"workflow_runs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode run listing: %w", err)
	}

	runs := make([]domain.RemoteRun, 0, len(p.WorkflowRuns))
	for _, r := range p.WorkflowRuns {
		runs = append(runs, domain.RemoteRun{
			ID:         r.ID,
			Event:      r.Event,
			Status:     domain.NormalizeStatus(r.Status),
			Conclusion: domain.Conclusion(r.Conclusion),
			CreatedAt:  r.CreatedAt,
			HTMLURL:    r.HTMLURL,
		})
	}
	return runs, nil
}

// RunDetail fetches the full record for one run. The raw body is returned
// alongside the parsed snapshot because, platform-dependent, the detail
// response may echo the submitted dispatch inputs; the correlator matches
// the token against it.
func (c *Client) RunDetail(ctx context.Context, id int64) (*domain.RemoteRun, string, error) {
	ctx, span := c.tracer.Start(ctx, "workflowapi.RunDetail",
		trace.WithAttributes(attribute.Int64("run.id", id)))
	defer span.End()

	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d", c.base, c.owner, c.repo, id)
	res, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run detail fetch failed")
		return nil, "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("run detail returned %s", res.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "run detail fetch failed")
		return nil, "", err
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read run detail: %w", err)
	}

	var p struct {
		ID           int64     `json:"id"`
		Event        string    `json:"event"`
		Status       string    `json:"status"`
		Conclusion   string    `json:"conclusion"`
		CreatedAt    time.Time `json:"created_at"`
		HTMLURL      string    `json:"html_url"`
		ArtifactName string    `json:"artifact_name"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, "", fmt.Errorf("failed to decode run detail: %w", err)
	}

	run := &domain.RemoteRun{
		ID:         p.ID,
		Event:      p.Event,
		Status:     domain.NormalizeStatus(p.Status),
		Conclusion: domain.Conclusion(p.Conclusion),
		CreatedAt:  p.CreatedAt,
		HTMLURL:    p.HTMLURL,
		Artifact:   p.ArtifactName,
	}
	return run, string(raw), nil
}

// RunsPageURL returns the runs listing location for manual follow-up when
// no individual run could be correlated.
func (c *Client) RunsPageURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/actions/runs", c.base, c.owner, c.repo)
}

// do issues a single authenticated request. Each call takes the next key
// from the rotator so per-key rate limits are spread across the pool.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	key, err := c.keys.Next(Service)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}
