// internal/credentials/rotator.go
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"render-dispatch/internal/domain"
	"render-dispatch/internal/metrics"
)

// Rotator hands out one API key per call, distributing load evenly across
// a service's key pool. Pools are loaded lazily from `<dir>/<service>.keys`
// (newline-delimited, blank lines and `#` comments skipped) with a
// single-key environment fallback, then memoized until ClearCache.
//
// The rotation cursor is shared mutable state: read-then-advance happens
// as one step under the mutex so concurrent callers never receive the same
// key or skip one.
type Rotator struct {
	dir    string
	logger *slog.Logger
	http   *http.Client

	mu    sync.Mutex
	pools map[string]*pool
}

type pool struct {
	keys []string
	next int
}

// NewRotator creates a rotator backed by the given credentials directory.
func NewRotator(dir string, logger *slog.Logger) *Rotator {
	return &Rotator{
		dir:    dir,
		logger: logger.With("component", "credential-rotator"),
		http:   &http.Client{Timeout: 10 * time.Second},
		pools:  make(map[string]*pool),
	}
}

// Next returns the key at the current cursor and advances the cursor by
// one, wrapping modulo the pool size. It returns domain.ErrNoCredentials
// when the pool is empty after both load paths were tried.
func (r *Rotator) Next(service string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.poolLocked(service)
	if err != nil {
		return "", err
	}

	key := p.keys[p.next]
	p.next = (p.next + 1) % len(p.keys)
	metrics.CredentialHandouts.WithLabelValues(service).Inc()
	return key, nil
}

// All returns a copy of the key pool without advancing the cursor.
func (r *Rotator) All(service string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.poolLocked(service)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out, nil
}

// Count returns the pool size for a service, 0 when no keys can be loaded.
func (r *Rotator) Count(service string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.poolLocked(service)
	if err != nil {
		return 0
	}
	return len(p.keys)
}

// Has reports whether at least one key is available for the service.
func (r *Rotator) Has(service string) bool {
	return r.Count(service) > 0
}

// ClearCache drops all memoized pools so the next call re-loads from the
// backing source. Rotation cursors reset with the pools.
func (r *Rotator) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = make(map[string]*pool)
}

// KeyStatus is the result of probing one key against a live endpoint.
type KeyStatus struct {
	Index int
	Live  bool
}

// Validate probes every key in the service pool against the given endpoint
// using bearer auth. It is read-only with respect to the pool: dead keys
// are reported, not removed.
func (r *Rotator) Validate(ctx context.Context, service, probeURL string) ([]KeyStatus, error) {
	keys, err := r.All(service)
	if err != nil {
		return nil, err
	}

	statuses := make([]KeyStatus, 0, len(keys))
	for i, key := range keys {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create probe request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+key)

		res, err := r.http.Do(req)
		live := false
		if err == nil {
			live = res.StatusCode >= 200 && res.StatusCode < 300
			res.Body.Close()
		}
		if !live {
			r.logger.Warn("credential failed live validation", "service", service, "index", i)
		}
		statuses = append(statuses, KeyStatus{Index: i, Live: live})
	}
	return statuses, nil
}

// poolLocked returns the memoized pool for a service, loading it on first
// access. Callers must hold r.mu.
func (r *Rotator) poolLocked(service string) (*pool, error) {
	if p, ok := r.pools[service]; ok {
		return p, nil
	}

	keys, err := r.loadFile(service)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		keys = loadEnv(service)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("service %q: %w", service, domain.ErrNoCredentials)
	}

	p := &pool{keys: keys}
	r.pools[service] = p
	metrics.CredentialPoolSize.WithLabelValues(service).Set(float64(len(keys)))
	r.logger.Info("credential pool loaded", "service", service, "keys", len(keys))
	return p, nil
}

// loadFile reads `<dir>/<service>.keys`. A missing file is not an error;
// it just means the env fallback is next.
func (r *Rotator) loadFile(service string) ([]string, error) {
	path := filepath.Join(r.dir, service+".keys")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, nil
}

// loadEnv synthesizes a single-key pool from `<SERVICE>_TOKEN`.
func loadEnv(service string) []string {
	name := strings.ToUpper(strings.ReplaceAll(service, "-", "_")) + "_TOKEN"
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return []string{v}
	}
	return nil
}
