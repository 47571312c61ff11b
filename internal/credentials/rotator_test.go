package credentials

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"render-dispatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeKeyFile(t *testing.T, dir, service, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, service+".keys"), []byte(content), 0o600))
}

func TestNextRoundRobinWraparound(t *testing.T) {
	tests := []struct {
		name string
		keys []string
	}{
		{"single key", []string{"k1"}},
		{"three keys", []string{"k1", "k2", "k3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			content := ""
			for _, k := range tt.keys {
				content += k + "\n"
			}
			writeKeyFile(t, dir, "github", content)
			r := NewRotator(dir, testLogger())

			// n calls return each key exactly once, in order
			for i, want := range tt.keys {
				got, err := r.Next("github")
				require.NoError(t, err)
				assert.Equal(t, want, got, "call %d", i+1)
			}

			// call n+1 wraps back to the first key
			got, err := r.Next("github")
			require.NoError(t, err)
			assert.Equal(t, tt.keys[0], got)
		})
	}
}

func TestNextEmptyPoolFails(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "") // a developer token must not leak into the test
	r := NewRotator(t.TempDir(), testLogger())

	_, err := r.Next("github")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestLoadFileSkipsBlanksAndComments(t *testing.T) {
	dir := t.TempDir()
	writeKeyFile(t, dir, "transcribe", "# primary account\nkey-a\n\n  \n# backup\nkey-b\n")
	r := NewRotator(dir, testLogger())

	keys, err := r.All("transcribe")
	require.NoError(t, err)
	assert.Equal(t, []string{"key-a", "key-b"}, keys)
}

func TestEnvFallbackSynthesizesSingleKeyPool(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-key")
	r := NewRotator(t.TempDir(), testLogger())

	assert.True(t, r.Has("github"))
	assert.Equal(t, 1, r.Count("github"))

	got, err := r.Next("github")
	require.NoError(t, err)
	assert.Equal(t, "env-key", got)
}

func TestReadOnlyAccessorsDoNotAdvanceCursor(t *testing.T) {
	dir := t.TempDir()
	writeKeyFile(t, dir, "github", "k1\nk2\n")
	r := NewRotator(dir, testLogger())

	_, err := r.All("github")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count("github"))
	assert.True(t, r.Has("github"))

	got, err := r.Next("github")
	require.NoError(t, err)
	assert.Equal(t, "k1", got)
}

func TestClearCacheForcesReload(t *testing.T) {
	dir := t.TempDir()
	writeKeyFile(t, dir, "github", "old\n")
	r := NewRotator(dir, testLogger())

	got, err := r.Next("github")
	require.NoError(t, err)
	assert.Equal(t, "old", got)

	writeKeyFile(t, dir, "github", "new\n")

	// still memoized
	got, err = r.Next("github")
	require.NoError(t, err)
	assert.Equal(t, "old", got)

	r.ClearCache()

	got, err = r.Next("github")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestNextConcurrentCallersShareCursor(t *testing.T) {
	dir := t.TempDir()
	writeKeyFile(t, dir, "github", "k1\nk2\nk3\n")
	r := NewRotator(dir, testLogger())

	const rounds = 40 // 40 goroutines * 3 calls = 40 full rotations
	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup

	for i := 0; i < rounds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				key, err := r.Next("github")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[key]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// even distribution: every key handed out exactly `rounds` times
	require.Len(t, counts, 3)
	for key, n := range counts {
		assert.Equal(t, rounds, n, "key %s", key)
	}
}

func TestValidateProbesEachKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") == "Bearer good" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeKeyFile(t, dir, "github", "good\nrevoked\n")
	r := NewRotator(dir, testLogger())

	statuses, err := r.Validate(context.Background(), "github", srv.URL)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Live)
	assert.False(t, statuses[1].Live)

	// validation must not touch the rotation cursor
	got, err := r.Next("github")
	require.NoError(t, err)
	assert.Equal(t, "good", got)
}
