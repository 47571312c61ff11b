package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCorrelationTokenUniquePerAttempt(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewCorrelationToken("render")
		assert.True(t, strings.HasPrefix(tok, "render-"))
		require.False(t, seen[tok], "token %q reused", tok)
		seen[tok] = true
	}
}

func TestNewCorrelationTokenDefaultPrefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewCorrelationToken(""), "render-"))
	assert.True(t, strings.HasPrefix(NewCorrelationToken("clip"), "clip-"))
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want RunStatus
	}{
		{"queued", RunStatusQueued},
		{"in_progress", RunStatusInProgress},
		{"completed", RunStatusCompleted},
		{"waiting", RunStatusUnknown},
		{"requested", RunStatusUnknown},
		{"", RunStatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.raw), "raw %q", tt.raw)
	}
}

func TestRemoteRunTerminal(t *testing.T) {
	assert.False(t, (&RemoteRun{Status: RunStatusInProgress}).Terminal())
	assert.False(t, (&RemoteRun{Status: RunStatusUnknown}).Terminal())
	assert.True(t, (&RemoteRun{Status: RunStatusCompleted}).Terminal())
}

func TestDispatchRequestValidate(t *testing.T) {
	ok := &DispatchRequest{Workflow: "render.yml", Ref: "main", Token: "t"}
	require.NoError(t, ok.Validate())

	assert.Error(t, (&DispatchRequest{Ref: "main", Token: "t"}).Validate())
	assert.Error(t, (&DispatchRequest{Workflow: "w", Token: "t"}).Validate())
	assert.Error(t, (&DispatchRequest{Workflow: "w", Ref: "main"}).Validate())
}
