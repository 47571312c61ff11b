// internal/notify/telegram.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Service is the rotator pool name for the bot token.
const Service = "telegram"

// TokenSource serves the bot token; a single-key pool in practice.
type TokenSource interface {
	Next(service string) (string, error)
}

// Telegram delivers artifact references and failure notices to a chat.
// Delivery is fire-and-forget from the orchestrator's perspective: errors
// are returned for logging but must never mask the dispatch outcome.
type Telegram struct {
	base   string
	chatID string
	keys   TokenSource
	client *http.Client
	logger *slog.Logger
}

// NewTelegram creates a notifier for the given chat.
func NewTelegram(base, chatID string, keys TokenSource, logger *slog.Logger) *Telegram {
	return &Telegram{
		base:   base,
		chatID: chatID,
		keys:   keys,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("component", "telegram-notifier"),
	}
}

// SendArtifact announces a finished render with its artifact reference.
func (t *Telegram) SendArtifact(ctx context.Context, ref, label string) error {
	text := fmt.Sprintf("Render complete: %s\nCorrelation: %s", ref, label)
	return t.send(ctx, text)
}

// SendFailure announces a failed or aborted attempt.
func (t *Telegram) SendFailure(ctx context.Context, label, reason string) error {
	text := fmt.Sprintf("Render failed: %s\nCorrelation: %s", reason, label)
	return t.send(ctx, text)
}

func (t *Telegram) send(ctx context.Context, text string) error {
	token, err := t.keys.Next(Service)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.base, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("telegram returned %s: %s", res.Status, respBody)
	}

	t.logger.Info("notification delivered", "chat_id", t.chatID)
	return nil
}
