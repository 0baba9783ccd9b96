// Package notify delivers overdue digests to whoever watches them. Delivery
// is best effort; the schedule engine never waits on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"duewatch/internal/overdue"
)

// Digest is one evaluation pass as sent to a notifier.
type Digest struct {
	UserID      string         `json:"user_id,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Result      overdue.Result `json:"result"`
}

type Notifier interface {
	Notify(ctx context.Context, d Digest) error
}

// Log writes a one-line summary of the digest.
type Log struct{}

func (Log) Notify(_ context.Context, d Digest) error {
	log.Info().
		Str("user_id", d.UserID).
		Int("overdue_today", d.Result.Stats.OverdueToday).
		Int("past_due", d.Result.Stats.PastDue).
		Int("total_overdue", d.Result.Stats.TotalOverdue).
		Msg("overdue digest")
	return nil
}

// Webhook POSTs the digest as JSON.
type Webhook struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

func (h Webhook) Notify(ctx context.Context, d Digest) error {
	if h.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}

	client := h.Client
	if client == nil {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
