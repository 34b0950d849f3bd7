package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

// Announcement summarises a completed settlement for external consumers.
type Announcement struct {
	DrawID         string    `json:"draw_id"`
	WinningNumbers []int     `json:"winning_numbers"`
	Powerball      int       `json:"powerball"`
	WinnerCount    int       `json:"winner_count"`
	TotalDisbursed float64   `json:"total_disbursed"`
	SettledAt      time.Time `json:"settled_at"`
}

// Announcer receives settlement summaries. Delivery is best-effort; the
// controller logs failures and moves on.
type Announcer interface {
	Announce(ctx context.Context, ann Announcement) error
}

// WebhookAnnouncer posts announcements as JSON to a configured endpoint.
type WebhookAnnouncer struct {
	url    string
	token  string
	client *http.Client
	log    *logger.Logger
}

// NewWebhookAnnouncer builds an announcer for the given endpoint. An empty
// token sends no Authorization header.
func NewWebhookAnnouncer(url, token string, log *logger.Logger) *WebhookAnnouncer {
	if log == nil {
		log = logger.NewDefault("announcer")
	}
	return &WebhookAnnouncer{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

var _ Announcer = (*WebhookAnnouncer)(nil)

func (a *WebhookAnnouncer) Announce(ctx context.Context, ann Announcement) error {
	if a.url == "" {
		return nil
	}
	body, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build announcement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post announcement: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("announcement endpoint returned %s", resp.Status)
	}
	a.log.WithField("draw_id", ann.DrawID).Debugf("announcement delivered")
	return nil
}
