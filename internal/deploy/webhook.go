package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amirphl/elite/internal/utils"
	"github.com/sirupsen/logrus"
)

const VenueWebhook = "webhook"

type WebhookConfig struct {
	URL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	Retry   utils.RetryPolicy
}

// Webhook POSTs scripts as JSON to an HTTP endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	log    *logrus.Entry
}

type webhookPayload struct {
	ID       string    `json:"id"`
	Dialect  string    `json:"dialect"`
	FileName string    `json:"file_name"`
	Checksum string    `json:"checksum"`
	Source   string    `json:"source"`
	SentAt   time.Time `json:"sent_at"`
}

func NewWebhook(cfg WebhookConfig, logger *logrus.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.WithField("component", "webhook_deploy"),
	}
}

func (w *Webhook) Deploy(ctx context.Context, source, dialect string) (*Receipt, error) {
	r := newReceipt(VenueWebhook, source, dialect)
	body, err := json.Marshal(webhookPayload{
		ID:       r.ID,
		Dialect:  dialect,
		FileName: FileName(r.ID, dialect),
		Checksum: r.Checksum,
		Source:   source,
		SentAt:   r.SubmittedAt,
	})
	if err != nil {
		return nil, &DeploymentError{Venue: VenueWebhook, Err: err}
	}

	var lastErr *DeploymentError
	for attempt := 0; attempt < w.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := w.cfg.Retry.Wait(ctx, attempt-1); err != nil {
				return nil, &DeploymentError{Venue: VenueWebhook, Err: err}
			}
		}

		status, location, err := w.post(ctx, body)
		if err == nil {
			r.Location = location
			w.log.WithFields(logrus.Fields{"id": r.ID, "dialect": dialect, "attempt": attempt + 1}).Info("script delivered")
			return r, nil
		}
		lastErr = &DeploymentError{Venue: VenueWebhook, Status: status, Err: err}
		if ctx.Err() != nil || (status != 0 && !utils.IsRetryableHTTPStatus(status)) {
			return nil, lastErr
		}
		w.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"max":     w.cfg.Retry.MaxAttempts,
			"status":  status,
		}).WithError(err).Warn("webhook delivery failed")
	}
	return nil, lastErr
}

func (w *Webhook) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, "", fmt.Errorf("venue rejected script: %s", bytes.TrimSpace(msg))
	}
	return resp.StatusCode, resp.Header.Get("Location"), nil
}
