package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/elite/internal/utils"
	"github.com/sirupsen/logrus"
)

const DefaultTelegramURL = "https://api.telegram.org"

// Telegram caps message text at 4096 characters.
const maxMessageLen = 4096

type TelegramNotifier struct {
	Token   string
	ChatID  string
	BaseURL string
	Retry   utils.RetryPolicy

	client *http.Client
	log    *logrus.Entry
}

func NewTelegramNotifier(token, chatID string, logger *logrus.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		BaseURL: DefaultTelegramURL,
		Retry:   utils.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger.WithField("component", "telegram"),
	}
}

func (t *TelegramNotifier) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(t.BaseURL, "/"), t.Token, method)
}

func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen]
	}
	form := url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req)
}

// SendDocument uploads content as a file attachment.
func (t *TelegramNotifier) SendDocument(ctx context.Context, filename string, content []byte, caption string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", t.ChatID); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendDocument"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

func (t *TelegramNotifier) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

// StatusError is a non-200 answer from the Bot API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telegram send failed: status %d: %s", e.Code, e.Body)
}

func (t *TelegramNotifier) SendWithRetry(ctx context.Context, message string) error {
	return t.retry(ctx, func() error { return t.Send(ctx, message) })
}

// RetryWithNotification runs action under the retry policy and reports the
// final failure to the chat.
func (t *TelegramNotifier) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	err := t.retry(ctx, action)
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s failed after %d attempts: %v", description, t.attempts(), err)
	if sendErr := t.Send(ctx, msg); sendErr != nil {
		t.log.WithError(sendErr).Warn("failed to report failure")
	}
	return err
}

func (t *TelegramNotifier) attempts() int {
	if t.Retry.MaxAttempts <= 0 {
		return 1
	}
	return t.Retry.MaxAttempts
}

func (t *TelegramNotifier) retry(ctx context.Context, action func() error) error {
	var err error
	for attempt := 0; attempt < t.attempts(); attempt++ {
		if attempt > 0 {
			if waitErr := t.Retry.Wait(ctx, attempt-1); waitErr != nil {
				return waitErr
			}
		}
		if err = action(); err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !utils.IsRetryableHTTPStatus(se.Code) {
			return err
		}
		t.log.WithFields(logrus.Fields{"attempt": attempt + 1, "max": t.attempts()}).WithError(err).Warn("telegram call failed")
	}
	return err
}
