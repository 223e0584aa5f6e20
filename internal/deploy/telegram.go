package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/elite/internal/notifier"
)

const VenueTelegram = "telegram"

// Telegram sends the script as a document to an operator chat.
type Telegram struct {
	notifier notifier.Notifier
}

func NewTelegram(n notifier.Notifier) *Telegram {
	return &Telegram{notifier: n}
}

func (t *Telegram) Deploy(ctx context.Context, source, dialect string) (*Receipt, error) {
	r := newReceipt(VenueTelegram, source, dialect)
	caption := fmt.Sprintf("%s script %s (sha256 %s)", dialect, r.ID, r.Checksum[:12])
	if err := t.notifier.SendDocument(ctx, FileName(r.ID, dialect), []byte(source), caption); err != nil {
		de := &DeploymentError{Venue: VenueTelegram, Err: err}
		var se *notifier.StatusError
		if errors.As(err, &se) {
			de.Status = se.Code
		}
		return nil, de
	}
	return r, nil
}
