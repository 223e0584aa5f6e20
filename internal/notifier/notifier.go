// Package notifier
package notifier

import "context"

// Notifier sends human readable messages and files to an operator channel.
type Notifier interface {
	Send(ctx context.Context, msg string) error
	SendDocument(ctx context.Context, filename string, content []byte, caption string) error
	SendWithRetry(ctx context.Context, msg string) error
	RetryWithNotification(ctx context.Context, action func() error, description string) error
}
