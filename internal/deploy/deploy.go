// Package deploy ships compiled scripts to an execution venue.
package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Adapter submits a script. Implementations report failures as
// *DeploymentError.
type Adapter interface {
	Deploy(ctx context.Context, source, dialect string) (*Receipt, error)
}

// Receipt acknowledges a submitted script.
type Receipt struct {
	ID          string    `json:"id"`
	Venue       string    `json:"venue"`
	Dialect     string    `json:"dialect"`
	Checksum    string    `json:"checksum"`
	SubmittedAt time.Time `json:"submitted_at"`
	// Location is where the venue stored the script, when it says.
	Location string `json:"location,omitempty"`
}

// DeploymentError reports a rejected or failed submission. Status is the
// venue's status code, 0 when there was none.
type DeploymentError struct {
	Venue  string
	Status int
	Err    error
}

func (e *DeploymentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("deploy to %s failed with status %d: %v", e.Venue, e.Status, e.Err)
	}
	return fmt.Sprintf("deploy to %s failed: %v", e.Venue, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

func Checksum(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func newReceipt(venue, source, dialect string) *Receipt {
	return &Receipt{
		ID:          uuid.NewString(),
		Venue:       venue,
		Dialect:     dialect,
		Checksum:    Checksum(source),
		SubmittedAt: time.Now().UTC(),
	}
}

var extensions = map[string]string{
	"pine":   "pine",
	"python": "py",
}

// FileName is the name a script is shipped under.
func FileName(id, dialect string) string {
	ext, ok := extensions[dialect]
	if !ok {
		ext = "txt"
	}
	return id + "." + ext
}
