package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const VenueFile = "file"

// File drops scripts into a local directory watched by another process.
type File struct {
	Dir string
}

func (f File) Deploy(ctx context.Context, source, dialect string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DeploymentError{Venue: VenueFile, Err: err}
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, &DeploymentError{Venue: VenueFile, Err: fmt.Errorf("failed to create %s: %w", f.Dir, err)}
	}

	r := newReceipt(VenueFile, source, dialect)
	path := filepath.Join(f.Dir, FileName(r.ID, dialect))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(source), 0o644); err != nil {
		return nil, &DeploymentError{Venue: VenueFile, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, &DeploymentError{Venue: VenueFile, Err: err}
	}
	r.Location = path
	return r, nil
}
