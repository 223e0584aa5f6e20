package service

import (
	"context"
	"errors"

	"github.com/amirphl/elite/internal/deploy"
	"github.com/amirphl/elite/internal/journal"
	"github.com/sirupsen/logrus"
)

// Deploy submits a stored compilation. Adapter errors are journaled and
// returned unchanged; retrying is left to the caller.
func (s *Service) Deploy(ctx context.Context, compilationID string) (*deploy.Receipt, error) {
	if s.deployer == nil {
		return nil, ErrNoDeployer
	}
	c, err := s.store.GetCompilation(ctx, compilationID)
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{"compilation_id": c.ID, "dialect": c.Dialect}
	receipt, err := s.deployer.Deploy(ctx, c.Script, c.Dialect)
	if err != nil {
		data := map[string]any{"compilation_id": c.ID, "dialect": c.Dialect, "error": err.Error()}
		var de *deploy.DeploymentError
		if errors.As(err, &de) {
			data["venue"] = de.Venue
			data["status"] = de.Status
		}
		s.log.WithFields(fields).WithError(err).Error("deployment failed")
		s.journal(ctx, journal.TypeDeployFailed, "deployment failed", data)
		return nil, err
	}

	s.log.WithFields(fields).WithFields(logrus.Fields{"receipt": receipt.ID, "venue": receipt.Venue}).Info("strategy deployed")
	s.journal(ctx, journal.TypeDeployed, "deployed to "+receipt.Venue, map[string]any{
		"compilation_id": c.ID,
		"receipt_id":     receipt.ID,
		"venue":          receipt.Venue,
		"checksum":       receipt.Checksum,
	})
	return receipt, nil
}
