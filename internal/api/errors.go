package api

import (
	"errors"
	"net/http"

	"github.com/amirphl/elite/internal/backtest"
	"github.com/amirphl/elite/internal/db"
	"github.com/amirphl/elite/internal/deploy"
	"github.com/amirphl/elite/internal/emit"
	"github.com/amirphl/elite/internal/extract"
	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/service"
	"github.com/amirphl/elite/internal/strategy"
	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// fail maps a pipeline error to a status and a body carrying the position of
// the failure, when the error has one.
func (h *Handler) fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	status := http.StatusInternalServerError

	var (
		xErr   *extract.ExtractionError
		vErr   *strategy.ValidationError
		eErr   *emit.EmissionError
		sErr   *backtest.SimulationError
		iErr   *indicator.UnknownIndicatorError
		dErr   *deploy.DeploymentError
		reqErr *service.RequestError
	)
	switch {
	case errors.As(err, &xErr):
		status = http.StatusUnprocessableEntity
		body["reason"] = xErr.Reason
		body["span"] = xErr.Span
	case errors.As(err, &eErr):
		status = http.StatusUnprocessableEntity
		body["dialect"] = eErr.Dialect
		body["rule"] = eErr.Rule
	case errors.As(err, &vErr):
		status = http.StatusUnprocessableEntity
		body["rule"] = vErr.Rule
	case errors.As(err, &sErr):
		status = http.StatusUnprocessableEntity
		body["bar"] = sErr.Bar
	case errors.As(err, &iErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &dErr):
		status = http.StatusBadGateway
		body["venue"] = dErr.Venue
		if dErr.Status != 0 {
			body["venue_status"] = dErr.Status
		}
	case errors.As(err, &reqErr):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoDeployer), errors.Is(err, service.ErrNoFeed):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.JSON(status, body)
}
