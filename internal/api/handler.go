// Package api exposes the pipeline over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amirphl/elite/internal/backtest"
	"github.com/amirphl/elite/internal/cache"
	"github.com/amirphl/elite/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const basePath = "/api/v1"

type Handler struct {
	router   *gin.Engine
	svc      *service.Service
	cache    cache.Cache
	cacheTTL time.Duration
	log      *logrus.Entry
}

// NewHandler builds the router. c may be nil to disable response caching.
func NewHandler(svc *service.Service, c cache.Cache, cacheTTL time.Duration, logger *logrus.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:   router,
		svc:      svc,
		cache:    c,
		cacheTTL: cacheTTL,
		log:      logger.WithField("component", "api"),
	}
	router.Use(h.requestLogger())
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := h.router.Group(basePath)
	{
		v1.POST("/compile", h.compile)
		v1.POST("/compile/all", h.compileAll)
		v1.GET("/compilations", h.listCompilations)
		v1.GET("/compilations/:id/backtests", h.listBacktests)
		v1.POST("/backtest", h.backtest)
		v1.POST("/deploy", h.deploy)
		v1.GET("/events", h.events)
	}

	cached := h.router.Group(basePath)
	if h.cache != nil {
		cached.Use(h.cacheMiddleware())
	}
	{
		cached.GET("/indicators", h.indicators)
		cached.GET("/dialects", h.dialects)
		cached.GET("/compilations/:id", h.getCompilation)
		cached.GET("/backtests/:id", h.getBacktest)
		cached.GET("/backtests/:id/pnl.csv", h.getBacktestCSV)
		cached.GET("/candles/synthetic", h.syntheticCandles)
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request served")
	}
}

type indicatorView struct {
	Name          string   `json:"name"`
	Aliases       []string `json:"aliases,omitempty"`
	Description   string   `json:"description"`
	DefaultPeriod int      `json:"default_period"`
	DefaultSource string   `json:"default_source,omitempty"`
	Dialects      []string `json:"dialects"`
}

func (h *Handler) indicators(c *gin.Context) {
	specs := h.svc.Indicators()
	out := make([]indicatorView, 0, len(specs))
	for _, s := range specs {
		v := indicatorView{
			Name:          s.Name,
			Aliases:       s.Aliases,
			Description:   s.Description,
			DefaultPeriod: s.DefaultPeriod,
			DefaultSource: s.DefaultSource,
			Dialects:      []string{},
		}
		for _, d := range h.svc.Dialects() {
			if h.svc.Supports(s.Name, d) {
				v.Dialects = append(v.Dialects, d)
			}
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) dialects(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Dialects())
}

type compileRequest struct {
	Logic   string `json:"logic" binding:"required"`
	Dialect string `json:"dialect"`
}

func (h *Handler) compile(c *gin.Context) {
	var req compileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	comp, err := h.svc.Compile(c.Request.Context(), req.Logic, req.Dialect)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

func (h *Handler) compileAll(c *gin.Context) {
	var req compileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	comps, err := h.svc.CompileAll(c.Request.Context(), req.Logic)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, comps)
}

func (h *Handler) listCompilations(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	comps, err := h.svc.Compilations(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, comps)
}

func (h *Handler) getCompilation(c *gin.Context) {
	comp, err := h.svc.Compilation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

func (h *Handler) listBacktests(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Compilation(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	runs, err := h.svc.BacktestRuns(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) backtest(c *gin.Context) {
	var req service.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.Backtest(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) getBacktest(c *gin.Context) {
	run, err := h.svc.BacktestRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getBacktestCSV(c *gin.Context) {
	run, err := h.svc.BacktestRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	if err := backtest.WritePnLCSV(c.Writer, run.PnL); err != nil {
		h.log.WithError(err).WithField("run_id", run.ID).Warn("failed to write pnl csv")
	}
}

func (h *Handler) syntheticCandles(c *gin.Context) {
	bars, err := intQuery(c, "bars", 0)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	var seed *int64
	if raw := c.Query("seed"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		seed = &v
	} else {
		// A fresh seed every call; the answer must not be replayed from cache.
		c.Header("Cache-Control", "no-store")
	}

	candles, used, err := h.svc.Synthetic(bars, seed, c.Query("timeframe"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seed": used, "candles": candles})
}

type deployRequest struct {
	CompilationID string `json:"compilation_id" binding:"required"`
}

func (h *Handler) deploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	receipt, err := h.svc.Deploy(c.Request.Context(), req.CompilationID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) events(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if raw := c.Query("from"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
	}
	events, err := h.svc.Events(c.Request.Context(), c.Query("type"), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &queryError{key: key, value: raw}
	}
	return v, nil
}

type queryError struct {
	key, value string
}

func (e *queryError) Error() string {
	return "invalid " + e.key + " query param " + strconv.Quote(e.value)
}
