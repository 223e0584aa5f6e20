package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/amirphl/elite/internal/api"
	"github.com/amirphl/elite/internal/backtest"
	"github.com/amirphl/elite/internal/cache"
	"github.com/amirphl/elite/internal/config"
	"github.com/amirphl/elite/internal/db"
	"github.com/amirphl/elite/internal/db/conf"
	"github.com/amirphl/elite/internal/deploy"
	"github.com/amirphl/elite/internal/feed"
	"github.com/amirphl/elite/internal/notifier"
	"github.com/amirphl/elite/internal/service"
	"github.com/amirphl/elite/internal/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const dialectAll = "all"

func main() {
	cfg := config.MustLoadConfig()
	if err := utils.ConfigureLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		utils.GetLogger().Fatalf("Failed to configure logger: %v", err)
	}
	logger := utils.GetLogger()
	logger.WithField("mode", cfg.Mode).Info("starting elite")

	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.RunMigration {
		if err := runMigrations(ctx, cfg.DBConnStr); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	deployer, err := newDeployer(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to set up deployment: %v", err)
	}

	candleFeed, err := newFeed(cfg, redisClient, logger)
	if err != nil {
		logger.Fatalf("Failed to set up market data feed: %v", err)
	}

	svc := service.New(service.Config{
		DefaultDialect: cfg.Dialect,
		DefaultBars:    cfg.Bars,
		MaxBars:        cfg.MaxBars,
		Timeframe:      cfg.Timeframe,
	}, service.Deps{
		Store:    store,
		Deployer: deployer,
		Feed:     candleFeed,
		Logger:   logger,
	})

	switch cfg.Mode {
	case config.ModeIndicators:
		err = runIndicators(svc, os.Stdout)
	case config.ModeCompile:
		err = runCompile(ctx, svc, cfg, os.Stdout)
	case config.ModeBacktest:
		err = runBacktest(ctx, svc, cfg, os.Stdout, logger)
	case config.ModeDeploy:
		err = runDeploy(ctx, svc, cfg, os.Stdout)
	case config.ModeServe:
		var c cache.Cache
		if redisClient != nil {
			c = cache.NewRedis(redisClient)
		} else {
			c = cache.NewMemory()
		}
		err = runServer(ctx, cfg.HTTPAddr, api.NewHandler(svc, c, cfg.CacheTTL, logger), logger)
	}
	if err != nil {
		logger.Fatalf("%s failed: %v", cfg.Mode, err)
	}
}

// openStorage returns Postgres storage when a connection string is set and
// in-memory storage otherwise.
func openStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		logger.Info("no database configured, keeping state in memory")
		return db.NewMemory(), nil
	}
	dbConfig, err := conf.Open(ctx, cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, err
	}
	store, err := db.New(dbConfig)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to Postgres")
	return store, nil
}

func newDeployer(cfg config.Config, logger *logrus.Logger) (deploy.Adapter, error) {
	retry := utils.RetryPolicy{
		MaxAttempts: cfg.DeployRetries,
		BaseDelay:   cfg.DeployDelay,
		MaxDelay:    10 * cfg.DeployDelay,
	}
	switch cfg.DeployTarget {
	case config.DeployWebhook:
		return deploy.NewWebhook(deploy.WebhookConfig{
			URL:   cfg.DeployWebhookURL,
			Token: cfg.DeployWebhookToken,
			Retry: retry,
		}, logger), nil
	case config.DeployTelegram:
		n := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		n.Retry = retry
		return deploy.NewTelegram(n), nil
	case config.DeployFile:
		return deploy.File{Dir: cfg.DeployDir}, nil
	case config.DeployNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown deploy target %q", cfg.DeployTarget)
}

// newFeed wires the kline API, cached in Redis when a client is given.
func newFeed(cfg config.Config, redisClient *redis.Client, logger *logrus.Logger) (feed.Feed, error) {
	if cfg.CandlesCSV != "" {
		return feed.CSVFile{Path: cfg.CandlesCSV}, nil
	}
	retry := utils.RetryPolicy{
		MaxAttempts: cfg.FeedRetries,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}

	var f feed.Feed
	switch cfg.Feed {
	case config.FeedWallex:
		f = feed.NewWallex(feed.WallexConfig{APIKey: cfg.WallexAPIKey, Retry: retry}, logger)
	default:
		b, err := feed.NewBinance(feed.BinanceConfig{
			BaseURL:  cfg.FeedURL,
			ProxyURL: cfg.ProxyURL,
			Retry:    retry,
		}, logger)
		if err != nil {
			return nil, err
		}
		f = b
	}
	if redisClient == nil {
		return f, nil
	}
	return feed.NewCached(f, cache.NewRedis(redisClient), cfg.CacheTTL, logger), nil
}

func runIndicators(svc *service.Service, out io.Writer) error {
	for _, spec := range svc.Indicators() {
		var dialects []string
		for _, d := range svc.Dialects() {
			if svc.Supports(spec.Name, d) {
				dialects = append(dialects, d)
			}
		}
		if _, err := fmt.Fprintf(out, "%-12s %s\n", spec.Name, strings.Join(dialects, ",")); err != nil {
			return err
		}
	}
	return nil
}

// readLogic returns the description from -logic, or from -logic-file where
// "-" reads stdin.
func readLogic(cfg config.Config) (string, error) {
	if cfg.Logic != "" {
		return cfg.Logic, nil
	}
	switch cfg.LogicFile {
	case "":
		return "", errors.New("no strategy description: set -logic or -logic-file")
	case "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(cfg.LogicFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", cfg.LogicFile, err)
		}
		return string(b), nil
	}
}

func runCompile(ctx context.Context, svc *service.Service, cfg config.Config, out io.Writer) error {
	logic, err := readLogic(cfg)
	if err != nil {
		return err
	}

	var compilations []db.Compilation
	if cfg.Dialect == dialectAll {
		compilations, err = svc.CompileAll(ctx, logic)
	} else {
		var c *db.Compilation
		c, err = svc.Compile(ctx, logic, cfg.Dialect)
		if c != nil {
			compilations = append(compilations, *c)
		}
	}
	if err != nil {
		return err
	}

	for _, c := range compilations {
		if cfg.Output == "" {
			if _, err := fmt.Fprintln(out, c.Script); err != nil {
				return err
			}
			continue
		}
		path := cfg.Output
		if len(compilations) > 1 || isDir(path) {
			path = filepath.Join(cfg.Output, deploy.FileName(c.ID, c.Dialect))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(c.Script), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		utils.GetLogger().WithFields(logrus.Fields{"id": c.ID, "dialect": c.Dialect, "path": path}).Info("script written")
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func runBacktest(ctx context.Context, svc *service.Service, cfg config.Config, out io.Writer, logger *logrus.Logger) error {
	logic, err := readLogic(cfg)
	if err != nil {
		return err
	}
	req := service.BacktestRequest{
		Logic:     logic,
		Timeframe: cfg.Timeframe,
		From:      cfg.From.Time,
		To:        cfg.To.Time,
		Bars:      cfg.Bars,
		Seed:      cfg.Seed,
	}
	if cfg.CandlesCSV != "" {
		candles, err := feed.CSVFile{Path: cfg.CandlesCSV}.Candles(ctx, cfg.Symbol, cfg.Timeframe, cfg.From.Time, cfg.To.Time)
		if err != nil {
			return err
		}
		req.Candles = candles
	} else if cfg.Symbol != "" {
		req.Symbol = cfg.Symbol
	}

	res, err := svc.Backtest(ctx, req)
	if err != nil {
		return err
	}

	if cfg.ReportDir != "" {
		files, err := backtest.SaveCSV(cfg.ReportDir, res.Run.ID, &backtest.Result{
			PnL:           res.Run.PnL,
			Trades:        res.Run.Trades,
			Metrics:       res.Run.Metrics,
			FinalPosition: res.FinalPosition,
		})
		if err != nil {
			return err
		}
		logger.WithField("files", files).Info("backtest report saved")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"id":        res.Run.ID,
		"seed":      res.Run.Seed,
		"bars":      res.Run.Bars,
		"source":    res.Run.Source,
		"final_pnl": res.Run.FinalPnL,
		"metrics":   res.Run.Metrics,
		"remainder": res.Remainder,
	})
}

func runDeploy(ctx context.Context, svc *service.Service, cfg config.Config, out io.Writer) error {
	id := cfg.CompilationID
	if id == "" {
		logic, err := readLogic(cfg)
		if err != nil {
			return err
		}
		c, err := svc.Compile(ctx, logic, cfg.Dialect)
		if err != nil {
			return err
		}
		id = c.ID
	}
	receipt, err := svc.Deploy(ctx, id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s %s %s %s\n", receipt.ID, receipt.Venue, receipt.Checksum, receipt.Location)
	return err
}

func runServer(ctx context.Context, addr string, handler http.Handler, logger *logrus.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// runMigrations creates the database if needed and applies scripts/schema.sql.
func runMigrations(ctx context.Context, connStr string) error {
	if connStr == "" {
		return errors.New("run-migration needs a database connection string")
	}
	schemaPath, err := conf.FindSchema()
	if err != nil {
		return err
	}
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	return conf.Migrate(ctx, connStr, string(schema))
}
