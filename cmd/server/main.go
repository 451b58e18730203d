package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-roster/internal/api"
	"github.com/npezzotti/go-roster/internal/config"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/ratelimit"
	"github.com/npezzotti/go-roster/internal/stats"
	"go.uber.org/zap"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr             string
	dsn              string
	signingKey       string
	allowedOrigins   stringSliceFlag
	logFormat        string
	attemptRetention time.Duration
)

func newLogger(format string) (*zap.Logger, error) {
	switch format {
	case "json":
		return zap.NewProduction()
	case "console":
		return zap.NewDevelopment()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func openStore(cfg *config.Config, logger *zap.SugaredLogger) (database.Store, error) {
	if cfg.UseMemoryStore() {
		logger.Warn("using in-memory store, data will not survive a restart")
		return database.NewMemoryStore()
	}

	pg, err := database.NewPgStore(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := database.Migrate(pg.DB()); err != nil {
		pg.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	return pg, nil
}

func main() {
	env, err := config.LoadEnv(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "env:", err)
		os.Exit(1)
	}

	flag.StringVar(&addr, "addr", env.ServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", env.DatabaseDSN, `database connection string, or "memory" for the in-memory store`)
	flag.StringVar(&signingKey, "signing-key", env.SigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&logFormat, "log-format", env.LogFormat, `log encoding, "json" or "console"`)
	flag.DurationVar(&attemptRetention, "attempt-retention", env.AttemptRetention, "how long join attempts are kept")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = env.AllowedOrigins
	}

	zl, err := newLogger(logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatalw("config", "error", err)
	}
	cfg.LogFormat = logFormat
	cfg.AttemptRetention = attemptRetention

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalw("store", "error", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorw("db close", "error", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	srv := api.NewRosterApp(mux, logger, store, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	janitor := ratelimit.NewJanitor(store, ratelimit.NewLimiter(), cfg.AttemptRetention, logger.Named("janitor"))
	janitor.Run()
	defer janitor.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infow("received signal", "signal", sig.String())
	case err := <-errCh:
		logger.Errorw("server", "error", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Errorw("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
}
