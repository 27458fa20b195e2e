// Package main provides the stash binary: an ephemeral file vault that keeps
// uploads until they are deleted or their expiry passes.
//
// The application flow:
//  1. Load and validate configuration (defaults, .env, STASH_* environment).
//  2. Build the logger, data directory and storage backends.
//  3. Assemble the vault service, expiry scheduler, janitor and metrics.
//  4. Re-arm expiry timers for files stored before the last shutdown.
//  5. Serve HTTP until SIGINT/SIGTERM, then shut everything down in order.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/config"
	"github.com/haukened/stash/internal/credential"
	"github.com/haukened/stash/internal/expiry"
	"github.com/haukened/stash/internal/httpx"
	"github.com/haukened/stash/internal/janitor"
	"github.com/haukened/stash/internal/logging"
	"github.com/haukened/stash/internal/metrics"
	"github.com/haukened/stash/internal/store"
	"github.com/haukened/stash/internal/store/filesystem"
	"github.com/haukened/stash/internal/store/postgres"
	"github.com/haukened/stash/internal/store/s3blob"
	"github.com/haukened/stash/internal/store/sqlite"
)

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// pinger is implemented by both metadata backends.
type pinger interface {
	Ping(ctx context.Context) error
}

// metadataBackend is a metadata store that can also be listed for restore and pinged.
type metadataBackend interface {
	app.MetadataStore
	pinger
}

// stack holds the assembled components and everything that must be closed.
type stack struct {
	handler   http.Handler
	service   *app.Service
	scheduler *expiry.Scheduler
	janitor   *janitor.Janitor
	metrics   *metrics.Manager
	closers   []func() error
}

// close releases resources in reverse order of acquisition.
func (s *stack) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func ensureDataDir(cfg *config.Config) error {
	st, err := os.Stat(cfg.DataDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %q is not a directory", cfg.DataDir)
	}
	if cfg.BlobBackend == "filesystem" {
		if err := os.MkdirAll(cfg.BlobDir(), 0o700); err != nil {
			return fmt.Errorf("create blob directory: %w", err)
		}
	}
	return nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

func openMetadata(ctx context.Context, cfg *config.Config, s *stack) (metadataBackend, error) {
	switch cfg.MetadataBackend {
	case "postgres":
		ix, db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		return ix, nil
	default:
		db, err := openSQLite(cfg.SQLiteDSN())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		ix, err := sqlite.New(db)
		if err != nil {
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		return ix, nil
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (app.BlobStore, error) {
	if cfg.BlobBackend == "s3" {
		b, err := s3blob.NewFromOptions(ctx, s3blob.Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		b.SetSettle(cfg.BlobSettle)
		return b, nil
	}
	b, err := filesystem.New(cfg.BlobDir())
	if err != nil {
		return nil, err
	}
	b.SetSettle(cfg.BlobSettle)
	return b, nil
}

func openMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger, s *stack) (*metrics.Manager, error) {
	db, err := openSQLite(cfg.MetricsDSN())
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db.Close)
	m := metrics.New(db, metrics.Config{Logger: logger})
	if err := m.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}
	return m, nil
}

// build assembles every component. On error, whatever was opened is closed.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{}
	defer func() {
		if err != nil {
			_ = s.close()
		}
	}()
	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}
	meta, err := openMetadata(ctx, cfg, s)
	if err != nil {
		return nil, err
	}
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init blob storage: %w", err)
	}
	if s.metrics, err = openMetrics(ctx, cfg, logger, s); err != nil {
		return nil, err
	}
	policy, err := expiry.NewPolicy(expiry.Mode(cfg.ExpiryMode), cfg.TTL, cfg.CronSpec, cfg.CronTZ)
	if err != nil {
		return nil, err
	}

	clock := realClock{}
	st := store.New(meta, blobs, clock, logger)
	s.scheduler = expiry.NewScheduler(st, expiry.Config{Logger: logger, Metrics: s.metrics})
	s.service = &app.Service{
		Meta:      meta,
		Blobs:     blobs,
		Purger:    st,
		Scheduler: s.scheduler,
		Verifier:  credential.NewHasher(cfg.BcryptCost),
		Policy:    policy,
		Clock:     clock,
		Metrics:   s.metrics,
		Logger:    logger,
		MaxBytes:  cfg.MaxBytes.Int64(),
	}
	s.janitor = janitor.New(st, janitor.Config{Interval: cfg.JanitorInterval, Logger: logger, Metrics: s.metrics})

	h := httpx.New(s.service, cfg.MaxBytes.Int64(), meta.Ping)
	h.APIKey = cfg.APIKey
	h.Metrics = metrics.Handler(s.metrics, cfg.MetricsToken)
	h.Logger = logger
	s.handler = h.Router()

	if _, err := s.scheduler.Restore(ctx, meta); err != nil {
		return nil, fmt.Errorf("restore expiry timers: %w", err)
	}
	return s, nil
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs the HTTP server and background loops until ctx ends, then
// drains requests and stops the loops.
func serve(ctx context.Context, cfg *config.Config, s *stack, logger *slog.Logger) error {
	srv := newServer(cfg, s.handler)
	g, gctx := errgroup.WithContext(ctx)

	s.janitor.Start(gctx)
	s.metrics.Start(gctx)

	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		s.janitor.Stop()
		s.scheduler.Close()
		s.metrics.Stop(sctx)
		return err
	})
	return g.Wait()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			logger.Error("close", "err", cerr)
		}
	}()
	return serve(ctx, cfg, s, logger)
}

func main() {
	if err := run(); err != nil {
		slog.Error("stash exited", "err", err)
		os.Exit(1)
	}
}
