// The isnexchange binary runs the study exchange service: the object
// cache with its submission pipeline, the retrieval poller and the
// admin HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/johnperry/ISN/internal/api"
	"github.com/johnperry/ISN/internal/application"
	"github.com/johnperry/ISN/internal/config"
	"github.com/johnperry/ISN/internal/domain"
	"github.com/johnperry/ISN/internal/infrastructure/clearinghouse"
	"github.com/johnperry/ISN/internal/infrastructure/dbosworkflows"
	"github.com/johnperry/ISN/internal/infrastructure/goworkflows"
	"github.com/johnperry/ISN/internal/infrastructure/sqlite"
	"github.com/johnperry/ISN/internal/infrastructure/syncworkflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	store := sqlite.NewStore(db)
	defer store.Close()

	dests, err := domain.NewDestinationSet(cfg.Destinations)
	if err != nil {
		return fmt.Errorf("destinations: %w", err)
	}

	pool := application.NewPool(cfg.Workers)
	defer pool.Stop()

	cache := &application.Cache{
		Repo:         &sqlite.StudyRepo{Store: store},
		Root:         cfg.CacheDir,
		Destinations: dests,
		Pool:         pool,
		Logger:       logger.With("component", "cache"),
	}
	if cfg.UserEmail != "" {
		cache.HashKey = func(domain.Study) string {
			return domain.HashKey(cfg.UserEmail, cfg.UserBirthDate, cfg.AccessCode)
		}
	}

	httpc := &http.Client{Timeout: cfg.RequestTimeout}

	if primary, ok := primaryDestination(cfg, dests); ok {
		wf := &domain.SubmissionWorkflow{
			Identity: &clearinghouse.Identity{
				PIXURL:      primary.IdentityURL,
				RegistryURL: primary.RegistryURL,
				HTTP:        httpc,
				Logger:      logger.With("component", "identity"),
			},
			Submitter: &clearinghouse.Submitter{
				BaseURL: primary.RepositoryURL,
				HTTP:    httpc,
				Logger:  logger.With("component", "submitter"),
			},
			Progress: cache.NoteProgress,
		}
		runner, shutdown, err := buildRunner(ctx, cfg, wf)
		if err != nil {
			return err
		}
		if shutdown != nil {
			defer shutdown()
		}
		cache.Runner = runner
	} else {
		logger.Warn("no destinations configured, submission disabled")
	}

	// Studies stranded mid-submission by the previous shutdown.
	if err := cache.ReconcileInTransit(ctx); err != nil {
		return fmt.Errorf("reconcile in-transit studies: %w", err)
	}

	retention := cfg.Retention
	if !cfg.DeleteOnSuccess {
		retention = 0
	}
	monitor := &application.Monitor{
		Cache:        cache,
		Logger:       logger.With("component", "monitor"),
		MinAge:       cfg.MinAge,
		Retention:    retention,
		AutoSendDest: cfg.AutoSendDest,
	}
	go monitor.Run(ctx)

	if len(cfg.SiteKeys) > 0 {
		if primary, ok := primaryDestination(cfg, dests); ok {
			retrieval := &application.Retrieval{
				Registry: &clearinghouse.Registry{
					BaseURL: primary.RegistryURL,
					HTTP:    httpc,
					Logger:  logger.With("component", "registry"),
				},
				Repository: &clearinghouse.Repository{
					BaseURL: primary.RepositoryURL,
					HTTP:    httpc,
					Logger:  logger.With("component", "repository"),
				},
				Images: &clearinghouse.Images{
					BaseURL: primary.RepositoryURL,
					HTTP:    httpc,
					Logger:  logger.With("component", "images"),
				},
				Seen:             sqlite.NewSeenSet(store, cfg.SeenAcceptAlways, time.Hour),
				Sink:             &application.DirSink{QueueDir: cfg.QueueDir},
				Logger:           logger.With("component", "retrieval"),
				StagingDir:       cfg.StagingDir,
				SiteKeys:         cfg.SiteKeys,
				ImagesPerRequest: cfg.ImagesPerRequest,
			}
			poller := &application.Poller{
				Retrieval: retrieval,
				Interval:  cfg.PollInterval,
				Logger:    logger.With("component", "poller"),
			}
			go poller.Run(ctx)
		} else {
			logger.Warn("site keys configured without destinations, retrieval disabled")
		}
	}

	srv := &api.Server{Cache: cache, Destinations: dests, Logger: logger.With("component", "api")}
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "engine", cfg.Engine)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// primaryDestination picks the destination whose clearinghouse
// endpoints the HTTP clients are built from: the autosend destination
// when configured, else the first by key.
func primaryDestination(cfg config.Config, dests *domain.DestinationSet) (domain.Destination, bool) {
	if cfg.AutoSendDest != "" {
		if d, err := dests.Get(cfg.AutoSendDest); err == nil {
			return d, true
		}
	}
	all := dests.List()
	if len(all) == 0 {
		return domain.Destination{}, false
	}
	return all[0], true
}

// buildRunner constructs the submission runner for the configured
// workflow engine. The returned shutdown func, when non-nil, must run
// at exit.
func buildRunner(ctx context.Context, cfg config.Config, wf *domain.SubmissionWorkflow) (domain.SubmissionRunner, func(), error) {
	switch cfg.Engine {
	case "sync":
		engine := &syncworkflow.Engine{}
		runner, err := engine.SubmissionRunner(wf)
		return runner, nil, err

	case "goworkflows":
		backendPath := filepath.Join(filepath.Dir(cfg.DBPath), "workflows.db")
		b := wfsqlite.NewSqliteBackend(backendPath)
		w := worker.New(b, nil)
		engine := &goworkflows.Engine{
			Worker:  w,
			Client:  client.New(b),
			Timeout: cfg.RequestTimeout,
		}
		runner, err := engine.SubmissionRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		workerCtx, cancel := context.WithCancel(ctx)
		if err := w.Start(workerCtx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("start workflow worker: %w", err)
		}
		shutdown := func() {
			cancel()
			_ = w.WaitForCompletion()
		}
		return runner, shutdown, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "isnexchange",
			DatabaseURL: cfg.DBOSDatabaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dbos context: %w", err)
		}
		engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
		runner, err := engine.SubmissionRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("dbos launch: %w", err)
		}
		shutdown := func() { dbos.Shutdown(dbosCtx, 5*time.Second) }
		return runner, shutdown, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}
