// Package replay wires the op-replay application: it loads the catalog, opens
// the stores and either tests the configured services once or serves the API.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-replay/catalog"
	"github.com/ethereum-optimism/infra/op-replay/fetcher"
	"github.com/ethereum-optimism/infra/op-replay/orchestrator"
	"github.com/ethereum-optimism/infra/op-replay/runner"
	"github.com/ethereum-optimism/infra/op-replay/service"
	"github.com/ethereum-optimism/infra/op-replay/store"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

// replay implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &replay{}

type replay struct {
	ctx       context.Context
	config    *Config
	version   string
	catalog   *catalog.Catalog
	store     store.Store
	launcher  *orchestrator.Launcher
	service   *service.Service
	formatter ResultFormatter
	results   []*types.TestRun

	closers   []func() error
	running   atomic.Bool
	closeOnce sync.Once

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*replay, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating op-replay with config",
		"catalog", config.CatalogFile,
		"services", config.Services,
		"endpoint", config.Endpoint,
		"runnerType", config.RunnerType,
		"runOnce", config.RunOnce)

	r := &replay{
		ctx:              ctx,
		config:           config,
		version:          version,
		formatter:        NewConsoleResultFormatter(config.Log, nil),
		shutdownCallback: shutdownCallback,
	}
	if err := r.init(ctx); err != nil {
		_ = r.close()
		return nil, err
	}
	return r, nil
}

func (r *replay) init(ctx context.Context) error {
	cfg := r.config

	cat, err := catalog.NewCatalog(catalog.Config{Log: cfg.Log, File: cfg.CatalogFile})
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	r.catalog = cat

	sequencer, err := r.openStores(ctx)
	if err != nil {
		return err
	}

	var credentials fetcher.CredentialProvider
	if cfg.NetworkUsername != "" {
		credentials = fetcher.StaticCredentials{Username: cfg.NetworkUsername, Password: cfg.NetworkPassword}
	}
	selector, err := runner.NewSelector(runner.SelectorConfig{
		Log: cfg.Log,
		HTTP: runner.HTTPConfig{
			Log:               cfg.Log,
			ConnectTimeout:    cfg.ConnectTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		},
		ImportJobs: cat,
		Fetcher:    fetcher.New(fetcher.Config{Log: cfg.Log, Credentials: credentials, Dir: cfg.ArtifactDir}),
	})
	if err != nil {
		return fmt.Errorf("failed to create runner selector: %w", err)
	}

	coordinator, err := orchestrator.NewCoordinator(orchestrator.CoordinatorConfig{
		Log:              cfg.Log,
		Store:            r.store,
		Sequencer:        sequencer,
		Requests:         cat,
		Selector:         selector,
		OperationTimeout: cfg.OperationTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	r.launcher, err = orchestrator.NewLauncher(orchestrator.LauncherConfig{
		Log:               cfg.Log,
		Coordinator:       coordinator,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	})
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}

	if !cfg.RunOnce {
		api, err := service.NewAPIServer(service.APIConfig{
			Log:               cfg.Log,
			Services:          cat,
			Launcher:          r.launcher,
			Store:             r.store,
			DefaultRunnerType: cfg.RunnerType,
		})
		if err != nil {
			return fmt.Errorf("failed to create api server: %w", err)
		}
		addrs := service.Addresses{Healthz: cfg.HealthzAddr, API: cfg.APIAddr}
		if cfg.MetricsEnabled {
			addrs.Metrics = cfg.MetricsAddr
		}
		r.service = service.New(api, addrs)
	}
	cfg.Log.Info("replay.New: created catalog, stores and launcher")
	return nil
}

// openStores opens the run store and the sequencer numbering runs. Postgres
// backs both when configured, Redis takes over numbering when configured.
func (r *replay) openStores(ctx context.Context) (store.Sequencer, error) {
	cfg := r.config
	var sequencer store.Sequencer

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		r.closers = append(r.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		r.store, sequencer = pg, pg
	} else {
		cfg.Log.Warn("No database configured, test runs are kept in memory")
		mem := store.NewMemory()
		r.store, sequencer = mem, mem
	}

	if cfg.RedisURL != "" {
		client, err := store.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		r.closers = append(r.closers, client.Close)
		if err := store.CheckRedisConnection(client); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sequencer = store.NewRedisSequencer(client, r.store)
	}
	return sequencer, nil
}

// Start tests the configured services once, or serves the API.
// Start implements the cliapp.Lifecycle interface.
func (r *replay) Start(ctx context.Context) error {
	r.ctx = ctx
	r.running.Store(true)

	if !r.config.RunOnce {
		r.config.Log.Info("Starting op-replay in serve mode", "api", r.config.APIAddr)
		r.service.Start(ctx)
		return nil
	}

	r.config.Log.Info("Starting op-replay in run-once mode", "services", r.config.Services)
	if err := r.runServices(ctx); err != nil {
		return err
	}

	r.config.Log.Info("Test runs completed, exiting (run-once mode)")
	go func() {
		r.shutdownCallback(nil)
	}()
	return nil
}

// runServices launches one run per configured service, waits for all of them
// and prints their results.
func (r *replay) runServices(ctx context.Context) error {
	handles := make([]*orchestrator.RunHandle, 0, len(r.config.Services))
	for _, id := range r.config.Services {
		svc, err := r.catalog.GetService(ctx, id)
		if err != nil {
			return NewRuntimeError(err)
		}
		run := &types.TestRun{TestedEndpoint: r.config.Endpoint}
		handles = append(handles, r.launcher.Launch(ctx, run, svc, r.config.RunnerType))
	}

	waitCtx := ctx
	if r.config.RunWaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.config.RunWaitTimeout)
		defer cancel()
	}

	var (
		runtimeErrs []error
		failed      []string
	)
	for _, h := range handles {
		run, err := h.Wait(waitCtx)
		if run != nil {
			r.results = append(r.results, run)
			if ferr := r.formatter.FormatResults(run); ferr != nil {
				r.config.Log.Warn("Failed to print results", "run", run.ID, "err", ferr)
			}
			if !run.Success {
				failed = append(failed, fmt.Sprintf("%s #%d", run.ServiceID, run.TestNumber))
			}
		}
		if err != nil {
			r.config.Log.Error("Test run did not complete cleanly", "run", h.RunID(), "err", err)
			runtimeErrs = append(runtimeErrs, err)
		}
	}

	if len(runtimeErrs) > 0 {
		return NewRuntimeError(errors.Join(runtimeErrs...))
	}
	if len(failed) > 0 {
		r.config.Log.Warn("Run-once test runs completed with failures, returning exit code 1")
		return NewTestFailureError(failed, len(handles))
	}
	return nil
}

// Stop stops the servers, waits for in-flight runs and closes the stores.
// Stop implements the cliapp.Lifecycle interface.
func (r *replay) Stop(ctx context.Context) error {
	r.config.Log.Info("Stopping op-replay")
	r.running.Store(false)

	if r.service != nil {
		r.service.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		r.launcher.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.config.Log.Warn("Timed out waiting for test runs to terminate", "err", ctx.Err())
		return ctx.Err()
	}

	if err := r.close(); err != nil {
		return err
	}
	r.config.Log.Info("op-replay stopped successfully")
	return nil
}

func (r *replay) close() error {
	var err error
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			errs = append(errs, r.closers[i]())
		}
		err = errors.Join(errs...)
	})
	return err
}

// Stopped returns true if op-replay is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (r *replay) Stopped() bool {
	return !r.running.Load()
}
