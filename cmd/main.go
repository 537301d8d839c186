package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/backr/internal/adapters/directory"
	"github.com/okian/backr/internal/adapters/http/api"
	"github.com/okian/backr/internal/adapters/http/swagger"
	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/repository/memory"
	"github.com/okian/backr/internal/adapters/repository/sqlstore"
	"github.com/okian/backr/internal/adapters/session"
	service "github.com/okian/backr/internal/app"
	"github.com/okian/backr/internal/config"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

// flags holds command line overrides. Empty values leave the loaded
// configuration untouched.
type flags struct {
	configPath  string
	addr        string
	storeDriver string
	storeDSN    string
	logLevel    string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("backr", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file (overrides "+config.EnvConfigFile+")")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.storeDriver, "store-driver", "", "document store: memory, sqlite or postgres")
	fs.StringVar(&f.storeDSN, "store-dsn", "", "SQL data source for sqlite or postgres")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func (f flags) apply(cfg *config.Config) error {
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.storeDriver != "" {
		cfg.StoreDriver = f.storeDriver
	}
	if f.storeDSN != "" {
		cfg.StoreDSN = f.storeDSN
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg.Validate()
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Stderr.WriteString("invalid flags: " + err.Error() + "\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	if f.configPath != "" {
		_ = os.Setenv(config.EnvConfigFile, f.configPath)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := f.apply(cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := buildStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	svc := service.New(
		service.WithLogger(log.Named("service")),
		service.WithStore(store),
		service.WithDirectory(buildDirectory(cfg)),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithDebounce(cfg.Debounce()),
		service.WithReconnectBackoff(cfg.ReconnectBackoff()),
		service.WithMaxSearchResults(cfg.MaxSearchResults),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := newServer(cfg.Addr, buildHandler(ctx, svc, log), svc)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server failed: %w", err)
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelStop()
	if err := svc.Stop(stopCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return runErr
}

func buildStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite, config.DriverPostgres:
		return sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN,
			sqlstore.WithLogger(log.Named("sql_store")),
			sqlstore.WithPollInterval(cfg.StorePollInterval()),
		)
	default:
		opts := []memory.Option{memory.WithLogger(log.Named("memory_store"))}
		if cfg.SnapshotPath != "" {
			opts = append(opts,
				memory.WithSnapshotPath(cfg.SnapshotPath),
				memory.WithSnapshotInterval(cfg.SnapshotInterval()),
			)
		}
		return memory.New(opts...)
	}
}

func buildDirectory(cfg *config.Config) directory.Resolver {
	return directory.NewCached(directory.NewStatic(cfg.DisplayNames),
		directory.WithTTL(cfg.DirectoryCacheTTL()),
		directory.WithMaxEntries(cfg.IdentityCacheSize),
	)
}

// newServer builds the HTTP server. Open views are closed as soon as Shutdown
// starts, which ends every leaderboard stream.
func newServer(addr string, h http.Handler, svc *service.Service) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		// No WriteTimeout: leaderboard streams stay open.
	}
	srv.RegisterOnShutdown(svc.CloseViews)
	return srv
}

func buildHandler(ctx context.Context, svc *service.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, api.WithLogger(log.Named("http"))).Register(ctx, mux)
	return api.LoggingMiddleware(session.Middleware(mux), log.Named("access"))
}

func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.GetStats()
			if pending, ok := stats["pendingToggles"].(int64); ok {
				metrics.UpdateQueueSize(int(pending))
			}
			if workers, ok := stats["workerCount"].(int); ok {
				metrics.UpdateWorkerCount(workers)
			}
		}
	}
}
