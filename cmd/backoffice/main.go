// Command backoffice launches the event intake and report service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/backoffice/config"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/infra/persistence/memory"
	"github.com/coachpo/backoffice/internal/infra/persistence/migrations"
	"github.com/coachpo/backoffice/internal/infra/persistence/postgres"
	httpserver "github.com/coachpo/backoffice/internal/infra/server/http"
	"github.com/coachpo/backoffice/internal/intake"
	"github.com/coachpo/backoffice/internal/observability"
	"github.com/coachpo/backoffice/internal/report"
	"github.com/coachpo/backoffice/internal/seed"
	"github.com/coachpo/backoffice/internal/telemetry"
)

const (
	loggerPrefix          = "backoffice "
	serverShutdownTimeout = 5 * time.Second
	lifecycleWaitTimeout  = 10 * time.Second
	telemetryStopTimeout  = 5 * time.Second
	readHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := loadSettings(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, backend=%s", cfg.Environment, cfg.Database.Backend)

	observability.SetLogger(observability.NewStdLogger(logger, cfg.Environment == config.EnvDev))

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, pool, err := buildStore(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialise store: %v", err)
	}

	if cfg.Seed.DataDir != "" {
		if err := seed.Populate(ctx, store, cfg.Seed.DataDir); err != nil {
			logger.Fatalf("seed reference data: %v", err)
		}
		logger.Printf("reference data seeded from %s", cfg.Seed.DataDir)
	}

	in, err := intake.New(ctx, store)
	if err != nil {
		logger.Fatalf("initialise intake: %v", err)
	}
	engine := report.NewEngine(store)
	live := report.NewLive(store)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpserver.NewHandler(in, engine, live, store, cfg.Reports.OutDir),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
	logger.Printf("api listening on %s", server.Addr)

	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownStart := time.Now()
	performGracefulShutdown(logger, server, cancel, &lifecycle, pool, telemetryProvider)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func loadSettings(path string) (config.Settings, error) {
	if path == "" {
		cfg := config.FromEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.Settings) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(cfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.Telemetry.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled && telemetryCfg.EnableMetrics {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// buildStore selects the configured backend. The returned pool is nil for the
// memory backend.
func buildStore(ctx context.Context, logger *log.Logger, cfg config.Settings) (ledger.Store, *pgxpool.Pool, error) {
	if cfg.Database.Backend == config.BackendMemory {
		logger.Print("using in-memory store")
		return memory.NewStore(), nil, nil
	}

	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, logger); err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return postgres.NewStore(pool), pool, nil
}

func performGracefulShutdown(logger *log.Logger, server *http.Server, mainCancel context.CancelFunc, lifecycle *conc.WaitGroup, pool *pgxpool.Pool, telemetryProvider *telemetry.Provider) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, stepCancel := context.WithTimeout(context.Background(), timeout)
		defer stepCancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	shutdownStep("stopping api server", serverShutdownTimeout, func(stepCtx context.Context) error {
		return server.Shutdown(stepCtx)
	})

	mainCancel()

	shutdownStep("waiting for lifecycle goroutines", lifecycleWaitTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
		}
	})

	if pool != nil {
		logger.Print("shutdown: closing database pool")
		pool.Close()
	}

	if telemetryProvider != nil {
		shutdownStep("shutting down telemetry", telemetryStopTimeout, func(stepCtx context.Context) error {
			return telemetryProvider.Shutdown(stepCtx)
		})
	}
}
