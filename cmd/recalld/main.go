// Recalld is a vector search indexing daemon.
//
// This binary starts the recalld HTTP server with full service
// initialization: embeddings, encryption, vector drivers, the indexing
// pipeline, and optional NATS-dispatched reindexing.
//
// Configuration is loaded from an optional YAML file and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	recalld
//
//	# Configure via file and environment
//	SERVER_ADDR=:9090 recalld -config recalld.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/crypto"
	"github.com/fyrsmithlabs/recalld/internal/driver"
	chromemdriver "github.com/fyrsmithlabs/recalld/internal/driver/chromem"
	qdrantdriver "github.com/fyrsmithlabs/recalld/internal/driver/qdrant"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/entity"
	"github.com/fyrsmithlabs/recalld/internal/events"
	httpapi "github.com/fyrsmithlabs/recalld/internal/http"
	"github.com/fyrsmithlabs/recalld/internal/index"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/record"
	"github.com/fyrsmithlabs/recalld/internal/search"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld            Start the recalld daemon\n")
			fmt.Fprintf(os.Stderr, "  recalld version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("recalld by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the recalld server and blocks until context is cancelled.
//
// Initialization order:
//  1. Configuration, logger, telemetry
//  2. Embedder and encryption adapter
//  3. Vector drivers and entity registry
//  4. Record source, indexing pipeline, reindexer
//  5. HTTP server, then graceful shutdown on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("starting recalld",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("driver", cfg.VectorStore.Driver))

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	embedder, err := embeddings.NewEmbedder(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer func() {
		_ = embedder.Close()
	}()

	cipher, err := crypto.NewAESAdapter(cfg.Encryption, logger)
	if err != nil {
		return fmt.Errorf("creating encryption adapter: %w", err)
	}

	drivers, err := initDrivers(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := drivers.Close(); err != nil {
			logger.Warn("driver shutdown failed", zap.Error(err))
		}
	}()

	entities := entity.NewRegistry(cfg.VectorStore.Driver, logger)
	entities.Register(entityModule(cfg))

	source := initSource(cfg, logger)

	pipeline := index.NewPipeline(entities, drivers, source, embedder, cipher, logger)
	reaper := index.NewReaper(drivers, logger)

	var sink events.Sink
	var listener *events.Listener
	if cfg.Events.URL != "" {
		natsSink, err := events.NewNATSSink(cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer func() {
			_ = natsSink.Close()
		}()
		sink = natsSink

		// The listener runs dispatched reindex requests as inline walks,
		// so its reindexer carries no sink of its own.
		inline := index.NewReindexer(cfg.Reindex, pipeline, entities, drivers, source, reaper, nil, logger)
		listener, err = events.NewListener(cfg.Events, func(ctx context.Context, req events.ReindexRequested) error {
			return inline.ReindexEntity(ctx, index.ReindexRequest{
				EntityID:   req.EntityID,
				TenantID:   req.TenantID,
				OrgID:      req.OrgID,
				PurgeFirst: req.PurgeFirst,
			})
		}, logger)
		if err != nil {
			return fmt.Errorf("creating reindex listener: %w", err)
		}
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("starting reindex listener: %w", err)
		}
		defer func() {
			_ = listener.Close()
		}()

		logger.Info("event dispatch enabled", zap.String("url", cfg.Events.URL))
	}

	reindexer := index.NewReindexer(cfg.Reindex, pipeline, entities, drivers, source, reaper, sink, logger)

	searchSvc := search.NewService(drivers, embedder, cipher, logger)
	adminSvc := index.NewService(entities, drivers, logger)

	srv, err := httpapi.NewServer(pipeline, reindexer, searchSvc, adminSvc, logger, &httpapi.Config{
		Addr: cfg.Server.Addr,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("server configured",
		zap.String("health_endpoint", "/health"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("reindex_mode", string(reindexer.Mode())),
		zap.Strings("drivers", drivers.IDs()),
		zap.Strings("entities", entities.Enabled()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// initDrivers registers the configured vector drivers. Chromem is always
// available; qdrant is constructed only when something references it.
func initDrivers(cfg *config.Config, logger *zap.Logger) (*driver.Registry, error) {
	drivers := driver.NewRegistry(cfg.VectorStore.Driver)

	chromemDrv, err := chromemdriver.New(cfg.VectorStore.Chromem, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chromem driver: %w", err)
	}
	drivers.Register("chromem", chromemDrv)

	if qdrantReferenced(cfg) {
		qdrantDrv, err := qdrantdriver.New(cfg.VectorStore.Qdrant, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant driver: %w", err)
		}
		drivers.Register("qdrant", qdrantDrv)
	}

	return drivers, nil
}

func qdrantReferenced(cfg *config.Config) bool {
	if cfg.VectorStore.Driver == "qdrant" {
		return true
	}
	for _, e := range cfg.Entities {
		if e.Driver == "qdrant" {
			return true
		}
	}
	return false
}

// entityModule converts config-declared entities to a registry module.
// Entities declared this way use the generic resolver fallbacks.
func entityModule(cfg *config.Config) entity.ModuleConfig {
	mod := entity.ModuleConfig{DriverID: cfg.VectorStore.Driver}
	for _, e := range cfg.Entities {
		mod.Entities = append(mod.Entities, entity.Config{
			EntityID: e.ID,
			DriverID: e.Driver,
			Disabled: e.Disabled,
			Icon:     e.Icon,
		})
	}
	return mod
}

// initSource selects the record source. An empty base URL falls back to
// the in-memory source, which only makes sense for local development.
func initSource(cfg *config.Config, logger *zap.Logger) record.Source {
	if cfg.Records.BaseURL == "" {
		logger.Warn("no records base_url configured, using in-memory record source")
		return record.NewMemorySource()
	}

	src, err := record.NewHTTPSource(record.HTTPConfig{
		BaseURL: cfg.Records.BaseURL,
		Token:   cfg.Records.Token,
		Timeout: cfg.Records.Timeout,
	})
	if err != nil {
		logger.Warn("record source construction failed, using in-memory record source", zap.Error(err))
		return record.NewMemorySource()
	}
	return src
}
