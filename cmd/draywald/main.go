// Command draywald runs the durability core as a standalone service: the
// block-device WAL engine, the log cache, the sequencer, the storage
// orchestrator and the upload pipeline, wired to an Oxia metadata store and
// an S3-compatible object store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dray-io/dray/internal/config"
	"github.com/dray-io/dray/internal/coordinator"
	"github.com/dray-io/dray/internal/logcache"
	"github.com/dray-io/dray/internal/logging"
	"github.com/dray-io/dray/internal/metadata"
	"github.com/dray-io/dray/internal/metadata/oxia"
	"github.com/dray-io/dray/internal/metrics"
	"github.com/dray-io/dray/internal/objectstore"
	"github.com/dray-io/dray/internal/objectstore/s3"
	"github.com/dray-io/dray/internal/orchestrator"
	"github.com/dray-io/dray/internal/sequencer"
	"github.com/dray-io/dray/internal/upload"
	"github.com/dray-io/dray/internal/walengine"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("draywald version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runDurabilityCore(os.Args[2:])
	case "version":
		fmt.Printf("draywald version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: draywald <command> [options]

Commands:
  run         Start the durability core (WAL engine, cache, orchestrator, upload pipeline)
  version     Print version information

Run 'draywald run --help' for more information.`)
}

func runDurabilityCore(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	walPath := fs.String("wal-path", "", "Override WAL engine block device/file path")
	healthAddr := fs.String("health-addr", "", "Override metrics endpoint address (e.g., :9090)")
	ownerID := fs.String("owner-id", "", "Override this node's coordinator owner id (default: auto-generated UUID)")
	zoneID := fs.String("zone-id", "", "Override availability zone ID")

	fs.Usage = func() {
		fmt.Println(`Usage: draywald run [options]

Start the durability core: WAL engine, log cache, sequencer, storage
orchestrator and upload pipeline, backed by Oxia metadata and an
S3-compatible object store.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *walPath != "" {
		cfg.WALEngine.Path = *walPath
	}
	if *healthAddr != "" {
		cfg.Observability.MetricsAddr = *healthAddr
	}
	if *zoneID != "" {
		cfg.Node.ZoneID = *zoneID
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Observability.LogLevel),
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
	})
	logging.SetGlobal(logger)

	id := *ownerID
	if id == "" {
		id = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg, id, logger)
	if err != nil {
		logger.Errorf("failed to build durability core", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	metricsSrv := metrics.NewServer(cfg.Observability.MetricsAddr)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logger.Warnf("metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Errorf("durability core error", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("durability core shutdown complete")
}

// service bundles the durability core's pieces (walengine -> sequencer ->
// logcache -> orchestrator -> upload -> coordinator) so main can start and
// stop them as one unit.
type service struct {
	logger *logging.Logger

	wal   *walengine.Service
	seq   *sequencer.Sequencer
	cache *logcache.Cache
	orch  *orchestrator.Orchestrator
	pipe  *upload.Pipeline

	metaStore metadata.MetadataStore
	objStore  objectstore.Store
}

func newService(ctx context.Context, cfg *config.Config, ownerID string, logger *logging.Logger) (*service, error) {
	metaStore, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to oxia: %w", err)
	}

	objStore, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.ObjectStore.Bucket,
		Region:          cfg.ObjectStore.Region,
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKey,
		SecretAccessKey: cfg.ObjectStore.SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	const numDomains = 16
	coord := coordinator.NewOxiaCoordinator(metaStore, ownerID, numDomains)

	walCfg := walengine.DefaultConfig(cfg.WALEngine.Path, cfg.WALEngine.CapacityBytes)
	if cfg.WALEngine.HeaderFlushIntervalMs > 0 {
		walCfg.HeaderFlushInterval = time.Duration(cfg.WALEngine.HeaderFlushIntervalMs) * time.Millisecond
	}
	if cfg.WALEngine.WindowInitialBytes > 0 {
		walCfg.Window.InitialSize = cfg.WALEngine.WindowInitialBytes
	}
	if cfg.WALEngine.WindowUpperLimitBytes > 0 {
		walCfg.Window.UpperLimit = cfg.WALEngine.WindowUpperLimitBytes
	}
	if cfg.WALEngine.WindowScaleUnitBytes > 0 {
		walCfg.Window.ScaleUnit = cfg.WALEngine.WindowScaleUnitBytes
	}
	walCfg.Metrics = metrics.NewWALEngineMetrics()
	wal := walengine.New(walCfg, logger)
	if err := wal.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting wal engine: %w", err)
	}

	cache := logcache.New(logcache.Config{
		BlockSizeLimit:     cfg.WAL.FlushSizeBytes,
		MaxStreamsPerBlock: 4096,
	})
	seq := sequencer.New()

	pipe := upload.New(upload.Config{
		MetaDomain:  0,
		ObjectTTLMs: cfg.WAL.OrphanTTLMs,
		Metrics:     metrics.NewUploadMetrics(),
		OnFatal: func(err error) {
			logger.Errorf("upload commit failed, terminating", map[string]any{"error": err.Error()})
			os.Exit(1)
		},
	}, objStore, metaStore, coord, wal, cache, logger)
	pipe.Start()

	orchCfg := orchestrator.DefaultConfig(cfg.WAL.FlushSizeBytes * 4)
	orchCfg.Metrics = metrics.NewOrchestratorMetrics()
	orch := orchestrator.New(orchCfg, wal, cache, seq, func(ctx context.Context, block *logcache.Block) error {
		return pipe.Enqueue(block).Wait(ctx)
	}, logger)
	orch.Start()

	return &service{
		logger:    logger,
		wal:       wal,
		seq:       seq,
		cache:     cache,
		orch:      orch,
		pipe:      pipe,
		metaStore: metaStore,
		objStore:  objStore,
	}, nil
}

// run blocks until ctx is cancelled; the durability core itself is driven
// by the orchestrator's and pipeline's own background goroutines, so there
// is nothing left to do but wait.
func (s *service) run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *service) shutdown(ctx context.Context) error {
	s.orch.Close()
	s.pipe.Close()
	return s.wal.ShutdownGracefully(ctx)
}
