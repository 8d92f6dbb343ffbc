package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	chunking "github.com/langgraphsystem/rssnews-sub004"
	"github.com/langgraphsystem/rssnews-sub004/ingest"
	"github.com/langgraphsystem/rssnews-sub004/internal/config"
	"github.com/langgraphsystem/rssnews-sub004/observer"
	"github.com/langgraphsystem/rssnews-sub004/refine"
	"github.com/langgraphsystem/rssnews-sub004/store/postgres"
	"github.com/langgraphsystem/rssnews-sub004/store/sqlite"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("SUB004_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open storage
	var store chunking.Store
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("chunkd: connect postgres: %v", err)
		}
		store = postgres.New(pool)
	case "sqlite":
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	default:
		log.Fatalf("chunkd: unknown database driver %q", cfg.Database.Driver)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		log.Fatalf("chunkd: store init: %v", err)
	}

	// 3. Refiner over an OpenAI-compatible chat completions API
	var refiner chunking.Refiner = refine.New(cfg.Refiner.APIKey, cfg.Refiner.Model, cfg.Refiner.BaseURL)

	// 4. Observer (opt-in via config)
	var meter chunking.Meter
	var tracer chunking.Tracer
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("chunkd: observer init: %v", err)
		}
		defer shutdown(context.Background())

		refiner = observer.WrapRefiner(refiner, inst)
		meter = observer.NewMeter(inst)
		tracer = observer.NewTracer()
		log.Println("chunkd: OTEL observability enabled")
	}

	// 5. Resilient refinement client. Breaker and limiter are process-wide:
	// all concurrent jobs consult the same state.
	breakerOpts := []chunking.BreakerOption{chunking.BreakerLogger(logger)}
	if meter != nil {
		breakerOpts = append(breakerOpts, chunking.BreakerOnStateChange(func(_, to chunking.CircuitState) {
			open := int64(0)
			if to == chunking.StateOpen {
				open = 1
			}
			meter.Gauge(chunking.MetricBreakerOpen, open)
		}))
	}
	breaker := chunking.NewCircuitBreaker(cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.TimeoutSeconds)*time.Second, breakerOpts...)
	limiter := chunking.NewRateLimiter(cfg.RateLimit.MaxCalls,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	client := chunking.NewRefinementClient(refiner, breaker, limiter,
		chunking.RefineMaxAttempts(cfg.Refiner.MaxRetries),
		chunking.RefineAttemptTimeout(time.Duration(cfg.Refiner.TimeoutSeconds)*time.Second),
		chunking.RefineLogger(logger),
	)

	// 6. Chunker, router, pipeline
	chunker := ingest.NewBaseChunker(
		ingest.WithTargetWords(cfg.Chunking.TargetWords),
		ingest.WithMinWords(cfg.Chunking.MinWords),
		ingest.WithMaxWords(cfg.Chunking.MaxWords),
		ingest.WithOverlapWords(cfg.Chunking.OverlapWords),
	)
	router := ingest.NewQualityRouter(
		ingest.WithConfidenceMin(cfg.Routing.ConfidenceMin),
		ingest.WithMaxLLMCalls(cfg.Routing.MaxLLMCalls),
		ingest.WithMaxLLMPercent(cfg.Routing.MaxLLMPercent),
		ingest.WithWordBounds(cfg.Chunking.MinWords, cfg.Chunking.MaxWords),
	)
	pipelineOpts := []ingest.PipelineOption{
		ingest.WithChunker(chunker),
		ingest.WithRouter(router),
		ingest.WithPipelineLogger(logger),
	}
	if meter != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithPipelineMeter(meter))
	}
	if tracer != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithPipelineTracer(tracer))
	}
	pipeline := ingest.NewPipeline(store, client, pipelineOpts...)

	// 7. Adaptive batch processor
	processor := ingest.NewProcessor(store, pipeline,
		ingest.WithBatchSize(cfg.Processor.BatchSize),
		ingest.WithMaxConcurrentBatches(cfg.Processor.MaxConcurrentBatches),
		ingest.WithMaxRetries(cfg.Processor.MaxRetries),
		ingest.WithDocLengthThresholds(cfg.Processor.ShortDocChars, cfg.Processor.LongDocChars),
		ingest.WithProcessorLogger(logger),
	)

	// 8. Coordinator with discovery sweep
	coordOpts := []chunking.CoordinatorOption{
		chunking.WithMaxConcurrentJobs(cfg.Coordinator.MaxConcurrentJobs),
		chunking.WithBackpressureThreshold(cfg.Coordinator.BackpressureThreshold),
		chunking.WithJobBatchSize(cfg.Coordinator.JobBatchSize),
		chunking.WithDiscovery(store,
			time.Duration(cfg.Coordinator.DiscoveryIntervalSeconds)*time.Second,
			cfg.Coordinator.DiscoveryBatch),
		chunking.WithCoordinatorLogger(logger),
	}
	if meter != nil {
		coordOpts = append(coordOpts, chunking.WithCoordinatorMeter(meter))
	}
	coordinator, err := chunking.NewCoordinator(processor, coordOpts...)
	if err != nil {
		log.Fatalf("chunkd: coordinator: %v", err)
	}
	defer coordinator.Close()

	// 9. Run until interrupted
	logger.Info("chunkd running",
		"driver", cfg.Database.Driver,
		"refiner", client.Name(),
		"observer", cfg.Observer.Enabled)
	if err := coordinator.Run(ctx); err != nil {
		log.Fatalf("chunkd: %v", err)
	}
	logger.Info("chunkd stopped")
}
