// Command intelligenced is the kernel's process entrypoint: it wires
// config, stores, the ingestion orchestrator, the hybrid search
// orchestrator, and the event consumer loop into one running service.
// Grounded on cmd/orchestrator/main.go's config-load/wire/signal-shutdown
// shape and cmd/agentd/main.go's /healthz /readyz mux.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"intelkernel/internal/config"
	"intelkernel/internal/embedding"
	"intelkernel/internal/events"
	"intelkernel/internal/extract"
	"intelkernel/internal/graphstore"
	"intelkernel/internal/ingestion"
	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
	"intelkernel/internal/obs"
	"intelkernel/internal/patterns"
	"intelkernel/internal/patternstore"
	"intelkernel/internal/retrieve"
	"intelkernel/internal/vectorstore"

	chunkerpkg "intelkernel/internal/chunker"
)

// Event types this process consumes off the ingest-requested topic, per
// spec.md §6's namespaced/versioned event_type convention.
const (
	eventIngestRequested        = "document.ingest.requested.v1"
	eventProjectIngestRequested = "project.ingest.requested.v2"
)

// docTypes and entityKindsKnown enumerate the chunking strategy names the
// chunker accepts and the extractor entity kinds this process ships with,
// so the vectorstore.RouteCollection destinations for them are declared
// up front. A request with no chunking strategy routes by its Language,
// and one with an unrecognized strategy routes by that name; those
// collections are not declared here.
var (
	docTypes        = []string{"markdown", "md", "code", "fixed", "tokens", "sentences", "generic"}
	entityKindsKnown = []string{"section", "identifier", "generic"}
)

func declareRoutedCollections(ctx context.Context, vectors *vectorstore.Qdrant, base string, dims int) error {
	for _, dt := range docTypes {
		for _, ek := range entityKindsKnown {
			route := vectorstore.RouteCollection(base, dt, []string{ek})
			if err := vectors.Declare(ctx, route, dims); err != nil {
				return err
			}
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("intelligenced")
	}
}

func run() error {
	configPath := getenv("INTELKERNEL_CONFIG", "config.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := obs.NewZerologLogger(cfg.LogLevel)
	baseCtx := context.Background()

	metrics, otelShutdown, err := obs.InitOTel(baseCtx, cfg.OTel)
	if err != nil {
		logger.Error("otel init failed, continuing without metrics export", map[string]any{"error": err.Error()})
		metrics = obs.NoopMetrics{}
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	pool, err := pgxpool.New(baseCtx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	retry := nodekit.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseDelay:    time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		JitterFactor: cfg.Retry.JitterFactor,
	}

	graph, err := graphstore.NewPostgres(baseCtx, pool)
	if err != nil {
		return fmt.Errorf("init graph store: %w", err)
	}

	vectors, err := vectorstore.NewQdrant(cfg.Qdrant.DSN, cfg.Qdrant.Metric)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	if err := vectors.Declare(baseCtx, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions); err != nil {
		return fmt.Errorf("declare vector collection: %w", err)
	}
	if err := declareRoutedCollections(baseCtx, vectors, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions); err != nil {
		return fmt.Errorf("declare routed vector collections: %w", err)
	}

	patStore, err := patternstore.NewPostgres(baseCtx, pool, retry)
	if err != nil {
		return fmt.Errorf("init pattern store: %w", err)
	}

	docStore, err := ingestion.NewDocStore(baseCtx, pool, retry)
	if err != nil {
		return fmt.Errorf("init doc store: %w", err)
	}

	var embedder embedding.Embedder = embedding.NewHTTPEmbedder(cfg.Embedding)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("redis client close failed", map[string]any{"error": err.Error()})
			}
		}()
		embedder = embedding.NewCachedEmbedder(embedder, embedding.NewRedisHashCache(redisClient))
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no Kafka brokers configured")
	}
	writer := &kafka.Writer{Addr: kafka.TCP(cfg.Kafka.Brokers...), Balancer: &kafka.LeastBytes{}}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close failed", map[string]any{"error": err.Error()})
		}
	}()

	publisher := events.NewPublisher(writer, retry)
	breaker := events.NewCircuitBreaker(5, 30*time.Second)

	ingestTopic := events.Topic(cfg.Kafka, "document.ingest.requested.v1")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup,
		Topic:   ingestTopic,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close failed", map[string]any{"error": err.Error()})
		}
	}()

	orchestrator := ingestion.New(
		chunkerpkg.SemanticChunker{},
		embedder,
		extract.HeuristicExtractor{},
		extract.HeuristicExtractor{},
		graph, vectors, docStore, publisher, cfg.Qdrant.Collection,
		ingestion.WithLogger(logger),
		ingestion.WithMetrics(metrics),
		ingestion.WithCompletionTopic(events.Topic(cfg.Kafka, "document.ingested.v1")),
	)

	keywordIndex := retrieve.NewKeywordIndex()
	searchOrch := retrieve.NewOrchestrator(vectors, keywordIndex, graph, cfg.Fusion)
	matcher := patterns.NewMatcher(cfg.Pattern)

	consumer := events.NewConsumer(reader, patStore, getenv("INTELKERNEL_CONSUMER_ID", "intelligenced"),
		ingestTopic, retry, breaker, publisher, obs.SystemClock{}, logger)

	handle := func(ctx context.Context, env model.EventEnvelope) error {
		switch env.EventType {
		case eventIngestRequested, "document.ingest.requested":
			var req model.IngestRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				return nodekit.Invalid("intelligenced.handle", err)
			}
			_, err := orchestrator.Ingest(ctx, req)
			return err
		case eventProjectIngestRequested, "project.ingest.requested":
			var req model.ProjectIngestRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				return nodekit.Invalid("intelligenced.handle", err)
			}
			resp, err := orchestrator.IngestProject(ctx, req)
			if err != nil {
				return err
			}
			for _, f := range resp.Files {
				if f.Error != "" {
					logger.Error("intelligenced: project file ingest failed", map[string]any{
						"project": req.ProjectName, "path": f.Path, "error": f.Error,
					})
				}
			}
			return nil
		default:
			logger.Info("intelligenced: unrecognized event type, acking without action", map[string]any{"event_type": env.EventType})
			return nil
		}
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ready")
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req retrieve.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Collection == "" {
			req.Collection = cfg.Qdrant.Collection
		}
		if len(req.QueryEmbedding) == 0 && req.Query != "" {
			vecs, err := embedder.EmbedBatch(r.Context(), []string{req.Query})
			if err != nil {
				http.Error(w, "embed query: "+err.Error(), http.StatusBadGateway)
				return
			}
			req.QueryEmbedding = vecs[0]
		}
		results, diag, err := searchOrch.Search(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results, "diagnostics": diag})
	})

	mux.HandleFunc("/patterns/match", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var qc patterns.QueryContext
		if err := json.NewDecoder(r.Body).Decode(&qc); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		candidates, err := patStore.ListPatterns(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		matches := matcher.Match(qc, candidates)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(matches)
	})

	srv := &http.Server{Addr: getenv("INTELKERNEL_HTTP_ADDR", ":8090"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", map[string]any{"error": err.Error()})
		}
	}()

	logger.Info("intelligenced: consuming", map[string]any{"topic": ingestTopic, "brokers": cfg.Kafka.Brokers})
	consumeErr := make(chan error, 1)
	go func() { consumeErr <- consumer.Run(ctx, handle) }()

	select {
	case <-ctx.Done():
		logger.Info("intelligenced: shutdown signal received", nil)
	case err := <-consumeErr:
		if err != nil && ctx.Err() == nil {
			logger.Error("intelligenced: consumer terminated", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
