package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/appdb"
	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/embedder"
	"regulatory-rag-core/internal/geocode"
	"regulatory-rag-core/internal/httpapi"
	"regulatory-rag-core/internal/ingest"
	"regulatory-rag-core/internal/llm"
	"regulatory-rag-core/internal/mdrender"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/observability"
	"regulatory-rag-core/internal/retrieval"
	"regulatory-rag-core/internal/scraper"
	"regulatory-rag-core/internal/validation"
	"regulatory-rag-core/internal/vectorindex"
)

// deps holds every adapter the CLI's subcommands wire together. Built once
// per invocation from the loaded Config.
type deps struct {
	cfg       *config.Config
	registry  *config.Registry
	logger    *zap.Logger
	store     objectstore.Interface
	index     vectorindex.Interface
	db        *appdb.DB
	embed     *embedder.Embedder
	scraper   *scraper.Scraper
	geocoder  *geocode.Client
	llm       *llm.Client
	render    *mdrender.Client
	metrics   *observability.Metrics
	promReg   *prometheus.Registry
	orch      *ingest.Orchestrator
	pipeline  *retrieval.Pipeline
	validator *validation.Checker
}

// buildDeps loads config/registry and constructs every adapter. Errors here
// are configuration errors (spec.md §7 ConfigError) and should exit 1.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	registry, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	logger, err := observability.NewLogger(verbose)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	store, err := objectstore.New(ctx, cfg.ObjectStoreEndpoint, cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, cfg.ObjectStoreBucket, cfg.ObjectStoreUseTLS, logger)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	index, err := vectorindex.New(ctx, cfg.PostgresDSN, cfg.VectorIndexName, cfg.VectorIndexDimension, logger)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	db, err := appdb.New(ctx, cfg.ApplicationDBDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("application db: %w", err)
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	emb := embedder.New(cfg.EmbeddingEndpoint, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbedHardLimit, cache, logger)
	scr := scraper.New(time.Duration(cfg.PerHostScrapeDelayMS)*time.Millisecond, logger)
	geo := geocode.New(cfg.GeocoderEndpoint, cfg.GeocoderAPIKey, logger)
	llmClient := llm.New(cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMModel)
	render := mdrender.New(cfg.RenderingServiceEndpoint)

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)

	orch := ingest.New(store, emb, index, db, logger).WithMetrics(metrics)
	pipeline := retrieval.New(geo, emb, index, llmClient, db, logger).WithMetrics(metrics)
	validator := validation.New(index, store, cfg.VectorIndexDimension, registry)

	return &deps{
		cfg: cfg, registry: registry, logger: logger,
		store: store, index: index, db: db, embed: emb, scraper: scr,
		geocoder: geo, llm: llmClient, render: render,
		metrics: metrics, promReg: promReg,
		orch: orch, pipeline: pipeline, validator: validator,
	}, nil
}

func (d *deps) close() {
	d.db.Close()
}

var _ httpapi.IngestService = (*ingestService)(nil)
