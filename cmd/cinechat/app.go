package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/cinechat/internal/agent"
	"github.com/nidhogg/cinechat/internal/config"
	"github.com/nidhogg/cinechat/internal/embedding"
	"github.com/nidhogg/cinechat/internal/ingest"
	"github.com/nidhogg/cinechat/internal/memory"
	"github.com/nidhogg/cinechat/internal/metrics"
	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/rag"
	"github.com/nidhogg/cinechat/internal/recommend"
	"github.com/nidhogg/cinechat/internal/seen"
	pgstore "github.com/nidhogg/cinechat/internal/store"
	"github.com/nidhogg/cinechat/internal/vectorstore"
	"go.uber.org/zap"
)

// app owns every long-lived component. It is built once per process.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	router    *provider.Router
	retriever *rag.Retriever
	memories  *memory.Store
	engine    *agent.Engine
	pipeline  *ingest.Pipeline
	sessions  *pgstore.Store

	closers []func()
}

type buildOpts struct {
	withSessions bool
	withChat     bool
}

func buildApp(ctx context.Context, cfg *config.Config, opts buildOpts, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	embedder := embedding.NewAPIProvider(cfg.Embedding)
	index := a.vectorIndex(ctx)

	a.retriever = rag.NewRetriever(embedder, index, rag.Options{
		Collection:  cfg.RAG.Collection,
		Dimension:   cfg.Embedding.Dimension,
		BatchSize:   cfg.RAG.BatchSize,
		Concurrency: cfg.RAG.Concurrency,
	}, logger)
	if err := a.retriever.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init chunk collection: %w", err)
	}

	a.memories = memory.NewStore(embedder, index, cfg.Memory.Collection, logger)
	if err := a.memories.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init memory collection: %w", err)
	}

	a.pipeline = ingest.NewPipeline(
		ingest.NewLoader(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, logger),
		a.retriever, logger)

	if opts.withChat {
		if err := a.buildEngine(cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.withSessions && cfg.Database.Postgres.DSN != "" {
		ps, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without sessions", zap.Error(err))
		} else if err := ps.Migrate(ctx); err != nil {
			ps.Close()
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		} else {
			a.sessions = ps
			a.closers = append(a.closers, ps.Close)
		}
	}
	return a, nil
}

// vectorIndex dials Qdrant when configured and falls back to process memory.
func (a *app) vectorIndex(ctx context.Context) vectorstore.Index {
	q := a.cfg.Database.Qdrant
	if q.Host == "" {
		a.logger.Info("No Qdrant host configured, keeping vectors in memory")
		return vectorstore.NewMemIndex()
	}
	client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx)
		cancel()
		if err == nil {
			a.closers = append(a.closers, func() { client.Close() })
			a.logger.Info("Qdrant connected", zap.String("host", q.Host), zap.Int("port", q.Port))
			return client
		}
		client.Close()
	}
	a.logger.Warn("Qdrant unavailable, keeping vectors in memory", zap.Error(err))
	return vectorstore.NewMemIndex()
}

func (a *app) buildEngine(cfg *config.Config, logger *zap.Logger) error {
	a.router = provider.NewRouter(cfg.Breaker.ToProvider(), logger)
	for _, pc := range cfg.Providers {
		switch pc.Type {
		case "openai", "openai-compatible":
			a.router.Register(provider.NewOpenAIProvider(pc.ToProvider(), logger))
		case "anthropic":
			a.router.Register(provider.NewAnthropicProvider(pc.ToProvider(), logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Routing.Default != "" {
		a.router.SetDefault(cfg.Routing.Default)
	}
	a.router.SetFallbacks(cfg.Routing.Fallbacks)

	var tracker seen.Tracker = seen.Noop{}
	if cfg.Database.Redis.URL != "" {
		rt, err := seen.NewRedisTracker(cfg.Database.Redis.URL,
			time.Duration(cfg.Database.Redis.SeenTTLHours)*time.Hour, logger)
		if err != nil {
			logger.Warn("Redis unavailable, recommendations will not track seen titles", zap.Error(err))
		} else {
			tracker = rt
			a.closers = append(a.closers, func() { rt.Close() })
		}
	}

	persona, err := agent.LoadPersona(cfg.Agent.SystemPromptFile)
	if err != nil {
		return err
	}

	tools := agent.NewToolRegistry()
	agent.RegisterMovieTools(tools, recommend.NewRanker(a.retriever, tracker, logger), a.retriever)

	reflector := memory.NewReflector(a.memories, cfg.Memory.MinImportance, logger)
	a.engine = agent.NewEngine(a.router, tools, reflector, persona,
		cfg.Agent.Options(cfg.Memory.TopK), a.metrics, logger)
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
