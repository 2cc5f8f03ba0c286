// Package corectx builds the CoreContext: every component (C1-C7) is
// constructed once at startup from Config and wired together explicitly,
// following the Design Notes' anti-singleton guidance — there is no
// process-wide mutable configuration or connection pool, only this one
// struct passed by pointer into the orchestrator and the transports.
package corectx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"mnemo/internal/compressor"
	"mnemo/internal/config"
	"mnemo/internal/core"
	"mnemo/internal/fuser"
	"mnemo/internal/gateway"
	"mnemo/internal/injector"
	"mnemo/internal/retriever"
	"mnemo/internal/store"
	"mnemo/internal/vectorindex"
)

// CoreContext owns every component's constructed instance and the
// shared dependencies (logger, meter) threaded into them. Nothing here
// is a package-level global.
type CoreContext struct {
	Config config.Config
	Log    zerolog.Logger
	Meter  metric.Meter

	Store       store.Store
	VectorIndex vectorindex.VectorIndex
	Gateway     *gateway.Gateway
	Compressor  *compressor.Compressor
	Retriever   *retriever.Retriever
	Fuser       *fuser.Fuser
	Injector    *injector.Injector
	Cache       *redis.Client
}

// Build constructs every component from cfg. Callers are responsible for
// calling Close when done. A Postgres or Qdrant URL configured but
// unreachable is a startup error; leaving either URL empty selects the
// in-memory fallback used by tests and `none` deployments.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, meter metric.Meter) (*CoreContext, error) {
	cc := &CoreContext{Config: cfg, Log: log, Meter: meter}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("corectx: build store: %w", err)
	}
	cc.Store = st

	idx, err := buildVectorIndex(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("corectx: build vector index: %w", err)
	}
	cc.VectorIndex = idx

	if cfg.VectorIndex.Dimension != idx.Dimension() {
		return nil, &core.FatalError{Component: "corectx", Cause: fmt.Errorf(
			"configured embedding dimension %d does not match vector index dimension %d",
			cfg.VectorIndex.Dimension, idx.Dimension())}
	}

	gw := gateway.New(log, meter, cfg.VectorIndex.Dimension)
	if err := wireProviders(ctx, gw, cfg); err != nil {
		return nil, fmt.Errorf("corectx: wire providers: %w", err)
	}
	cc.Gateway = gw

	if cfg.Retrieval.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Retrieval.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("corectx: parse redis url: %w", err)
		}
		cc.Cache = redis.NewClient(opts)
	}

	cc.Compressor = compressor.New(gw, log, cfg.Limits.CompressorInflight)
	cc.Retriever = retriever.New(gw, st, idx, cc.Cache, cfg.Retrieval.CacheEnabled, time.Duration(cfg.Retrieval.CacheTTLSeconds)*time.Second, log)
	cc.Fuser = fuser.New(gw, log, "light")
	cc.Injector = injector.New(cc.Retriever, cc.Fuser, log)

	return cc, nil
}

// Close releases the store connection pool and the vector index client
// and cache connection, in reverse of their construction order.
func (cc *CoreContext) Close() {
	if cc.Cache != nil {
		_ = cc.Cache.Close()
	}
	if cc.VectorIndex != nil {
		_ = cc.VectorIndex.Close()
	}
	if cc.Store != nil {
		cc.Store.Close()
	}
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store.URL == "" {
		return store.NewMemoryStore(), nil
	}
	pool, err := store.NewPostgresPool(ctx, cfg.Store.URL, cfg.Store.PoolSize)
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.Init(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func buildVectorIndex(ctx context.Context, cfg config.Config) (vectorindex.VectorIndex, error) {
	dim := cfg.VectorIndex.Dimension
	if dim <= 0 {
		dim = 4096
	}
	if cfg.VectorIndex.URL == "" {
		return vectorindex.NewMemoryIndex(dim), nil
	}
	return vectorindex.NewQdrantIndex(ctx, cfg.VectorIndex.URL, cfg.VectorIndex.Collection, dim)
}

// wireProviders registers every configured provider against the
// interfaces it implements and sets the embed/rerank/light/heavy
// fallback chains from cfg.Models, in the order providers are declared
// under models.providers.
func wireProviders(ctx context.Context, gw *gateway.Gateway, cfg config.Config) error {
	var embedChain, rerankChain, lightChain, heavyChain []gateway.ChainEntry

	for _, p := range cfg.Models.Providers {
		timeout := time.Duration(p.TimeoutMs) * time.Millisecond
		httpClient := &http.Client{Timeout: timeout}
		name := strings.ToLower(p.Name)

		var embedder gateway.Embedder
		var reranker gateway.Reranker
		var completer gateway.Completer

		switch name {
		case "anthropic":
			completer = gateway.NewAnthropicProvider(p.APIKey, p.BaseURL, cfg.Models.Heavy, httpClient)
		case "openai":
			oai := gateway.NewOpenAIProvider(p.APIKey, p.BaseURL, cfg.Models.Embed, httpClient)
			embedder = oai
			completer = oai
		case "openai-rerank":
			reranker = gateway.NewOpenAIRerankProvider(p.APIKey, p.BaseURL, httpClient)
		case "gemini":
			gem, err := gateway.NewGeminiProvider(ctx, p.APIKey, p.BaseURL, cfg.Models.Light, httpClient, timeout)
			if err != nil {
				return fmt.Errorf("provider %q: %w", p.Name, err)
			}
			embedder = gem
			completer = gem
		default:
			return fmt.Errorf("provider %q: unrecognized provider name", p.Name)
		}

		gw.RegisterProvider(p.Name, p.ConcurrencyLimit, p.PricePerKTokens, embedder, reranker, completer)

		for _, m := range p.SupportedModels {
			entry := gateway.ChainEntry{Model: m, Provider: p.Name}
			switch m {
			case cfg.Models.Embed:
				embedChain = append(embedChain, entry)
			case cfg.Models.Rerank:
				rerankChain = append(rerankChain, entry)
			case cfg.Models.Light:
				lightChain = append(lightChain, entry)
			case cfg.Models.Heavy:
				heavyChain = append(heavyChain, entry)
			}
		}
	}

	gw.SetEmbedChain(embedChain)
	gw.SetRerankChain(rerankChain)
	gw.SetCompleteChain("light", lightChain)
	gw.SetCompleteChain("heavy", heavyChain)
	return nil
}
