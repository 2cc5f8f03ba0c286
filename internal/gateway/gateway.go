package gateway

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"mnemo/internal/core"
)

// ChainEntry is one (model, provider) pair in an operation's fallback
// chain, tried in order.
type ChainEntry struct {
	Model    string
	Provider string
}

// registeredProvider bundles a provider's optional operation
// implementations with its concurrency limiter and price table, the way
// the spec's provider abstraction groups name, auth, models, price, and
// concurrency limit into one configuration unit.
type registeredProvider struct {
	name            string
	embedder        Embedder
	reranker        Reranker
	completer       Completer
	limiter         chan struct{}
	pricePerKTokens map[string]float64
}

// RetryPolicy configures the per-(model,provider) retry behavior.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
}

// Gateway is the Model Gateway (C1).
type Gateway struct {
	log        zerolog.Logger
	meter      metric.Meter
	retry      RetryPolicy
	dimension  int // configured embedding dimension invariant

	mu         sync.RWMutex
	providers  map[string]*registeredProvider
	embedChain []ChainEntry
	rerankChain []ChainEntry
	completeChains map[string][]ChainEntry // "light" | "heavy"

	costsMu sync.Mutex
	costs   []CostRecord

	callCounter metric.Int64Counter
}

// New builds an empty Gateway. Providers and chains are registered with
// RegisterProvider and SetEmbedChain, SetRerankChain and SetCompleteChain
// before use.
func New(log zerolog.Logger, meter metric.Meter, dimension int) *Gateway {
	g := &Gateway{
		log:            log,
		meter:          meter,
		retry:          defaultRetryPolicy(),
		dimension:      dimension,
		providers:      make(map[string]*registeredProvider),
		completeChains: make(map[string][]ChainEntry),
	}
	if meter != nil {
		if c, err := meter.Int64Counter("mnemo_gateway_calls_total"); err == nil {
			g.callCounter = c
		}
	}
	return g
}

// RegisterProvider adds a provider under name with a concurrency bound
// and price table; any of embedder/reranker/completer may be nil when
// the provider doesn't support that operation.
func (g *Gateway) RegisterProvider(name string, concurrency int, pricePerKTokens map[string]float64, embedder Embedder, reranker Reranker, completer Completer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if concurrency <= 0 {
		concurrency = 1
	}
	g.providers[name] = &registeredProvider{
		name:            name,
		embedder:        embedder,
		reranker:        reranker,
		completer:       completer,
		limiter:         make(chan struct{}, concurrency),
		pricePerKTokens: pricePerKTokens,
	}
}

// SetEmbedChain sets the ordered fallback chain for embed calls. All
// entries must resolve to the configured dimension; that is enforced at
// call time, not here, since a provider's declared dimension may not be
// probeable statically.
func (g *Gateway) SetEmbedChain(chain []ChainEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.embedChain = chain
}

// SetRerankChain sets the ordered fallback chain for rerank calls.
func (g *Gateway) SetRerankChain(chain []ChainEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rerankChain = chain
}

// SetCompleteChain sets the ordered fallback chain for a named completion
// purpose ("light", "heavy", or any caller-defined key).
func (g *Gateway) SetCompleteChain(purpose string, chain []ChainEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completeChains[purpose] = chain
}

func (g *Gateway) chainSnapshot(which string) []ChainEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch which {
	case "embed":
		return append([]ChainEntry(nil), g.embedChain...)
	case "rerank":
		return append([]ChainEntry(nil), g.rerankChain...)
	default:
		return append([]ChainEntry(nil), g.completeChains[which]...)
	}
}

func (g *Gateway) provider(name string) (*registeredProvider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[name]
	return p, ok
}

// Embed embeds texts using the configured embed chain. A returned vector
// whose dimension does not match the gateway's configured dimension is a
// Fatal error — per the spec's dimensionality invariant, the gateway
// never silently returns a different-width vector.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	chain := g.chainSnapshot("embed")
	if len(chain) == 0 {
		return nil, &core.ModelNotConfiguredError{Model: "embed"}
	}
	var lastErr error
	for _, entry := range chain {
		vecs, err := g.tryEmbed(ctx, entry, texts)
		if err == nil {
			return vecs, nil
		}
		var fatal *core.FatalError
		if isFatal(err, &fatal) {
			return nil, err
		}
		lastErr = err
		g.log.Warn().Err(err).Str("model", entry.Model).Str("provider", entry.Provider).Msg("gateway: embed chain entry failed")
	}
	g.log.Error().Str("chain", joinModels(chain)).Msg("gateway: embed chain exhausted")
	return nil, &core.AllProvidersFailedError{Operation: "embed", LastCause: lastErr}
}

func (g *Gateway) tryEmbed(ctx context.Context, entry ChainEntry, texts []string) ([][]float64, error) {
	p, ok := g.provider(entry.Provider)
	if !ok || p.embedder == nil {
		return nil, &core.NotConfiguredError{Capability: entry.Provider + ":embed"}
	}
	var out [][]float64
	err := g.withRetry(ctx, p, "embed", entry.Model, func() (Usage, error) {
		vecs, usage, err := p.embedder.EmbedBatch(ctx, entry.Model, texts)
		if err != nil {
			return usage, err
		}
		for _, v := range vecs {
			if len(v) != g.dimension {
				return usage, &core.FatalError{Component: "gateway.embed", Cause: fmt.Errorf("model %s returned dimension %d, expected %d", entry.Model, len(v), g.dimension)}
			}
		}
		out = vecs
		return usage, nil
	})
	return out, err
}

// Rerank scores docs against query using the configured rerank chain.
func (g *Gateway) Rerank(ctx context.Context, query string, docs []string, topK int) ([]RerankResult, error) {
	chain := g.chainSnapshot("rerank")
	if len(chain) == 0 {
		return nil, &core.NotConfiguredError{Capability: "rerank"}
	}
	var lastErr error
	for _, entry := range chain {
		p, ok := g.provider(entry.Provider)
		if !ok || p.reranker == nil {
			lastErr = &core.NotConfiguredError{Capability: entry.Provider + ":rerank"}
			continue
		}
		var out []RerankResult
		err := g.withRetry(ctx, p, "rerank", entry.Model, func() (Usage, error) {
			results, usage, err := p.reranker.Rerank(ctx, entry.Model, query, docs, topK)
			out = results
			return usage, err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		g.log.Warn().Err(err).Str("model", entry.Model).Msg("gateway: rerank chain entry failed")
	}
	return nil, &core.AllProvidersFailedError{Operation: "rerank", LastCause: lastErr}
}

// Complete runs a completion using the chain registered under purpose
// ("light" or "heavy" in the default config, but callers may register
// any key).
func (g *Gateway) Complete(ctx context.Context, purpose string, messages []Message, params CompleteParams) (string, error) {
	chain := g.chainSnapshot(purpose)
	if len(chain) == 0 {
		return "", &core.NotConfiguredError{Capability: "complete:" + purpose}
	}
	var lastErr error
	for _, entry := range chain {
		p, ok := g.provider(entry.Provider)
		if !ok || p.completer == nil {
			lastErr = &core.NotConfiguredError{Capability: entry.Provider + ":complete"}
			continue
		}
		var out string
		err := g.withRetry(ctx, p, "complete", entry.Model, func() (Usage, error) {
			text, usage, err := p.completer.Complete(ctx, entry.Model, messages, params)
			out = text
			return usage, err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		g.log.Warn().Err(err).Str("model", entry.Model).Msg("gateway: complete chain entry failed")
	}
	return "", &core.AllProvidersFailedError{Operation: "complete:" + purpose, LastCause: lastErr}
}

// withRetry runs fn up to g.retry.MaxAttempts times with exponential
// backoff and ±20% jitter, acquiring the provider's concurrency slot for
// each attempt and recording a cost entry on success.
func (g *Gateway) withRetry(ctx context.Context, p *registeredProvider, operation, model string, fn func() (Usage, error)) error {
	var lastErr error
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		select {
		case p.limiter <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		start := time.Now()
		usage, err := fn()
		<-p.limiter
		latency := time.Since(start)

		if err == nil {
			g.recordCost(p, operation, model, usage, latency)
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		var fatal *core.FatalError
		if isFatal(err, &fatal) {
			return err
		}
		if attempt == g.retry.MaxAttempts-1 {
			break
		}
		delay := backoffWithJitter(g.retry.BaseDelay, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/-20%
	return time.Duration(d * jitter)
}

// isRetryable mirrors the spec's retry policy: transient external errors
// are retried; 4xx other than 408/425/429 is not.
func isRetryable(err error) bool {
	var transient *core.TransientExternalError
	if te, ok := asTransient(err, &transient); ok {
		return te.Retryable
	}
	return false
}

func asTransient(err error, target **core.TransientExternalError) (*core.TransientExternalError, bool) {
	te, ok := err.(*core.TransientExternalError)
	if ok {
		*target = te
		return te, true
	}
	return nil, false
}

func isFatal(err error, target **core.FatalError) bool {
	fe, ok := err.(*core.FatalError)
	if ok {
		*target = fe
		return true
	}
	return false
}

func (g *Gateway) recordCost(p *registeredProvider, operation, model string, usage Usage, latency time.Duration) {
	price := p.pricePerKTokens[model]
	totalK := float64(usage.InputTokens+usage.OutputTokens) / 1000.0
	rec := CostRecord{
		Provider:     p.name,
		Model:        model,
		Operation:    operation,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      totalK * price,
		LatencyMs:    latency.Milliseconds(),
		Timestamp:    time.Now(),
	}
	g.costsMu.Lock()
	g.costs = append(g.costs, rec)
	g.costsMu.Unlock()

	if g.callCounter != nil {
		g.callCounter.Add(context.Background(), 1)
	}
}

// CostRecords returns a snapshot of every recorded call since startup.
// Durable persistence of this stream is optional and external.
func (g *Gateway) CostRecords() []CostRecord {
	g.costsMu.Lock()
	defer g.costsMu.Unlock()
	return append([]CostRecord(nil), g.costs...)
}

// Dimension returns the gateway's configured embedding dimension.
func (g *Gateway) Dimension() int { return g.dimension }

// HasRerank reports whether any entry in the rerank chain resolves to a
// registered provider, used by the retriever to decide whether to
// attempt AI rerank at all.
func (g *Gateway) HasRerank() bool {
	for _, e := range g.chainSnapshot("rerank") {
		if p, ok := g.provider(e.Provider); ok && p.reranker != nil {
			return true
		}
	}
	return false
}

func joinModels(chain []ChainEntry) string {
	names := make([]string, len(chain))
	for i, e := range chain {
		names[i] = e.Provider + "/" + e.Model
	}
	return strings.Join(names, ",")
}
