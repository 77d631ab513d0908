// Package embed selects and wraps text embedding providers.
package embed

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/WessleyAI/catalog-vectors/pkg/fn"
	"github.com/WessleyAI/catalog-vectors/pkg/ollama"
	"github.com/WessleyAI/catalog-vectors/pkg/openai"
	"github.com/WessleyAI/catalog-vectors/pkg/resilience"
)

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// Embedder maps text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects a provider and the guard around it.
type Config struct {
	Provider  string        `yaml:"provider"`
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Dims      int           `yaml:"dims"` // hash provider only
	RPS       float64       `yaml:"rps"`  // 0 disables rate limiting
	Burst     int           `yaml:"burst"`
	Retries   int           `yaml:"retries"` // attempts per text, including the first
	RetryWait time.Duration `yaml:"retry_wait"`
	// BreakerThreshold consecutive failures open the circuit; 0 disables it.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// New builds the configured provider wrapped in a Guard.
func New(cfg Config, log *slog.Logger) (*Guard, error) {
	var inner Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		inner = ollama.NewEmbedClient(cfg.URL, cfg.Model)
	case ProviderOpenAI:
		inner = openai.NewEmbedClient(cfg.URL, cfg.APIKey, cfg.Model)
	case ProviderHash:
		if cfg.Dims <= 0 {
			return nil, errors.New("embed: hash provider needs dims")
		}
		inner = Hash{Dims: cfg.Dims}
	default:
		return nil, fmt.Errorf("embed: unsupported provider %q", cfg.Provider)
	}
	return NewGuard(inner, cfg, log), nil
}

// Guard adds rate limiting, bounded retry and a circuit breaker to an
// Embedder. It is safe for concurrent use when the inner embedder is.
type Guard struct {
	inner   Embedder
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	retry   fn.RetryOpts
}

// NewGuard wraps inner according to cfg.
func NewGuard(inner Embedder, cfg Config, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	g := &Guard{
		inner:   inner,
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RPS, Burst: cfg.Burst}),
		retry:   fn.DefaultRetry,
	}
	g.retry.MaxAttempts = cfg.Retries
	if g.retry.MaxAttempts <= 0 {
		g.retry.MaxAttempts = 1
	}
	if cfg.RetryWait > 0 {
		g.retry.InitialWait = cfg.RetryWait
	}
	g.retry.Retryable = retryable
	g.retry.OnRetry = func(attempt int, err error) {
		log.Debug("embed retry", "attempt", attempt, "error", err)
	}
	if cfg.BreakerThreshold > 0 {
		g.breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: cfg.BreakerThreshold,
			Timeout:       cfg.BreakerTimeout,
			OnStateChange: func(from, to resilience.State) {
				log.Warn("embedder circuit", "from", from.String(), "to", to.String())
			},
		})
	}
	return g
}

// Embed embeds text, waiting for a rate-limit token before each attempt.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	attempt := func(ctx context.Context) fn.Result[[]float32] {
		if err := g.limiter.Wait(ctx); err != nil {
			return fn.Err[[]float32](err)
		}
		return fn.FromPair(g.inner.Embed(ctx, text))
	}
	call := func(ctx context.Context) fn.Result[[]float32] {
		if g.breaker == nil {
			return attempt(ctx)
		}
		return resilience.CallResult(g.breaker, ctx, attempt)
	}
	return fn.Retry(ctx, g.retry, call).Unwrap()
}

func retryable(err error) bool {
	return !errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Hash is a deterministic, model-free embedder for dry runs and tests. Equal
// texts map to equal unit vectors.
type Hash struct {
	Dims int
}

func (h Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dims)
	var norm float64
	for i := range vec {
		f := fnv.New64a()
		fmt.Fprintf(f, "%d:%s", i, text)
		v := float64(int64(f.Sum64()>>11))/float64(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
