package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"deltastream/internal/domain"
	"deltastream/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Breakers guards connection establishment per provider kind. Only the
// connect step (request sent, status received) counts; a stream failing after
// its headers arrived never trips a breaker. Breakers never retry.
type Breakers struct {
	cfg    config.CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[domain.ProviderKind]*gobreaker.CircuitBreaker[*http.Response]
}

// NewBreakers returns nil when cfg is disabled; a nil *Breakers passes every
// call straight through.
func NewBreakers(cfg config.CircuitBreakerConfig, logger *slog.Logger) *Breakers {
	if !cfg.Enabled {
		return nil
	}
	return &Breakers{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[domain.ProviderKind]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (b *Breakers) get(kind domain.ProviderKind) *gobreaker.CircuitBreaker[*http.Response] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[kind]; ok {
		return cb
	}

	maxFailures := b.cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := b.cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := b.cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "llm:" + string(kind),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the vendor's health.
			return err == nil || errors.Is(err, domain.ErrCancelled)
		},
	})
	b.breakers[kind] = cb
	return cb
}

// Open runs connect through the breaker for kind.
func (b *Breakers) Open(kind domain.ProviderKind, connect func() (*http.Response, error)) (*http.Response, error) {
	if b == nil {
		return connect()
	}
	resp, err := b.get(kind).Execute(connect)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCircuitOpen, kind, err)
	}
	return resp, err
}

// State returns the breaker state for kind; closed when breakers are disabled.
func (b *Breakers) State(kind domain.ProviderKind) gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	return b.get(kind).State()
}

// --- Connection Pooling ---

// Default connection pool settings: few hosts, many concurrent long-lived streams.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 120 * time.Second
	defaultConnTimeout         = 30 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling.
// Only dialing and the TLS handshake are bounded; waiting for headers and for
// the next body chunk is not, so a slow vendor never cuts a stream short.
func NewPooledTransport(connTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdlePerHost,
		// 0 = unlimited; concurrent streams to one vendor must not queue.
		MaxConnsPerHost:   pool.MaxConnsPerHost,
		IdleConnTimeout:   idleTimeout,
		ForceAttemptHTTP2: true,
	}
}

// NewHTTPClient creates the shared *http.Client used by every stream and by
// connection tests. It has no overall Timeout; connection tests bound
// themselves with a context deadline instead.
func NewHTTPClient(cfg config.StreamConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.Pool),
	}
}

// withDeadline is a small helper for callers that need a fixed wall-clock budget.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
