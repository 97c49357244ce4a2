package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the per-external-service circuit breakers
// (5 consecutive failures open a breaker for 60s; half-open admits one
// probe).
type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultBreakerConfig is 5 consecutive failures, 60s open.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 60 * time.Second}
}

// breakers keys circuit breakers by external-service name (e.g.
// "github-cli", "llm-provider") so one failing dependency never blocks
// calls to a healthy one.
type breakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	byKey    map[string]*gobreaker.CircuitBreaker
}

func newBreakers(cfg BreakerConfig) *breakers {
	return &breakers{cfg: cfg, byKey: map[string]*gobreaker.CircuitBreaker{}}
}

func (b *breakers) get(serviceKey string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byKey[serviceKey]; ok {
		return cb
	}
	settings := gobreaker.Settings{
		Name:        serviceKey,
		MaxRequests: 1, // half-open admits one probe
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.FailureThreshold
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	b.byKey[serviceKey] = cb
	return cb
}

// wrapBreakerError wraps gobreaker's open-state error as a CategorizedError
// so callers can distinguish "breaker tripped" from the wrapped op's own
// failures.
func wrapBreakerError(serviceKey string, err error) error {
	return Transient(fmt.Errorf("retry: circuit %q: %w", serviceKey, err))
}

// breakerGate is the slice of *gobreaker.CircuitBreaker's API Execute needs.
// op.ServiceKey == "" uses noopGate instead, so breaking is opt-in per
// operation.
type breakerGate interface {
	Execute(func() (any, error)) (any, error)
}

type noopGate struct{}

func (noopGate) Execute(req func() (any, error)) (any, error) { return req() }

func errIsBreakerOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
