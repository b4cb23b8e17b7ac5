// Package resilience wraps external calls (LLM, vector index, adapters) with
// a circuit breaker and a retrier, grounded on the pattern the ledger
// component exercises through sony/gobreaker in pkg/mcircuitbreaker: one
// breaker per failure domain, a StateChangeListener for observability, and a
// translation of the open-breaker case into a typed PipelineError.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
)

// Domain names the failure domain a breaker protects, used as both the
// breaker's Name and the label on its state-change audit records.
type Domain string

const (
	DomainLLM     Domain = "llm"
	DomainVector  Domain = "vector"
	DomainAdapter Domain = "adapter"
)

// BreakerConfig configures a single domain's breaker. Zero values fall back
// to the defaults in NewBreaker.
type BreakerConfig struct {
	MaxRequests          uint32
	Interval             time.Duration
	Timeout              time.Duration
	ConsecutiveFailures  uint32
	FailureRatioMinCalls uint32
	FailureRatio         float64
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}

	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}

	if c.FailureRatioMinCalls == 0 {
		c.FailureRatioMinCalls = 10
	}

	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}

	return c
}

// Breaker wraps gobreaker.CircuitBreaker[any] for a single failure domain,
// translating gobreaker.ErrOpenState into a pipelineerr.Error so callers
// never have to know about the underlying library's sentinel error.
type Breaker struct {
	domain Domain
	cb     *gobreaker.CircuitBreaker[any]
}

// NewBreaker builds a breaker for domain. logger receives one Warn record per
// state transition, the same role StateChangeListener plays in the teacher's
// test harness.
func NewBreaker(domain Domain, cfg BreakerConfig, logger logging.Logger) *Breaker {
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        string(domain),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			total := counts.Requests
			if total < cfg.FailureRatioMinCalls {
				return false
			}

			ratio := float64(counts.TotalFailures) / float64(total)

			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("breaker %q transitioned %s -> %s", name, from, to)
		},
	}

	return &Breaker{
		domain: domain,
		cb:     gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Execute runs fn through the breaker. A gobreaker.ErrOpenState or
// ErrTooManyRequests surfaces as a *pipelineerr.Error with CodeBreakerOpen;
// any other error from fn passes through unwrapped so the caller's own error
// classification still applies.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, pipelineerr.Wrap(pipelineerr.CodeBreakerOpen,
				string(b.domain)+" circuit breaker is open", err)
		}

		return nil, err
	}

	return result, nil
}

// State returns the breaker's current state, used by observability to
// publish a breaker.state gauge per domain.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the breaker's rolling window counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Registry holds one Breaker per Domain, built once at startup and shared by
// every stage and adapter that calls into that domain.
type Registry struct {
	breakers map[Domain]*Breaker
}

// NewRegistry builds a breaker for every domain in cfgs using logger for
// state-change records.
func NewRegistry(cfgs map[Domain]BreakerConfig, logger logging.Logger) *Registry {
	r := &Registry{breakers: make(map[Domain]*Breaker, len(cfgs))}

	for domain, cfg := range cfgs {
		r.breakers[domain] = NewBreaker(domain, cfg, logger)
	}

	return r
}

// Get returns the breaker registered for domain, or nil if none was
// configured. Callers should treat a nil breaker as "no protection" rather
// than panicking, since not every deployment wires every domain.
func (r *Registry) Get(domain Domain) *Breaker {
	return r.breakers[domain]
}
