package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures WithBreaker. Zero values take the defaults noted
// on each field.
type BreakerConfig struct {
	Name string

	// MaxRequests allowed while half-open. Default 1.
	MaxRequests uint32

	// Interval after which closed-state counts reset. Default 60s.
	Interval time.Duration

	// Timeout before an open breaker goes half-open. Default 30s.
	Timeout time.Duration

	// ConsecutiveFailures that trip the breaker. Default 5.
	ConsecutiveFailures uint32

	Logger *zap.Logger
}

// Breaker is a Completer guarded by a circuit breaker. While the breaker is
// open, calls fail immediately with an error wrapping ErrCompletion.
type Breaker struct {
	next Completer
	cb   *gobreaker.CircuitBreaker
}

var _ Completer = (*Breaker)(nil)

// WithBreaker wraps c in a circuit breaker.
func WithBreaker(c Completer, cfg BreakerConfig) *Breaker {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Breaker{
		next: c,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("llm.breaker_state",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

// Complete implements Completer.
func (b *Breaker) Complete(ctx context.Context, system, user string) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Complete(ctx, system, user)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", wrap("breaker", err)
		}
		return "", err
	}
	return out.(string), nil
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }
