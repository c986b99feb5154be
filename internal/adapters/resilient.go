package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/codekeeper/crawler/internal/model"
)

// Backoff parameters from spec.md §5: base 1s, factor 2, cap 60s, up to
// 3 retries.
const (
	BackoffBase    = 1 * time.Second
	BackoffFactor  = 2
	BackoffCap     = 60 * time.Second
	BackoffRetries = 3
)

// Resilient wraps a single external call with gobreaker-based circuit
// breaking (grounded on jordigilh-kubernaut's circuitbreaker.Manager
// usage around its notification adapters) and the exponential back-off
// described in spec.md §5. A PermanentExternal failure disables the
// adapter for the remainder of the run and is logged exactly once;
// a TransientExternal failure is retried up to BackoffRetries times and
// then yields "no candidate" to the caller without aborting anything.
type Resilient struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
	warned  bool
}

// NewResilient builds a named circuit breaker for one external
// collaborator (Review Client, one Generator, Search, Store, Notifier).
func NewResilient(name string, logger *logrus.Logger) *Resilient {
	if logger == nil {
		logger = logrus.New()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    BackoffCap,
		Timeout:     BackoffCap,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(BackoffRetries)
		},
	}
	return &Resilient{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Call executes op through the breaker with exponential back-off on
// model.ErrTransientExternal. A model.ErrPermanentExternal disables the
// adapter for the remainder of the run (every later Call returns
// model.ErrPermanentExternal without invoking op) and is logged once.
func (r *Resilient) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if r.warned {
		return fmt.Errorf("%w: adapter %s disabled for remainder of run", model.ErrPermanentExternal, r.name)
	}
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.callWithBackoff(ctx, op)
	})
	if err != nil && errors.Is(err, model.ErrPermanentExternal) && !r.warned {
		r.warned = true
		r.logger.WithField("adapter", r.name).Warn("adapter disabled for remainder of run after permanent external failure")
	}
	return err
}

func (r *Resilient) callWithBackoff(ctx context.Context, op func(ctx context.Context) error) error {
	delay := BackoffBase
	var lastErr error
	for attempt := 0; attempt <= BackoffRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, model.ErrPermanentExternal) {
			return err
		}
		if !errors.Is(err, model.ErrTransientExternal) {
			return err
		}
		if attempt == BackoffRetries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= BackoffFactor
		if delay > BackoffCap {
			delay = BackoffCap
		}
	}
	return fmt.Errorf("adapter %s exhausted retries: %w", r.name, lastErr)
}
