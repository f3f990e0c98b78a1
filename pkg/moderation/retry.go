package moderation

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/allthingslinux/tux/pkg/audit"
	"github.com/allthingslinux/tux/pkg/log"
)

// RetryPolicy governs one operation class.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64 // uniform fraction of the delay, 0 disables
	Breaker           BreakerConfig
}

// DefaultPolicies returns the per-class retry and breaker tuning. Removal
// actions are deliberate and get few attempts; message sends tolerate more
// because they are best-effort.
func DefaultPolicies() map[OperationClass]RetryPolicy {
	return map[OperationClass]RetryPolicy{
		ClassBanKick: {
			MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second,
			BackoffMultiplier: 2.0, Jitter: 0.2,
			Breaker: BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenDuration: 30 * time.Second},
		},
		ClassTimeout: {
			MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second,
			BackoffMultiplier: 2.0, Jitter: 0.2,
			Breaker: BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenDuration: 30 * time.Second},
		},
		ClassMessages: {
			MaxAttempts: 4, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 4 * time.Second,
			BackoffMultiplier: 2.0, Jitter: 0.25,
			Breaker: BreakerConfig{FailureThreshold: 8, SuccessThreshold: 2, OpenDuration: 20 * time.Second},
		},
		ClassDatabase: {
			MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second,
			BackoffMultiplier: 2.0, Jitter: 0.1,
			Breaker: BreakerConfig{FailureThreshold: 6, SuccessThreshold: 2, OpenDuration: 15 * time.Second},
		},
		ClassAPIOther: {
			MaxAttempts: 3, InitialBackoff: 300 * time.Millisecond, MaxBackoff: 4 * time.Second,
			BackoffMultiplier: 2.0, Jitter: 0.2,
			Breaker: BreakerConfig{FailureThreshold: 6, SuccessThreshold: 2, OpenDuration: 20 * time.Second},
		},
	}
}

// ErrRetryExhausted wraps the final transient error once attempts run out.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Runner executes calls under the class retry policy and circuit breaker.
type Runner struct {
	policies map[OperationClass]RetryPolicy
	breakers map[OperationClass]*Breaker
	monitor  *audit.Monitor
	logger   *slog.Logger

	// sleep is swapped in tests to keep them fast.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a runner with one breaker per class. monitor may be nil.
func NewRunner(policies map[OperationClass]RetryPolicy, monitor *audit.Monitor) *Runner {
	if policies == nil {
		policies = DefaultPolicies()
	}
	r := &Runner{
		policies: policies,
		breakers: make(map[OperationClass]*Breaker, len(policies)),
		monitor:  monitor,
		logger:   log.Component("retry"),
		sleep:    sleepCtx,
	}
	for class, p := range policies {
		class := class
		r.breakers[class] = NewBreaker(p.Breaker, func() {
			r.logger.Warn("circuit breaker tripped", "class", string(class))
			if r.monitor != nil {
				r.monitor.RecordBreakerTrip(string(class))
			}
		})
	}
	return r
}

// BreakerState exposes the class breaker state for health reporting.
func (r *Runner) BreakerState(class OperationClass) BreakerState {
	return r.breakers[class].State()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op under the class policy. Transient errors are retried with
// exponential backoff; a server-supplied retry-after is honored verbatim
// before the next attempt is charged. Permanent errors return immediately.
// While the class breaker is open, Do fails with ErrCircuitOpen without
// calling op.
func (r *Runner) Do(ctx context.Context, class OperationClass, op func(ctx context.Context) error) error {
	policy, ok := r.policies[class]
	if !ok {
		policy = DefaultPolicies()[ClassAPIOther]
	}
	br := r.breakers[class]

	var lastErr error
	delay := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &APIError{Kind: KindCancelled, Message: err.Error()}
		}

		gen, err := br.Allow()
		if err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			br.Record(gen, true)
			return nil
		}

		ae, classified := asAPIError(lastErr)
		if !classified {
			// Unclassified errors are treated as permanent and do not count
			// against the breaker.
			br.Record(gen, true)
			return lastErr
		}
		if ae.Kind == KindCancelled {
			br.Record(gen, true)
			return ae
		}
		if !ae.Retryable() {
			br.Record(gen, true)
			return ae
		}
		br.Record(gen, false)

		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		if ae.Kind == KindRateLimited && ae.RetryAfter > 0 {
			wait = ae.RetryAfter
		} else if policy.Jitter > 0 {
			wait += time.Duration(rand.Float64() * policy.Jitter * float64(wait))
		}
		r.logger.Debug("retrying after transient error",
			"class", string(class), "attempt", attempt, "wait", wait, "error", ae.Error())
		if err := r.sleep(ctx, wait); err != nil {
			return &APIError{Kind: KindCancelled, Message: err.Error()}
		}

		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
		if delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}

	return errors.Join(ErrRetryExhausted, lastErr)
}
