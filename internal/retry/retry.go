package retry

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/shared"
)

// Policy bounds the retry loop. Backoff is linear: the n-th retry waits
// InitialDelay + (n-1)*DelayIncrement.
type Policy struct {
	MaxAttempts        int
	InitialDelay       time.Duration
	DelayIncrement     time.Duration
	UnknownMaxAttempts int
}

// DefaultPolicy returns 5 attempts starting at 1s, growing by 1s, with unknown errors capped at 3 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        5,
		InitialDelay:       time.Second,
		DelayIncrement:     time.Second,
		UnknownMaxAttempts: 3,
	}
}

// PolicyFromConfig builds a policy from the [retry] config section, keeping defaults for zero values.
func PolicyFromConfig(c shared.RetryConfig) Policy {
	p := DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelay.Duration > 0 {
		p.InitialDelay = c.InitialDelay.Duration
	}
	if c.DelayIncrement.Duration > 0 {
		p.DelayIncrement = c.DelayIncrement.Duration
	}
	if c.UnknownMaxAttempts > 0 {
		p.UnknownMaxAttempts = c.UnknownMaxAttempts
	}
	return p
}

// Failure describes one failed attempt handed to a [FailureHook].
type Failure struct {
	Name          string
	CorrelationID string
	Attempt       int
	Err           error
	Class         Class
}

// FailureHook inspects a failed attempt before the retry decision.
//
// Returning a nil error resolves the operation with the returned value (e.g. a read-back showed
// the write landed). Otherwise the returned error replaces the original and is classified again;
// wrap it with [MarkPermanent] or [MarkTransient] to force the decision.
type FailureHook[T any] func(ctx context.Context, f Failure) (T, error)

// Attempt is reported to the executor's observer after every failed attempt.
type Attempt struct {
	Name          string
	CorrelationID string
	Number        int
	Class         Class
	Delay         time.Duration
	Err           error
}

// Executor re-invokes operations under the classifier's guidance. It holds no mutable state and
// is safe for concurrent use.
type Executor struct {
	policy   Policy
	logger   *log.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	classify func(error) Class
	observe  func(Attempt)
}

type Option func(*Executor)

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithClassifier(fn func(error) Class) Option {
	return func(e *Executor) { e.classify = fn }
}

// WithObserver registers a callback invoked after each failed attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(e *Executor) { e.observe = fn }
}

// NewExecutor creates an [Executor]. A nil logger discards output.
func NewExecutor(policy Policy, logger *log.Logger, opts ...Option) *Executor {
	if policy.DelayIncrement <= 0 {
		policy.DelayIncrement = DefaultPolicy().DelayIncrement
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	e := &Executor{
		policy:   policy,
		logger:   logger,
		sleep:    sleepContext,
		classify: Classify,
		observe:  func(Attempt) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy { return e.policy }

// Do runs op until it succeeds, fails permanently, or the attempt budget is spent.
//
// It returns [shared.ErrRetryExhausted] when no concrete error was captured (a policy without
// attempts), otherwise the last error.
func Do[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error), hook FailureHook[T]) (T, error) {
	var zero T
	var lastErr error

	cid := shared.GenerateID()
	logger := e.logger.With("op", name, "correlation", cid)

	maxAttempts := e.policy.MaxAttempts
	delay := e.policy.InitialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Debug("attempt", "n", attempt, "max", maxAttempts)

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempts", attempt)
			}
			return result, nil
		}

		class := e.classify(err)
		if hook != nil {
			resolved, hookErr := hook(ctx, Failure{Name: name, CorrelationID: cid, Attempt: attempt, Err: err, Class: class})
			if hookErr == nil {
				logger.Warn("failure resolved by verification", "attempt", attempt, "err", err)
				return resolved, nil
			}
			err = hookErr
			class = e.classify(err)
		}
		lastErr = err

		switch class {
		case Permanent:
			e.observe(Attempt{Name: name, CorrelationID: cid, Number: attempt, Class: class, Err: err})
			logger.Error("permanent failure, giving up", "attempt", attempt, "err", err)
			return zero, err
		case Unknown:
			if limit := e.policy.UnknownMaxAttempts; limit > 0 && limit < maxAttempts {
				maxAttempts = max(limit, attempt)
			}
			logger.Warn("unclassified failure, retrying with a reduced budget", "attempt", attempt, "max", maxAttempts, "err", err)
		default:
			logger.Warn("transient failure", "attempt", attempt, "max", maxAttempts, "err", err)
		}

		if attempt >= maxAttempts {
			e.observe(Attempt{Name: name, CorrelationID: cid, Number: attempt, Class: class, Err: err})
			break
		}

		e.observe(Attempt{Name: name, CorrelationID: cid, Number: attempt, Class: class, Delay: delay, Err: err})
		if err := e.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: retry interrupted: %w", name, err)
		}
		delay += e.policy.DelayIncrement
	}

	if lastErr == nil {
		return zero, fmt.Errorf("%w: %s", shared.ErrRetryExhausted, name)
	}
	logger.Error("retry attempts exhausted", "attempts", maxAttempts, "err", lastErr)
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
