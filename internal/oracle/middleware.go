package oracle

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Middleware decorates an Oracle with a cross-cutting concern.
type Middleware func(Oracle) Oracle

// Wrap applies middlewares left to right: Wrap(o, A, B) is A(B(o)).
func Wrap(inner Oracle, mws ...Middleware) Oracle {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// WithTimeout bounds every call. An expired call is reported as a
// transport failure.
func WithTimeout(d time.Duration) Middleware {
	return func(next Oracle) Oracle {
		if d <= 0 {
			return next
		}
		return Func(func(ctx context.Context, system, user string) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			text, err := next.Complete(ctx, system, user)
			if err != nil {
				return "", transportErr("timeout", err)
			}
			return text, nil
		})
	}
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// permanentForStatus marks err permanent for HTTP client errors, except
// 429 which clears on its own.
func permanentForStatus(status int, err error) error {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return &PermanentError{Err: err}
	}
	return err
}

// WithRetry retries failed calls with exponential backoff starting at base.
// maxRetries counts extra attempts after the first. Cancellation of the
// caller's context stops retrying at once.
func WithRetry(maxRetries int, base time.Duration) Middleware {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 300 * time.Millisecond
	}
	return func(next Oracle) Oracle {
		return Func(func(ctx context.Context, system, user string) (string, error) {
			var last error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				text, err := next.Complete(ctx, system, user)
				if err == nil {
					return text, nil
				}
				last = err
				var perm *PermanentError
				if errors.As(err, &perm) || attempt == maxRetries {
					break
				}
				timer := time.NewTimer(base * time.Duration(1<<attempt))
				select {
				case <-ctx.Done():
					timer.Stop()
					return "", transportErr("retry", ctx.Err())
				case <-timer.C:
				}
			}
			return "", transportErr("retry", last)
		})
	}
}

// WithLogging records request sizes, latency and errors at debug level.
func WithLogging(logger *zap.Logger, name string) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Oracle) Oracle {
		return Func(func(ctx context.Context, system, user string) (string, error) {
			start := time.Now()
			text, err := next.Complete(ctx, system, user)
			fields := []zap.Field{
				zap.String("oracle", name),
				zap.Int("prompt_bytes", len(system)+len(user)),
				zap.Int("response_bytes", len(text)),
				zap.Duration("latency", time.Since(start)),
			}
			if err != nil {
				logger.Warn("oracle call failed", append(fields, zap.Error(err))...)
				return text, err
			}
			logger.Debug("oracle call", fields...)
			return text, nil
		})
	}
}

// Counter tallies calls passing through WithCounter.
type Counter struct {
	calls    atomic.Int64
	failures atomic.Int64
}

func (c *Counter) Calls() int64    { return c.calls.Load() }
func (c *Counter) Failures() int64 { return c.failures.Load() }

func WithCounter(c *Counter) Middleware {
	return func(next Oracle) Oracle {
		return Func(func(ctx context.Context, system, user string) (string, error) {
			c.calls.Add(1)
			text, err := next.Complete(ctx, system, user)
			if err != nil {
				c.failures.Add(1)
			}
			return text, err
		})
	}
}
