package integration

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/chainworks/steward/outcome"
)

// Handler is the terminal function that performs the provider call.
type Handler func(ctx context.Context) (*outcome.Outcome, error)

// Middleware wraps a Handler with cross-cutting logic around one
// provider attempt. It receives the current context, the call being
// made, and the next handler. Middleware MUST call next to continue
// the chain (unless short-circuiting on error).
type Middleware func(ctx context.Context, call *Call, next Handler) (*outcome.Outcome, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first in the list is the
// outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → provider
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (*outcome.Outcome, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (*outcome.Outcome, error) {
				return mw(ctx, call, prev)
			}
		}
		return h(ctx)
	}
}

// Logging returns middleware that logs each provider attempt and its
// classified outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (*outcome.Outcome, error) {
		logger.Info("provider call started",
			slog.String("capability", call.Capability),
			slog.String("instance_id", call.InstanceID.String()),
			slog.String("step", call.StepName),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			logger.Error("provider call errored",
				slog.String("capability", call.Capability),
				slog.String("instance_id", call.InstanceID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case out.Class != outcome.Success:
			logger.Warn("provider call failed",
				slog.String("capability", call.Capability),
				slog.String("instance_id", call.InstanceID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("class", string(out.Class)),
				slog.String("code", out.Code),
			)
		default:
			logger.Info("provider call completed",
				slog.String("capability", call.Capability),
				slog.String("instance_id", call.InstanceID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return out, err
	}
}

// Recover returns middleware that recovers from panics in the provider
// path. Panics are converted to permanent-failure outcomes and logged
// with a stack trace: a panicking provider adapter is a programming
// error, not something retries can fix.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (out *outcome.Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("provider adapter panicked",
					slog.String("capability", call.Capability),
					slog.String("instance_id", call.InstanceID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				out = outcome.Permanent("adapter-panic", fmt.Sprintf("panic in %s: %v", call.Capability, r), nil)
				err = nil
			}
		}()
		return next(ctx)
	}
}
