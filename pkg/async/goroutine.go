package async

import (
	"context"
	"time"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// SafeGo runs fn in a goroutine with a timeout-bounded context, panic
// recovery and error logging. Use it instead of a bare `go func()` for
// fire-and-forget work such as audit writes and cache repopulation.
//
//	async.SafeGo(ctx, 2*time.Second, "session cache fill", logger, func(ctx context.Context) error {
//	    return cache.SetJSON(ctx, key, snapshot, ttl)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	logger = observability.OrNop(logger)
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}
