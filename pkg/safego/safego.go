package safego

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// If the goroutine panics, the panic value is logged and the goroutine exits
// cleanly instead of crashing the process.
//
// Usage:
//
//	safego.Go(logger, "queue-drain", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// GoCtx launches a context-aware goroutine with panic recovery. The function
// receives ctx and is expected to return when ctx is cancelled.
func GoCtx(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) {
	Go(logger, name, func() { fn(ctx) })
}

// Loop runs fn repeatedly until ctx is cancelled, recovering from panics on
// each iteration. A panicking iteration is logged and the loop continues after
// a short backoff, so a single bad input cannot kill a background worker.
func Loop(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) {
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			ran := make(chan struct{})
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("Loop iteration panicked",
							zap.String("goroutine", name),
							zap.Any("panic", r),
							zap.Stack("stack"),
						)
					}
					close(ran)
				}()
				fn(ctx)
			}()
			<-ran
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()
}
