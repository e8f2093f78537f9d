package llm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/service"
)

const (
	maxAttempts   = 3
	retryBaseWait = 2 * time.Second
)

// WithRetry runs fn up to three times, backing off exponentially with
// jitter on retryable failures (429, 5xx, 529, connection errors, read
// timeouts). Auth, credit, and overflow errors return immediately.
func WithRetry(ctx context.Context, logger *zap.Logger, provider, model string,
	fn func() (*service.LLMResult, error)) (*service.LLMResult, error) {

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		classified := service.ClassifyError(err, provider, model)
		lastErr = classified
		if !classified.IsRetryable() || attempt == maxAttempts {
			return nil, classified
		}

		wait := retryBaseWait * time.Duration(1<<(attempt-1))
		wait += time.Duration(rand.Int63n(int64(wait / 2)))
		logger.Warn("Provider call failed, retrying",
			zap.String("provider", provider),
			zap.String("kind", classified.Kind.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
		)

		select {
		case <-ctx.Done():
			return nil, service.ClassifyError(ctx.Err(), provider, model)
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
