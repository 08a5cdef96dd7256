package ai

import (
	"context"
	"net/http"
	"time"

	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

const (
	// BaseRetryDelay is multiplied by the attempt number for backoff.
	BaseRetryDelay = 2 * time.Second
	// MaxQuotaDelay bounds how long a rate-limit hint may ask us to wait;
	// longer quota waits are returned as errors.
	MaxQuotaDelay = 30 * time.Second
)

// DelayFunc reports whether err is transient and how long to wait before
// the next attempt (1-based).
type DelayFunc func(err error, attempt int) (time.Duration, bool)

// StatusRetryDelay is the retry policy shared by providers: 429 waits for the
// server hint (or backs off when there is none), 5xx gateway errors back off.
func StatusRetryDelay(status int, hint time.Duration, attempt int) (time.Duration, bool) {
	backoff := time.Duration(attempt) * BaseRetryDelay

	switch status {
	case http.StatusTooManyRequests:
		if hint > MaxQuotaDelay {
			return 0, false
		}
		if hint > 0 {
			return hint, true
		}
		return backoff, true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return backoff, true
	default:
		return 0, false
	}
}

// Retrier runs a request up to MaxRetries times.
type Retrier struct {
	MaxRetries int
	Delay      DelayFunc
	// Wait pauses between attempts. Nil uses utils.WaitFor.
	Wait   func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

// Do calls fn until it succeeds, the error is not transient, attempts run
// out or ctx is done.
func (r Retrier) Do(ctx context.Context, fn func() error) error {
	wait := r.Wait
	if wait == nil {
		wait = utils.WaitFor
	}
	attempts := r.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	log := logger.OrNop(r.Logger)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if r.Delay == nil || attempt == attempts {
			break
		}
		delay, ok := r.Delay(err, attempt)
		if !ok {
			break
		}

		log.Warn("ai request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if waitErr := wait(ctx, delay); waitErr != nil {
			return waitErr
		}
	}

	return err
}
