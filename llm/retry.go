package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRetries is the default number of retries after the initial attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the default initial delay for exponential backoff.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay is the default ceiling for a single backoff delay.
	DefaultMaxDelay = 30 * time.Second
	// StandardMultiplier is the multiplier for exponential backoff.
	StandardMultiplier = 2.0
	// StandardRandomizationFactor is the randomization factor applied when jitter is enabled.
	StandardRandomizationFactor = 0.2
)

// RetryConfig governs one retry policy instance. Immutable; shared across calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt, so the
	// total number of attempts is MaxRetries+1.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps every individual delay, jitter included.
	MaxDelay time.Duration
	// Jitter adds bounded random noise to each delay to avoid thundering herds.
	Jitter bool
}

// DefaultRetryConfig returns a RetryConfig with standard settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     true,
	}
}

// newBackOff builds the exponential backoff schedule for one logical call.
func (c RetryConfig) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.BaseDelay
	eb.Multiplier = StandardMultiplier
	eb.MaxInterval = c.MaxDelay
	eb.MaxElapsedTime = 0 // attempts are bounded by MaxRetries, not wall time
	if c.Jitter {
		eb.RandomizationFactor = StandardRandomizationFactor
	} else {
		eb.RandomizationFactor = 0
	}
	eb.Reset()
	return eb
}

// WithRetry runs op up to cfg.MaxRetries+1 times, sleeping between attempts
// with exponential backoff. A non-retryable classified error aborts
// immediately. When all attempts fail, the returned error is a
// *RetryExhaustedError carrying the attempt count and the last error;
// intermediate failures are only logged.
func WithRetry(ctx context.Context, logger zerolog.Logger, cfg RetryConfig, providerName string, op func(ctx context.Context) (*Response, error)) (*Response, error) {
	b := cfg.newBackOff()

	for attempt := 0; ; attempt++ {
		resp, err := op(ctx)
		if err == nil {
			return resp, nil
		}

		if !IsRetryableError(err) || attempt == cfg.MaxRetries {
			return nil, &RetryExhaustedError{
				Provider: providerName,
				Attempts: attempt + 1,
				LastErr:  err,
			}
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop || delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		// A rate-limit Retry-After hint overrides the computed delay, still
		// bounded by MaxDelay.
		if hint := ExtractRetryAfter(err); hint != nil && *hint > 0 {
			delay = *hint
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		logger.Warn().
			Str("provider", providerName).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("delay", delay).
			Err(err).
			Msg("Provider call failed, retrying after delay")

		if err := waitForRetry(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// waitForRetry waits for the specified delay, respecting context cancellation.
func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
