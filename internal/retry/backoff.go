package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/logging"
)

// Config configures exponential backoff.
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool // +/-10% random jitter
	// ShouldRetry decides whether a failure is worth another attempt.
	// nil retries every error.
	ShouldRetry func(error) bool
}

// Result describes how an operation went.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
	Reasons       []string // one per failed attempt
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// PlatformConfig retries only transient transport failures.
func PlatformConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.ShouldRetry = IsRetryableError
	return cfg
}

// CompletionConfig is tuned for slower model calls.
func CompletionConfig() Config {
	return Config{
		MaxRetries:  2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.5,
		Jitter:      true,
		ShouldRetry: IsRetryableError,
	}
}

// Do runs op until it succeeds, the retries run out, ShouldRetry rejects the
// error, or ctx is done.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) Result {
	return DoWithReason(ctx, cfg, func(ctx context.Context) (string, error) {
		err := op(ctx)
		if err != nil {
			return err.Error(), err
		}
		return "", nil
	})
}

// DoWithReason is Do for operations that classify their own failures.
func DoWithReason(ctx context.Context, cfg Config, op func(ctx context.Context) (reason string, err error)) Result {
	start := time.Now()
	runLog := logging.GetCurrentLogger()
	res := Result{}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		reason, err := op(ctx)
		if err == nil {
			res.Success = true
			res.LastError = nil
			res.TotalDuration = time.Since(start)
			if attempt > 0 {
				runLog.Log("Operation succeeded after %d retries (%v)", attempt, res.TotalDuration)
			}
			return res
		}

		res.LastError = err
		res.Reasons = append(res.Reasons, reason)

		if attempt >= cfg.MaxRetries || (cfg.ShouldRetry != nil && !cfg.ShouldRetry(err)) {
			break
		}
		if ctx.Err() != nil {
			res.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(cfg, attempt)
		log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying after failure")
		runLog.Log("Attempt %d/%d failed: %v; waiting %v", attempt+1, cfg.MaxRetries+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res
		case <-timer.C:
		}
	}

	res.TotalDuration = time.Since(start)
	return res
}

func calculateDelay(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(mult, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		spread := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * spread
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(delay)
}

var retryableErrors = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"no such host",
	"network unreachable",
	"broken pipe",
	"eof",
	"context deadline exceeded",
}

// IsRetryableError reports whether err looks like a transient transport or
// upstream failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
