package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/retry"
)

// ResilientService wraps a completion.Service with a per-call timeout and
// retries on transient upstream failures.
type ResilientService struct {
	next        completion.Service
	retryConfig retry.Config
	timeout     time.Duration
}

func NewResilientService(next completion.Service, cfg retry.Config, timeout time.Duration) *ResilientService {
	return &ResilientService{next: next, retryConfig: cfg, timeout: timeout}
}

func NewResilientServiceWithDefaults(next completion.Service, timeout time.Duration) *ResilientService {
	return NewResilientService(next, retry.CompletionConfig(), timeout)
}

func (rs *ResilientService) Classify(ctx context.Context, prompt string) (string, error) {
	return rs.call(ctx, "classify", func(ctx context.Context) (string, error) {
		return rs.next.Classify(ctx, prompt)
	})
}

func (rs *ResilientService) Generate(ctx context.Context, req completion.Request) (string, error) {
	return rs.call(ctx, "generate", func(ctx context.Context) (string, error) {
		return rs.next.Generate(ctx, req)
	})
}

func (rs *ResilientService) call(ctx context.Context, op string, fn func(context.Context) (string, error)) (string, error) {
	var out string
	result := retry.DoWithReason(ctx, rs.retryConfig, func(ctx context.Context) (string, error) {
		attemptCtx := ctx
		if rs.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, rs.timeout)
			defer cancel()
		}
		s, err := fn(attemptCtx)
		if err != nil {
			return failureReason(err), err
		}
		out = s
		return "", nil
	})

	if !result.Success {
		log.Warn().Err(result.LastError).
			Str("operation", op).
			Int("attempts", result.Attempts).
			Strs("reasons", result.Reasons).
			Msg("completion call failed")
		return "", result.LastError
	}
	if result.Attempts > 1 {
		log.Debug().Str("operation", op).Int("attempts", result.Attempts).Dur("duration", result.TotalDuration).Msg("completion call recovered")
	}
	return out, nil
}

func failureReason(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return "rate_limit"
	case retry.IsRetryableError(err):
		return "transient"
	default:
		return "permanent"
	}
}
