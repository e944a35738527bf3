package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", cfg.BaseDelay)
	}
	if cfg.ShouldRetry != nil {
		t.Error("Expected default config to retry every error")
	}
	if PlatformConfig().ShouldRetry == nil {
		t.Error("Expected platform config to filter retryable errors")
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	res := Do(context.Background(), fastConfig(2), func(context.Context) error { return nil })
	if !res.Success || res.Attempts != 1 || len(res.Reasons) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	res := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if !res.Success {
		t.Error("Expected success")
	}
	if res.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", res.Attempts)
	}
	if len(res.Reasons) != 2 {
		t.Errorf("Expected 2 reasons, got %d", len(res.Reasons))
	}
	if res.LastError != nil {
		t.Errorf("Expected nil LastError after success, got %v", res.LastError)
	}
}

func TestDo_AllAttemptsFail(t *testing.T) {
	want := errors.New("persistent failure")
	res := Do(context.Background(), fastConfig(2), func(context.Context) error { return want })
	if res.Success {
		t.Error("Expected failure")
	}
	if res.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", res.Attempts)
	}
	if !errors.Is(res.LastError, want) {
		t.Errorf("Expected %v, got %v", want, res.LastError)
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	cfg := fastConfig(5)
	cfg.ShouldRetry = IsRetryableError
	attempts := 0
	res := Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return errors.New("HTTP 401 Unauthorized")
	})
	if res.Success || attempts != 1 {
		t.Errorf("Expected a single failed attempt, got %d", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	cfg := Config{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := Do(ctx, cfg, func(context.Context) error { return errors.New("always fails") })
	if res.Success {
		t.Error("Expected failure")
	}
	if !errors.Is(res.LastError, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", res.LastError)
	}
	if res.Attempts > 2 {
		t.Errorf("Expected few attempts, got %d", res.Attempts)
	}
}

func TestDoWithReason(t *testing.T) {
	attempts := 0
	res := DoWithReason(context.Background(), fastConfig(2), func(context.Context) (string, error) {
		attempts++
		switch attempts {
		case 1:
			return "network_timeout", errors.New("network timeout")
		case 2:
			return "rate_limit", errors.New("rate limited")
		default:
			return "", nil
		}
	})
	if !res.Success || res.Attempts != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{"network_timeout", "rate_limit"}
	for i, r := range want {
		if res.Reasons[i] != r {
			t.Errorf("reason %d: want %s, got %s", i, r, res.Reasons[i])
		}
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0}
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if got := calculateDelay(cfg, attempt); got != want {
			t.Errorf("attempt %d: want %v, got %v", attempt, want, got)
		}
	}
	if got := calculateDelay(cfg, 10); got != 10*time.Second {
		t.Errorf("Expected cap at 10s, got %v", got)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0, Jitter: true}
	base := 2 * time.Second
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 1)
		if d < base-200*time.Millisecond || d > base+200*time.Millisecond {
			t.Fatalf("delay %v outside jitter window", d)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	for _, msg := range []string{
		"connection refused",
		"connection timeout",
		"HTTP 429 Too Many Requests",
		"HTTP 503 Service Unavailable",
		"unexpected EOF",
		"context deadline exceeded",
	} {
		if !IsRetryableError(errors.New(msg)) {
			t.Errorf("Expected %q to be retryable", msg)
		}
	}
	for _, msg := range []string{
		"invalid input",
		"HTTP 400 Bad Request",
		"HTTP 401 Unauthorized",
		"HTTP 404 Not Found",
	} {
		if IsRetryableError(errors.New(msg)) {
			t.Errorf("Expected %q to NOT be retryable", msg)
		}
	}
	if IsRetryableError(nil) {
		t.Error("Expected nil to NOT be retryable")
	}
}
