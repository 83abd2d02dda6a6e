package execution

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestIsRetryable_NonRetryable(t *testing.T) {
	cases := []string{
		"not enough balance / allowance",
		"insufficient funds",
		"Unauthorized",
		"invalid order payload",
		"duplicate order",
		"trading is blocked for this account",
	}
	for _, msg := range cases {
		if IsRetryable(errors.New(msg)) {
			t.Fatalf("%q should not be retryable", msg)
		}
	}
}

func TestIsRetryable_Retryable(t *testing.T) {
	cases := []string{
		"context deadline exceeded",
		"connection reset by peer",
		"http 429: too many requests",
		"http 503: service unavailable",
		"something completely unknown", // 未知错误默认重试
	}
	for _, msg := range cases {
		if !IsRetryable(errors.New(msg)) {
			t.Fatalf("%q should be retryable", msg)
		}
	}
}

func TestIsRetryable_Nil(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error should not be retryable")
	}
}

func TestRetryBackoff_ExponentialCapped(t *testing.T) {
	base := 500 * time.Millisecond
	max := 5 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, max}, // 8s 封顶到 5s
		{10, max},
	}
	for _, c := range cases {
		if got := retryBackoff(c.attempt, base, max); got != c.want {
			t.Fatalf("attempt=%d got=%v want=%v", c.attempt, got, c.want)
		}
	}
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 5, func() error {
		calls++
		return errors.New("insufficient balance")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls got=%d want=1", calls)
	}
}

func TestWithRetry_RetryableExhaustsAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 2, func() error {
		calls++
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected last error after exhaustion")
	}
	if calls != 2 {
		t.Fatalf("calls got=%d want=2", calls)
	}
}

func TestWithRetry_SucceedsAfterFailure(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls got=%d want=2", calls)
	}
}
