package execution

import (
	"context"
	"strings"
	"time"

	"github.com/betbot/copybot/pkg/logger"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBase    = 500 * time.Millisecond
	defaultRetryMaxWait = 5 * time.Second
)

// nonRetryable 命中即放弃重试的错误特征。
// 鉴权、余额、参数类错误重试只会得到同样的结果。
var nonRetryable = []string{
	"unauthorized",
	"auth",
	"blocked",
	"insufficient",
	"invalid",
	"duplicate",
}

// retryable 明确可重试的错误特征（网络抖动、限流、服务端错误）。
var retryable = []string{
	"network",
	"connection",
	"timeout",
	"deadline",
	"429",
	"too many requests",
	"500",
	"502",
	"503",
	"504",
}

// IsRetryable 按错误文本分类。未知错误默认可重试：
// 偏向多试一次，真正不该重试的错误类型都在黑名单里。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return true
}

// retryBackoff 第 attempt 次失败后的等待时间：base × 2^(attempt-1)，封顶。
func retryBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// withRetry 执行 fn 直到成功、遇到不可重试错误或次数用尽。
// 次数用尽返回最后一个错误。
func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := retryBackoff(attempt, defaultRetryBase, defaultRetryMaxWait)
		logger.Warnf("下单失败，%s 后重试（第 %d/%d 次）: %v", delay, attempt, maxAttempts, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
