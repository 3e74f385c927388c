package agent

import (
	"context"
	"math/rand/v2"
	"time"
)

// retryDelay 计算第 attempt 次重试（从 0 开始）前的等待时间：指数退避加抖动，
// 上限 limit；限流且服务端给出 RetryAfter 时以其为准，同样不超过 limit。
func retryDelay(gerr *GatewayError, attempt int, base, limit time.Duration) time.Duration {
	if gerr.Kind == RateLimited && gerr.RetryAfter > 0 {
		if limit > 0 {
			return min(gerr.RetryAfter, limit)
		}
		return gerr.RetryAfter
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << uint(min(attempt, 16))
	if limit > 0 && d > limit {
		d = limit
	}
	return withJitter(d, d/4)
}

func withJitter(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	delta := time.Duration(rand.Int64N(int64(jitter)*2+1)) - jitter
	return base + delta
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
