package ai

import (
	"context"
	"time"
)

// RetryPolicy 描述有界指数退避重试。
type RetryPolicy struct {
	// MaxAttempts 是总尝试次数上限（含首次），<=0 时按 1 处理。
	MaxAttempts int
	// BaseDelay 是首次重试前的等待时长，之后每次翻倍。
	BaseDelay time.Duration
	// MaxDelay 限制单次等待的上限，零值表示不封顶。
	MaxDelay time.Duration
}

// DefaultRetryPolicy 返回提供商调用的默认重试策略。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Do 执行 op，瞬时错误按指数退避重试；重试耗尽后返回 KindTransientExhausted。
// 校验类与永久类错误立即返回，不消耗重试预算。
func (p RetryPolicy) Do(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		select {
		case <-ctx.Done():
			return NewError(KindTransient, provider, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return Errorf(KindTransientExhausted, provider, "%d attempts exhausted: %w", attempts, lastErr)
}
