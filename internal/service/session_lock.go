package service

import (
	"context"
	"errors"
	"time"

	"docuchat-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrSessionBusy 表示等待会话锁超时，同一会话已有提问在执行。
var ErrSessionBusy = errors.New("session is busy with another ask")

// SessionLocker 串行化同一会话内的提问。Acquire 返回释放函数。
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// releaseScript 仅在锁仍属于自己时删除，避免误删他人持有的锁。
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

type redisSessionLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryEvery time.Duration
	maxWait    time.Duration
}

// NewRedisSessionLocker 创建基于 Redis SETNX 的会话锁。
func NewRedisSessionLocker(rdb *redis.Client, ttl, retryEvery, maxWait time.Duration) SessionLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if retryEvery <= 0 {
		retryEvery = 100 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &redisSessionLocker{rdb: rdb, ttl: ttl, retryEvery: retryEvery, maxWait: maxWait}
}

func (l *redisSessionLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := "chat:session_lock:" + sessionID
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				if _, err := l.rdb.Eval(context.Background(), releaseScript, []string{key}, token).Result(); err != nil {
					log.Warnf("[SessionLocker] 释放会话锁失败: %s, %v", sessionID, err)
				}
			}
			return release, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrSessionBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}
}
