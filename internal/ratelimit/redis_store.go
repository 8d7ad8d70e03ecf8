package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix はRedis上のカウンタキーの接頭辞。
const DefaultKeyPrefix = "rl:auth:"

// RedisStore はRedisを使用したCounterStore。
// 全インスタンスが同じRedisを参照することでカウンタを共有する。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore はRedisStoreを生成する。prefixが空の場合はDefaultKeyPrefixを使用する。
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment はSET NX PX、INCR、PTTLを1つのトランザクションで実行する。
// 有効期限はウィンドウの最初の試行でのみ設定されるため、固定ウィンドウになる。
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := s.prefix + key

	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, fullKey, 0, window)
	incr := pipe.Incr(ctx, fullKey)
	pttl := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter %s: %w", fullKey, err)
	}

	return incr.Val(), pttl.Val(), nil
}

// Ping はRedisへの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CounterStore = (*RedisStore)(nil)
