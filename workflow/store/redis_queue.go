package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/docflow/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotificationQueue 基于 Redis 列表的通知队列，实现 workflow.Notifier。
// 多个引擎实例共享同一队列时，Drain 仍保证每条通知只被取走一次。
type RedisNotificationQueue struct {
	client redis.UniversalClient
	key    string
	logger *zap.Logger
}

// NewRedisNotificationQueue 创建通知队列，logger 为 nil 时不记录
func NewRedisNotificationQueue(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisNotificationQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotificationQueue{
		client: client,
		key:    keyPrefixOrDefault(keyPrefix) + "notifications",
		logger: logger.With(zap.String("component", "redis_notification_queue")),
	}
}

// Enqueue 追加到队尾
func (q *RedisNotificationQueue) Enqueue(ctx context.Context, n workflow.NotificationPayload) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Drain 在 MULTI/EXEC 中读取并删除整个列表。
// 列表已被删除，无法解码的条目只记录日志并跳过，其余照常返回。
func (q *RedisNotificationQueue) Drain(ctx context.Context) ([]workflow.NotificationPayload, error) {
	var items *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, q.key, 0, -1)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain notifications: %w", err)
	}

	raw := items.Val()
	out := make([]workflow.NotificationPayload, 0, len(raw))
	for _, item := range raw {
		var n workflow.NotificationPayload
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			q.logger.Error("dropping undecodable notification",
				zap.String("key", q.key),
				zap.String("payload", item),
				zap.Error(err),
			)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Len 当前队列长度
func (q *RedisNotificationQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
