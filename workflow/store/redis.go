package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/BaSui01/docflow/workflow"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix Redis 键前缀默认值
const DefaultKeyPrefix = "docflow:"

func keyPrefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultKeyPrefix
	}
	return prefix
}

// =============================================================================
// 📚 RedisRouteStore
// =============================================================================

// RedisRouteStore 基于 Redis 的路由存储。
// 路由以 JSON 字符串保存，route:all 有序集合按插入序号维护顺序。
type RedisRouteStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRouteStore 创建路由存储
func NewRedisRouteStore(client redis.UniversalClient, keyPrefix string) *RedisRouteStore {
	return &RedisRouteStore{client: client, keyPrefix: keyPrefixOrDefault(keyPrefix) + "route:"}
}

func (s *RedisRouteStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *RedisRouteStore) allKey() string           { return s.keyPrefix + "all" }
func (s *RedisRouteStore) seqKey() string           { return s.keyPrefix + "seq" }

func (s *RedisRouteStore) Create(ctx context.Context, route *workflow.WorkflowRoute) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.dataKey(route.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save route: %w", err)
	}
	if !ok {
		return workflow.ErrAlreadyExists
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate route sequence: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.allKey(), redis.Z{Score: float64(seq), Member: route.ID}).Err(); err != nil {
		return fmt.Errorf("failed to index route: %w", err)
	}
	return nil
}

func (s *RedisRouteStore) Update(ctx context.Context, route *workflow.WorkflowRoute) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.dataKey(route.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save route: %w", err)
	}
	if !ok {
		return workflow.ErrNotFound
	}
	return nil
}

func (s *RedisRouteStore) Get(ctx context.Context, routeID string) (*workflow.WorkflowRoute, error) {
	data, err := s.client.Get(ctx, s.dataKey(routeID)).Bytes()
	if err == redis.Nil {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	var route workflow.WorkflowRoute
	if err := json.Unmarshal(data, &route); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route: %w", err)
	}
	return &route, nil
}

func (s *RedisRouteStore) List(ctx context.Context) ([]*workflow.WorkflowRoute, error) {
	ids, err := s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	out := make([]*workflow.WorkflowRoute, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var route workflow.WorkflowRoute
		if err := json.Unmarshal([]byte(str), &route); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route: %w", err)
		}
		out = append(out, &route)
	}
	return out, nil
}

// =============================================================================
// 📚 RedisInstanceStore
// =============================================================================

// RedisInstanceStore 基于 Redis 的实例存储。
//
// 索引：
//   - instance:all           全部实例（score 为插入序号）
//   - instance:status:{s}    按状态
//   - instance:route:{id}    按路由
//
// Update 在 WATCH 事务中比对版本号，事务被并发写打断时返回 workflow.ErrConflict。
type RedisInstanceStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisInstanceStore 创建实例存储
func NewRedisInstanceStore(client redis.UniversalClient, keyPrefix string) *RedisInstanceStore {
	return &RedisInstanceStore{client: client, keyPrefix: keyPrefixOrDefault(keyPrefix) + "instance:"}
}

func (s *RedisInstanceStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *RedisInstanceStore) allKey() string           { return s.keyPrefix + "all" }
func (s *RedisInstanceStore) seqKey() string           { return s.keyPrefix + "seq" }

func (s *RedisInstanceStore) statusKey(status workflow.InstanceStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

func (s *RedisInstanceStore) routeKey(routeID string) string {
	return s.keyPrefix + "route:" + routeID
}

func (s *RedisInstanceStore) Create(ctx context.Context, instance *workflow.WorkflowInstance) error {
	if instance.Version == 0 {
		instance.Version = 1
	}
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.dataKey(instance.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	if !ok {
		return workflow.ErrAlreadyExists
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate instance sequence: %w", err)
	}

	member := redis.Z{Score: float64(seq), Member: instance.ID}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.allKey(), member)
	pipe.ZAdd(ctx, s.statusKey(instance.Status), member)
	pipe.ZAdd(ctx, s.routeKey(instance.WorkflowRouteID), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index instance: %w", err)
	}
	return nil
}

func (s *RedisInstanceStore) Update(ctx context.Context, instance *workflow.WorkflowInstance) error {
	key := s.dataKey(instance.ID)
	next := instance.Clone()
	next.Version = instance.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return workflow.ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored workflow.WorkflowInstance
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal instance: %w", err)
		}
		if stored.Version != instance.Version {
			return workflow.ErrConflict
		}
		score, err := tx.ZScore(ctx, s.allKey(), instance.ID).Result()
		if err != nil && err != redis.Nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if stored.Status != next.Status {
				pipe.ZRem(ctx, s.statusKey(stored.Status), instance.ID)
				pipe.ZAdd(ctx, s.statusKey(next.Status), redis.Z{Score: score, Member: instance.ID})
			}
			if stored.WorkflowRouteID != next.WorkflowRouteID {
				pipe.ZRem(ctx, s.routeKey(stored.WorkflowRouteID), instance.ID)
				pipe.ZAdd(ctx, s.routeKey(next.WorkflowRouteID), redis.Z{Score: score, Member: instance.ID})
			}
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		instance.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return workflow.ErrConflict
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, workflow.ErrConflict):
		return err
	default:
		return fmt.Errorf("failed to update instance: %w", err)
	}
}

func (s *RedisInstanceStore) Get(ctx context.Context, instanceID string) (*workflow.WorkflowInstance, error) {
	data, err := s.client.Get(ctx, s.dataKey(instanceID)).Bytes()
	if err == redis.Nil {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	var instance workflow.WorkflowInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &instance, nil
}

func (s *RedisInstanceStore) List(ctx context.Context, filter workflow.InstanceFilter) ([]*workflow.WorkflowInstance, error) {
	ids, err := s.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*workflow.WorkflowInstance, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var instance workflow.WorkflowInstance
		if err := json.Unmarshal([]byte(str), &instance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
		}
		if filter.Match(&instance) {
			out = append(out, &instance)
		}
	}
	return out, nil
}

// candidateIDs 选择最窄的索引，按插入序号返回候选 ID
func (s *RedisInstanceStore) candidateIDs(ctx context.Context, filter workflow.InstanceFilter) ([]string, error) {
	var keys []string
	switch {
	case len(filter.Statuses) > 0:
		for _, st := range filter.Statuses {
			keys = append(keys, s.statusKey(st))
		}
	case filter.WorkflowRouteID != "":
		keys = []string{s.routeKey(filter.WorkflowRouteID)}
	default:
		keys = []string{s.allKey()}
	}

	seen := make(map[string]struct{})
	var members []redis.Z
	for _, key := range keys {
		zs, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list instances: %w", err)
		}
		for _, z := range zs {
			id, _ := z.Member.(string)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			members = append(members, z)
		}
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].Score < members[j].Score })

	ids := make([]string, len(members))
	for i, z := range members {
		ids[i], _ = z.Member.(string)
	}
	return ids, nil
}
