package store

import (
	"context"
	"time"

	"github.com/BaSui01/docflow/workflow"
	"go.uber.org/zap"
)

// JSONCache 路由读缓存的最小接口，由 internal/cache.Manager 实现。
// GetJSON 的任何错误（含未命中）都回落到底层存储。
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedRouteStore 为 Get 增加读缓存的路由存储装饰器。
// Create/Update 写穿底层存储后使缓存失效；List 不走缓存。
type CachedRouteStore struct {
	next   workflow.RouteStore
	cache  JSONCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRouteStore 包装路由存储
func NewCachedRouteStore(next workflow.RouteStore, cache JSONCache, ttl time.Duration, logger *zap.Logger) *CachedRouteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRouteStore{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "route_cache")),
	}
}

func routeCacheKey(id string) string { return "route:" + id }

func (s *CachedRouteStore) Create(ctx context.Context, route *workflow.WorkflowRoute) error {
	if err := s.next.Create(ctx, route); err != nil {
		return err
	}
	s.invalidate(ctx, route.ID)
	return nil
}

func (s *CachedRouteStore) Update(ctx context.Context, route *workflow.WorkflowRoute) error {
	if err := s.next.Update(ctx, route); err != nil {
		return err
	}
	s.invalidate(ctx, route.ID)
	return nil
}

func (s *CachedRouteStore) Get(ctx context.Context, routeID string) (*workflow.WorkflowRoute, error) {
	var cached workflow.WorkflowRoute
	if err := s.cache.GetJSON(ctx, routeCacheKey(routeID), &cached); err == nil {
		return &cached, nil
	}

	route, err := s.next.Get(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, routeCacheKey(routeID), route, s.ttl); err != nil {
		s.logger.Warn("failed to populate route cache", zap.String("route_id", routeID), zap.Error(err))
	}
	return route, nil
}

func (s *CachedRouteStore) List(ctx context.Context) ([]*workflow.WorkflowRoute, error) {
	return s.next.List(ctx)
}

// 写入已成功，失效失败只记录日志；条目最迟在 TTL 后过期
func (s *CachedRouteStore) invalidate(ctx context.Context, routeID string) {
	if err := s.cache.Delete(ctx, routeCacheKey(routeID)); err != nil {
		s.logger.Warn("failed to invalidate route cache", zap.String("route_id", routeID), zap.Error(err))
	}
}
