package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/docflow/internal/cache"
	"github.com/BaSui01/docflow/testutil"
	"github.com/BaSui01/docflow/testutil/fixtures"
	"github.com/BaSui01/docflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouteCache(t *testing.T) *cache.Manager {
	t.Helper()
	_, client := newTestRedis(t)
	m, err := cache.NewManager(client, cache.Config{KeyPrefix: "c:", DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// countingRouteStore 统计 Get 穿透次数
type countingRouteStore struct {
	workflow.RouteStore
	gets int
}

func (s *countingRouteStore) Get(ctx context.Context, id string) (*workflow.WorkflowRoute, error) {
	s.gets++
	return s.RouteStore.Get(ctx, id)
}

func TestCachedRouteStore_Suite(t *testing.T) {
	runRouteStoreSuite(t, func(t *testing.T) workflow.RouteStore {
		return NewCachedRouteStore(workflow.NewMemoryRouteStore(), newRouteCache(t), time.Minute, nil)
	})
}

func TestCachedRouteStore_ReadThrough(t *testing.T) {
	ctx := testutil.TestContext(t)
	backing := &countingRouteStore{RouteStore: workflow.NewMemoryRouteStore()}
	c := newRouteCache(t)
	s := NewCachedRouteStore(backing, c, time.Minute, nil)

	require.NoError(t, s.Create(ctx, fixtures.AcademicRoute("r1", "Academic")))

	for range 3 {
		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "Academic", got.Name)
	}
	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, cache.Stats{Hits: 2, Misses: 1}, c.GetStats())

	updated := fixtures.AcademicRoute("r1", "Academic v2")
	require.NoError(t, s.Update(ctx, updated))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Academic v2", got.Name)
	assert.Equal(t, 2, backing.gets)
}

func TestCachedRouteStore_MissesAreNotCached(t *testing.T) {
	ctx := testutil.TestContext(t)
	backing := &countingRouteStore{RouteStore: workflow.NewMemoryRouteStore()}
	s := NewCachedRouteStore(backing, newRouteCache(t), time.Minute, nil)

	for range 2 {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	}
	assert.Equal(t, 2, backing.gets)
}

// brokenCache 所有操作都失败
type brokenCache struct{}

var errBroken = errors.New("cache down")

func (brokenCache) GetJSON(context.Context, string, any) error { return errBroken }
func (brokenCache) SetJSON(context.Context, string, any, time.Duration) error { return errBroken }
func (brokenCache) Delete(context.Context, ...string) error { return errBroken }

func TestCachedRouteStore_CacheFailuresFallBack(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := NewCachedRouteStore(workflow.NewMemoryRouteStore(), brokenCache{}, time.Minute, zap.NewNop())

	require.NoError(t, s.Create(ctx, fixtures.AcademicRoute("r1", "Academic")))
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Academic", got.Name)
	require.NoError(t, s.Update(ctx, fixtures.AcademicRoute("r1", "v2")))

	routes, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}
