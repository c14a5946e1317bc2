package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// 存储层通用错误
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict 乐观锁版本不一致
	ErrConflict = errors.New("version conflict")
)

// RouteStore 路由存储接口。List 按插入顺序返回。
type RouteStore interface {
	Create(ctx context.Context, route *WorkflowRoute) error
	Update(ctx context.Context, route *WorkflowRoute) error
	Get(ctx context.Context, routeID string) (*WorkflowRoute, error)
	List(ctx context.Context) ([]*WorkflowRoute, error)
}

// InstanceStore 实例存储接口。
//
// Update 要求 instance.Version 与已存储版本一致，否则返回 ErrConflict；
// 成功后存储层将 instance.Version 加一。
type InstanceStore interface {
	Create(ctx context.Context, instance *WorkflowInstance) error
	Update(ctx context.Context, instance *WorkflowInstance) error
	Get(ctx context.Context, instanceID string) (*WorkflowInstance, error)
	List(ctx context.Context, filter InstanceFilter) ([]*WorkflowInstance, error)
}

// InstanceFilter 实例列表过滤条件，空字段表示不过滤。
type InstanceFilter struct {
	Statuses        []InstanceStatus
	WorkflowRouteID string
	DocumentID      string
}

// Match 判断实例是否满足过滤条件。
func (f InstanceFilter) Match(instance *WorkflowInstance) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if instance.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.WorkflowRouteID != "" && instance.WorkflowRouteID != f.WorkflowRouteID {
		return false
	}
	if f.DocumentID != "" && instance.DocumentID != f.DocumentID {
		return false
	}
	return true
}

// =============================================================================
// 💾 内存路由存储
// =============================================================================

// MemoryRouteStore 内存路由存储，适用于开发和测试。
type MemoryRouteStore struct {
	routes map[string]*WorkflowRoute
	order  []string
	mu     sync.RWMutex
}

// NewMemoryRouteStore 创建内存路由存储
func NewMemoryRouteStore() *MemoryRouteStore {
	return &MemoryRouteStore{
		routes: make(map[string]*WorkflowRoute),
	}
}

func (s *MemoryRouteStore) Create(ctx context.Context, route *WorkflowRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[route.ID]; ok {
		return ErrAlreadyExists
	}
	s.routes[route.ID] = route.Clone()
	s.order = append(s.order, route.ID)
	return nil
}

func (s *MemoryRouteStore) Update(ctx context.Context, route *WorkflowRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[route.ID]; !ok {
		return ErrNotFound
	}
	s.routes[route.ID] = route.Clone()
	return nil
}

func (s *MemoryRouteStore) Get(ctx context.Context, routeID string) (*WorkflowRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	route, ok := s.routes[routeID]
	if !ok {
		return nil, ErrNotFound
	}
	return route.Clone(), nil
}

func (s *MemoryRouteStore) List(ctx context.Context) ([]*WorkflowRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkflowRoute, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.routes[id].Clone())
	}
	return out, nil
}

// =============================================================================
// 💾 内存实例存储
// =============================================================================

// MemoryInstanceStore 内存实例存储，适用于开发和测试。
type MemoryInstanceStore struct {
	instances map[string]*WorkflowInstance
	seq       map[string]int
	next      int
	mu        sync.RWMutex
}

// NewMemoryInstanceStore 创建内存实例存储
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]*WorkflowInstance),
		seq:       make(map[string]int),
	}
}

func (s *MemoryInstanceStore) Create(ctx context.Context, instance *WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.ID]; ok {
		return ErrAlreadyExists
	}
	if instance.Version == 0 {
		instance.Version = 1
	}
	s.instances[instance.ID] = instance.Clone()
	s.seq[instance.ID] = s.next
	s.next++
	return nil
}

func (s *MemoryInstanceStore) Update(ctx context.Context, instance *WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instances[instance.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != instance.Version {
		return ErrConflict
	}
	instance.Version++
	s.instances[instance.ID] = instance.Clone()
	return nil
}

func (s *MemoryInstanceStore) Get(ctx context.Context, instanceID string) (*WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	return instance.Clone(), nil
}

func (s *MemoryInstanceStore) List(ctx context.Context, filter InstanceFilter) ([]*WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkflowInstance, 0)
	for _, instance := range s.instances {
		if filter.Match(instance) {
			out = append(out, instance.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}
