package workflow

import (
	"context"
	"sync"

	"github.com/BaSui01/docflow/types"
)

// RoleResolver 角色判定协作者。身份解析由外部身份服务完成，
// 引擎只询问"该用户是否持有该角色"。
type RoleResolver interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// RoleResolverFunc 函数适配器
type RoleResolverFunc func(ctx context.Context, userID, role string) (bool, error)

// HasRole 实现 RoleResolver
func (f RoleResolverFunc) HasRole(ctx context.Context, userID, role string) (bool, error) {
	return f(ctx, userID, role)
}

// StaticRoleResolver 基于静态用户-角色目录的判定器。
type StaticRoleResolver struct {
	users map[string]map[string]struct{}
	mu    sync.RWMutex
}

// NewStaticRoleResolver 从 user -> roles 映射创建判定器
func NewStaticRoleResolver(directory map[string][]string) *StaticRoleResolver {
	r := &StaticRoleResolver{users: make(map[string]map[string]struct{})}
	for user, roles := range directory {
		r.Grant(user, roles...)
	}
	return r
}

// Grant 为用户授予角色
func (r *StaticRoleResolver) Grant(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	for _, role := range roles {
		set[role] = struct{}{}
	}
}

// Revoke 撤销用户角色
func (r *StaticRoleResolver) Revoke(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[userID]
	if !ok {
		return
	}
	for _, role := range roles {
		delete(set, role)
	}
}

// HasRole 实现 RoleResolver
func (r *StaticRoleResolver) HasRole(ctx context.Context, userID, role string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID][role]
	return ok, nil
}

// ClaimsRoleResolver 优先使用请求上下文中已认证用户的角色声明（JWT），
// 查询其他用户或上下文无声明时回退到 fallback。
type ClaimsRoleResolver struct {
	fallback RoleResolver
}

// NewClaimsRoleResolver 创建基于声明的判定器，fallback 可为 nil。
func NewClaimsRoleResolver(fallback RoleResolver) *ClaimsRoleResolver {
	return &ClaimsRoleResolver{fallback: fallback}
}

// HasRole 实现 RoleResolver
func (r *ClaimsRoleResolver) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if caller, ok := types.UserID(ctx); ok && caller == userID {
		if roles, ok := types.Roles(ctx); ok {
			for _, held := range roles {
				if held == role {
					return true, nil
				}
			}
		}
	}
	if r.fallback == nil {
		return false, nil
	}
	return r.fallback.HasRole(ctx, userID, role)
}

// hasAnyRole 用户持有 roles 中任一角色即返回 true。
func hasAnyRole(ctx context.Context, resolver RoleResolver, userID string, roles []string) (bool, error) {
	for _, role := range roles {
		ok, err := resolver.HasRole(ctx, userID, role)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
