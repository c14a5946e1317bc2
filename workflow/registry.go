package workflow

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/docflow/types"
)

// RouteUpdate 路由的部分更新，nil 字段保持不变。
// Steps / EscalationPaths 整体替换。
type RouteUpdate struct {
	Name                    *string           `json:"name,omitempty"`
	Description             *string           `json:"description,omitempty"`
	Type                    *RouteType        `json:"type,omitempty"`
	DocumentType            *string           `json:"document_type,omitempty"`
	Department              *string           `json:"department,omitempty"`
	Branch                  *string           `json:"branch,omitempty"`
	Steps                   *[]WorkflowStep   `json:"steps,omitempty"`
	EscalationPaths         *[]EscalationPath `json:"escalation_paths,omitempty"`
	RequiresCounterApproval *bool             `json:"requires_counter_approval,omitempty"`
	AutoEscalation          *AutoEscalation   `json:"auto_escalation,omitempty"`
	IsActive                *bool             `json:"is_active,omitempty"`
}

func (u RouteUpdate) apply(r *WorkflowRoute) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.Type != nil {
		r.Type = *u.Type
	}
	if u.DocumentType != nil {
		r.DocumentType = *u.DocumentType
	}
	if u.Department != nil {
		r.Department = *u.Department
	}
	if u.Branch != nil {
		r.Branch = *u.Branch
	}
	if u.Steps != nil {
		r.Steps = (&WorkflowRoute{Steps: *u.Steps}).Clone().Steps
	}
	if u.EscalationPaths != nil {
		r.EscalationPaths = (&WorkflowRoute{EscalationPaths: *u.EscalationPaths}).Clone().EscalationPaths
	}
	if u.RequiresCounterApproval != nil {
		r.RequiresCounterApproval = *u.RequiresCounterApproval
	}
	if u.AutoEscalation != nil {
		r.AutoEscalation = *u.AutoEscalation
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
}

// CreateWorkflowRoute 分配 ID 与时间戳，校验后保存路由。
func (e *Engine) CreateWorkflowRoute(ctx context.Context, route *WorkflowRoute) (out *WorkflowRoute, err error) {
	if route == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "workflow route is required")
	}
	ctx, span := e.tracer.Start(ctx, "workflow.create_route", trace.WithAttributes(
		attribute.String("workflow.route_name", route.Name),
	))
	defer func() { endSpan(span, err) }()

	r := route.Clone()
	now := e.now()
	r.ID = e.newID()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	e.normalizeRoute(r)
	if err := ValidateRoute(r); err != nil {
		return nil, err
	}
	e.warnTimeoutGaps(r)

	if err := e.routes.Create(ctx, r); err != nil {
		return nil, storeError(err, "workflow route", r.ID)
	}
	e.logger.Info("workflow route created",
		zap.String("route_id", r.ID),
		zap.String("name", r.Name),
		zap.String("document_type", r.DocumentType),
		zap.Int("steps", len(r.Steps)),
	)
	return r.Clone(), nil
}

// UpdateWorkflowRoute 合并部分字段并整体替换路由。id 不存在时返回 (nil, nil)。
// 进行中的实例保持原 currentStepId，不会被重新编号；删除其所在步骤的修改返回 CONFIGURATION。
func (e *Engine) UpdateWorkflowRoute(ctx context.Context, routeID string, update RouteUpdate) (out *WorkflowRoute, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.update_route", trace.WithAttributes(
		attribute.String("workflow.route_id", routeID),
	))
	defer func() { endSpan(span, err) }()

	unlock := e.locks.Lock("route:" + routeID)
	defer unlock()

	r, err := e.routes.Get(ctx, routeID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "workflow route", routeID)
	}
	update.apply(r)
	return e.replaceRoute(ctx, r)
}

func (e *Engine) replaceRoute(ctx context.Context, r *WorkflowRoute) (*WorkflowRoute, error) {
	r.UpdatedAt = e.now()
	r.Version++
	e.normalizeRoute(r)
	if err := ValidateRoute(r); err != nil {
		return nil, err
	}
	e.warnTimeoutGaps(r)
	if err := e.checkLiveSteps(ctx, r); err != nil {
		return nil, err
	}
	if err := e.routes.Update(ctx, r); err != nil {
		return nil, storeError(err, "workflow route", r.ID)
	}
	e.logger.Info("workflow route updated",
		zap.String("route_id", r.ID),
		zap.Int("version", r.Version),
	)
	return r.Clone(), nil
}

// liveStatuses 仍会接受动作的实例状态
var liveStatuses = []InstanceStatus{StatusPending, StatusInProgress, StatusEscalated}

// checkLiveSteps 拒绝删除仍有未结束实例停留的步骤，否则这些实例无法再推进
func (e *Engine) checkLiveSteps(ctx context.Context, r *WorkflowRoute) error {
	live, err := e.instances.List(ctx, InstanceFilter{WorkflowRouteID: r.ID, Statuses: liveStatuses})
	if err != nil {
		return storeError(err, "workflow instances", "")
	}
	for _, inst := range live {
		if r.StepByID(inst.CurrentStepID) == nil {
			return types.Errorf(types.ErrConfiguration,
				"step %s is still current for workflow instance %s (%s); keep the step until the instance finishes",
				inst.CurrentStepID, inst.ID, inst.Status)
		}
	}
	return nil
}

// RegisterRoutes 按名称 upsert 路由定义：同名路由整体替换（保留 ID），否则新建。
func (e *Engine) RegisterRoutes(ctx context.Context, defs []*WorkflowRoute) ([]*WorkflowRoute, error) {
	existing, err := e.routes.List(ctx)
	if err != nil {
		return nil, storeError(err, "workflow routes", "")
	}
	byName := make(map[string]*WorkflowRoute, len(existing))
	for _, r := range existing {
		byName[r.Name] = r
	}

	out := make([]*WorkflowRoute, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			return out, types.NewError(types.ErrInvalidRequest, "workflow route is required")
		}
		current, ok := byName[def.Name]
		if !ok {
			created, err := e.CreateWorkflowRoute(ctx, def)
			if err != nil {
				return out, err
			}
			out = append(out, created)
			continue
		}
		unlock := e.locks.Lock("route:" + current.ID)
		r := def.Clone()
		r.ID = current.ID
		r.Version = current.Version
		r.CreatedAt = current.CreatedAt
		updated, err := e.replaceRoute(ctx, r)
		unlock()
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// FindApplicableRoute 按插入顺序返回第一个匹配的启用路由，没有则返回 (nil, nil)。
// documentType 需完全相同或路由为 general；department/branch 为空的路由不限范围。
func (e *Engine) FindApplicableRoute(ctx context.Context, documentType, department, branch string) (*WorkflowRoute, error) {
	routes, err := e.routes.List(ctx)
	if err != nil {
		return nil, storeError(err, "workflow routes", "")
	}
	for _, r := range routes {
		if r.IsActive && r.matches(documentType, department, branch) {
			return r, nil
		}
	}
	return nil, nil
}

// GetWorkflowRoute 按 ID 获取路由，不存在时返回 (nil, nil)。
func (e *Engine) GetWorkflowRoute(ctx context.Context, routeID string) (*WorkflowRoute, error) {
	r, err := e.routes.Get(ctx, routeID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "workflow route", routeID)
	}
	return r, nil
}

// GetAllWorkflowRoutes 返回全部路由
func (e *Engine) GetAllWorkflowRoutes(ctx context.Context) ([]*WorkflowRoute, error) {
	routes, err := e.routes.List(ctx)
	if err != nil {
		return nil, storeError(err, "workflow routes", "")
	}
	return routes, nil
}

// GetAllActiveRoutes 返回启用的路由
func (e *Engine) GetAllActiveRoutes(ctx context.Context) ([]*WorkflowRoute, error) {
	routes, err := e.GetAllWorkflowRoutes(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*WorkflowRoute, 0, len(routes))
	for _, r := range routes {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

func (e *Engine) normalizeRoute(r *WorkflowRoute) {
	if r.Type == "" {
		r.Type = RouteTypeSequential
	}
	for i := range r.EscalationPaths {
		if r.EscalationPaths[i].ID == "" {
			r.EscalationPaths[i].ID = e.newID()
		}
	}
}

func (e *Engine) warnTimeoutGaps(r *WorkflowRoute) {
	if gaps := timeoutGaps(r); len(gaps) > 0 {
		e.logger.Warn("steps have a timeout but no timeout escalation path; overdue instances will not be escalated",
			zap.String("route_id", r.ID),
			zap.Strings("step_ids", gaps),
		)
	}
}
