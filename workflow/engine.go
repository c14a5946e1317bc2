package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/docflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "docflow/workflow"
	// DefaultActionURLBase 通知中 actionUrl 的默认前缀
	DefaultActionURLBase = "/workflows"
)

// Engine 双向审批工作流引擎。所有方法并发安全：
// 同一实例的写操作通过实例级互斥锁串行化，存储层再以 Version 做乐观并发控制。
type Engine struct {
	routes    RouteStore
	instances InstanceStore
	roles     RoleResolver
	notifier  Notifier
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string

	actionURLBase        string
	routeTimeoutFallback bool

	locks *keyedMutex
}

// Option 配置 Engine
type Option func(*Engine)

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNotifier 设置通知队列，默认为内存队列
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithObserver 设置事件观察者
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock 设置时钟，测试中用于推进时间
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator 设置 ID 生成器
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithActionURLBase 设置通知链接前缀
func WithActionURLBase(base string) Option {
	return func(e *Engine) {
		if base != "" {
			e.actionURLBase = base
		}
	}
}

// WithRouteTimeoutFallback 步骤未配置超时时，使用路由级 autoEscalation.timeoutHours。
func WithRouteTimeoutFallback(enabled bool) Option {
	return func(e *Engine) {
		e.routeTimeoutFallback = enabled
	}
}

// WithTracer 设置 OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine 创建引擎。roles 为 nil 时拒绝所有角色检查。
func NewEngine(routes RouteStore, instances InstanceStore, roles RoleResolver, opts ...Option) *Engine {
	e := &Engine{
		routes:        routes,
		instances:     instances,
		roles:         roles,
		notifier:      NewMemoryNotificationQueue(),
		observer:      nopObserver{},
		logger:        zap.NewNop(),
		tracer:        otel.Tracer(tracerName),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.NewString() },
		actionURLBase: DefaultActionURLBase,
		locks:         newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.roles == nil {
		e.roles = RoleResolverFunc(func(context.Context, string, string) (bool, error) { return false, nil })
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// =============================================================================
// 🚀 实例发起
// =============================================================================

// InitiateRequest 发起工作流请求
type InitiateRequest struct {
	DocumentID   string         `json:"document_id"`
	DocumentType string         `json:"document_type"`
	Department   string         `json:"department,omitempty"`
	Branch       string         `json:"branch,omitempty"`
	InitiatedBy  string         `json:"initiated_by"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// InitiateWorkflow 为文档匹配路由并创建实例，状态为 pending，位于第一个步骤。
func (e *Engine) InitiateWorkflow(ctx context.Context, req InitiateRequest) (inst *WorkflowInstance, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.initiate", trace.WithAttributes(
		attribute.String("workflow.document_id", req.DocumentID),
		attribute.String("workflow.document_type", req.DocumentType),
	))
	defer func() { endSpan(span, err) }()

	if req.DocumentID == "" || req.DocumentType == "" || req.InitiatedBy == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "document_id, document_type and initiated_by are required")
	}

	route, err := e.FindApplicableRoute(ctx, req.DocumentType, req.Department, req.Branch)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, types.Errorf(types.ErrNoApplicableRoute,
			"no applicable workflow route for document type %q (department %q, branch %q)",
			req.DocumentType, req.Department, req.Branch)
	}
	first := route.FirstStep()
	if first == nil {
		return nil, types.Errorf(types.ErrConfiguration, "workflow route %s has no steps", route.ID)
	}

	now := e.now()
	metadata := make(map[string]any, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["routeName"] = route.Name
	metadata["routeVersion"] = route.Version
	metadata["documentType"] = req.DocumentType
	if req.Department != "" {
		metadata["department"] = req.Department
	}
	if req.Branch != "" {
		metadata["branch"] = req.Branch
	}

	inst = &WorkflowInstance{
		ID:              e.newID(),
		DocumentID:      req.DocumentID,
		WorkflowRouteID: route.ID,
		CurrentStepID:   first.ID,
		Status:          StatusPending,
		InitiatedBy:     req.InitiatedBy,
		InitiatedAt:     now,
		StepStartedAt:   now,
		History:         []WorkflowAction{},
		Metadata:        metadata,
	}
	if err := e.instances.Create(ctx, inst); err != nil {
		return nil, storeError(err, "workflow instance", inst.ID)
	}
	span.SetAttributes(attribute.String("workflow.instance_id", inst.ID))

	e.enqueue(ctx, []NotificationPayload{e.approvalRequestNotification(inst, route, first)})
	e.observer.InstanceStarted(route.Name)
	e.logger.Info("workflow initiated",
		zap.String("instance_id", inst.ID),
		zap.String("document_id", inst.DocumentID),
		zap.String("route_id", route.ID),
		zap.String("step_id", first.ID),
	)
	return inst.Clone(), nil
}

// =============================================================================
// 🔍 查询
// =============================================================================

// GetWorkflowInstance 按 ID 获取实例，不存在时返回 (nil, nil)。
func (e *Engine) GetWorkflowInstance(ctx context.Context, instanceID string) (*WorkflowInstance, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "workflow instance", instanceID)
	}
	return inst, nil
}

// GetInstancesByUser 返回用户发起或参与过的实例。
func (e *Engine) GetInstancesByUser(ctx context.Context, userID string) ([]*WorkflowInstance, error) {
	all, err := e.instances.List(ctx, InstanceFilter{})
	if err != nil {
		return nil, storeError(err, "workflow instances", "")
	}
	out := make([]*WorkflowInstance, 0)
	for _, inst := range all {
		if inst.InvolvesUser(userID) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// GetPendingApprovals 返回 pending/in-progress 且用户可在当前步骤操作的实例。
func (e *Engine) GetPendingApprovals(ctx context.Context, userID string) ([]*WorkflowInstance, error) {
	candidates, err := e.instances.List(ctx, InstanceFilter{Statuses: []InstanceStatus{StatusPending, StatusInProgress}})
	if err != nil {
		return nil, storeError(err, "workflow instances", "")
	}
	routes := make(map[string]*WorkflowRoute)
	out := make([]*WorkflowInstance, 0)
	for _, inst := range candidates {
		route, err := e.cachedRoute(ctx, routes, inst.WorkflowRouteID)
		if err != nil {
			return nil, err
		}
		if route == nil {
			continue
		}
		step := route.StepByID(inst.CurrentStepID)
		if step == nil {
			continue
		}
		ok, err := hasAnyRole(ctx, e.roles, userID, step.RoleRequired)
		if err != nil {
			return nil, roleError(err)
		}
		if ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// PendingCounterApproval 等待用户会签的审批动作
type PendingCounterApproval struct {
	Instance         *WorkflowInstance `json:"instance"`
	StepID           string            `json:"step_id"`
	OriginalActionID string            `json:"original_action_id"`
	ApprovedBy       string            `json:"approved_by"`
}

// GetPendingCounterApprovals 返回当前步骤等待会签、且用户持有会签角色的实例，
// 附带需要引用的原始审批动作 ID。原审批人自己不能会签，因此不会出现在其结果中。
func (e *Engine) GetPendingCounterApprovals(ctx context.Context, userID string) ([]PendingCounterApproval, error) {
	candidates, err := e.instances.List(ctx, InstanceFilter{
		Statuses: []InstanceStatus{StatusPending, StatusInProgress, StatusEscalated},
	})
	if err != nil {
		return nil, storeError(err, "workflow instances", "")
	}
	routes := make(map[string]*WorkflowRoute)
	out := make([]PendingCounterApproval, 0)
	for _, inst := range candidates {
		original := inst.pendingCounterApproval()
		if original == nil || original.PerformedBy == userID {
			continue
		}
		route, err := e.cachedRoute(ctx, routes, inst.WorkflowRouteID)
		if err != nil {
			return nil, err
		}
		if route == nil {
			continue
		}
		step := route.StepByID(original.StepID)
		if step == nil || !route.RequiresCounterApprovalFor(step) {
			continue
		}
		ok, err := hasAnyRole(ctx, e.roles, userID, step.CounterApprovalRoles)
		if err != nil {
			return nil, roleError(err)
		}
		if ok {
			out = append(out, PendingCounterApproval{
				Instance:         inst,
				StepID:           step.ID,
				OriginalActionID: original.ID,
				ApprovedBy:       original.PerformedBy,
			})
		}
	}
	return out, nil
}

// GetNotificationQueue 原子地取出并清空通知队列。
func (e *Engine) GetNotificationQueue(ctx context.Context) ([]NotificationPayload, error) {
	out, err := e.notifier.Drain(ctx)
	if err != nil {
		return nil, types.WrapError(err, types.ErrStorage, "failed to drain notification queue")
	}
	return out, nil
}

func (e *Engine) cachedRoute(ctx context.Context, cache map[string]*WorkflowRoute, routeID string) (*WorkflowRoute, error) {
	if route, ok := cache[routeID]; ok {
		return route, nil
	}
	route, err := e.routes.Get(ctx, routeID)
	if errors.Is(err, ErrNotFound) {
		cache[routeID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "workflow route", routeID)
	}
	cache[routeID] = route
	return route, nil
}

// =============================================================================
// 🔧 状态迁移
// =============================================================================

// transition 一次实例状态迁移。通知在实例持久化成功后才入队。
type transition struct {
	inst          *WorkflowInstance
	route         *WorkflowRoute
	fromStatus    InstanceStatus
	notifications []NotificationPayload
}

func newTransition(inst *WorkflowInstance, route *WorkflowRoute) *transition {
	return &transition{inst: inst, route: route, fromStatus: inst.Status}
}

func (t *transition) notify(n NotificationPayload) {
	t.notifications = append(t.notifications, n)
}

// commit 持久化实例并发送通知。
func (e *Engine) commit(ctx context.Context, t *transition) error {
	if err := e.instances.Update(ctx, t.inst); err != nil {
		return storeError(err, "workflow instance", t.inst.ID)
	}
	if t.fromStatus != t.inst.Status {
		e.observer.StatusChanged(string(t.fromStatus), string(t.inst.Status))
	}
	e.enqueue(ctx, t.notifications)
	return nil
}

// enqueue 入队失败只记录日志：状态迁移已经持久化。
func (e *Engine) enqueue(ctx context.Context, notifications []NotificationPayload) {
	for _, n := range notifications {
		if err := e.notifier.Enqueue(ctx, n); err != nil {
			e.logger.Error("failed to enqueue notification",
				zap.String("instance_id", n.WorkflowInstanceID),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
			continue
		}
		e.observer.NotificationEnqueued(string(n.Type))
	}
}

// loadForWrite 在持有实例锁的前提下读取实例及其路由。
func (e *Engine) loadForWrite(ctx context.Context, instanceID string) (*WorkflowInstance, *WorkflowRoute, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, nil, storeError(err, "workflow instance", instanceID)
	}
	route, err := e.routes.Get(ctx, inst.WorkflowRouteID)
	if err != nil {
		return nil, nil, storeError(err, "workflow route", inst.WorkflowRouteID)
	}
	return inst, route, nil
}

func (e *Engine) lockInstance(instanceID string) func() {
	return e.locks.Lock("instance:" + instanceID)
}

// =============================================================================
// 🧰 错误映射
// =============================================================================

func storeError(err error, entity, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		if id == "" {
			return types.Errorf(types.ErrNotFound, "%s not found", entity)
		}
		return types.Errorf(types.ErrNotFound, "%s %s not found", entity, id).WithCause(err)
	case errors.Is(err, ErrConflict):
		return types.Errorf(types.ErrConflict, "%s %s was modified concurrently", entity, id).WithCause(err)
	case errors.Is(err, ErrAlreadyExists):
		return types.Errorf(types.ErrConflict, "%s %s already exists", entity, id).WithCause(err)
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.WrapError(err, types.ErrStorage, fmt.Sprintf("%s storage failure", entity))
}

func roleError(err error) error {
	return types.WrapError(err, types.ErrUnavailable, "role resolution failed")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
