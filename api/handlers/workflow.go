package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/BaSui01/docflow/types"
	"github.com/BaSui01/docflow/workflow"
)

// =============================================================================
// 📋 工作流 Handler
// =============================================================================

// WorkflowEngine 处理器依赖的引擎操作，由 *workflow.Engine 实现
type WorkflowEngine interface {
	CreateWorkflowRoute(ctx context.Context, route *workflow.WorkflowRoute) (*workflow.WorkflowRoute, error)
	UpdateWorkflowRoute(ctx context.Context, routeID string, update workflow.RouteUpdate) (*workflow.WorkflowRoute, error)
	GetWorkflowRoute(ctx context.Context, routeID string) (*workflow.WorkflowRoute, error)
	GetAllWorkflowRoutes(ctx context.Context) ([]*workflow.WorkflowRoute, error)
	GetAllActiveRoutes(ctx context.Context) ([]*workflow.WorkflowRoute, error)
	FindApplicableRoute(ctx context.Context, documentType, department, branch string) (*workflow.WorkflowRoute, error)

	InitiateWorkflow(ctx context.Context, req workflow.InitiateRequest) (*workflow.WorkflowInstance, error)
	GetWorkflowInstance(ctx context.Context, instanceID string) (*workflow.WorkflowInstance, error)
	ProcessApproval(ctx context.Context, req workflow.ApprovalRequest) (*workflow.ApprovalResult, error)
	ProcessCounterApproval(ctx context.Context, req workflow.CounterApprovalRequest) (*workflow.ApprovalResult, error)

	GetInstancesByUser(ctx context.Context, userID string) ([]*workflow.WorkflowInstance, error)
	GetPendingApprovals(ctx context.Context, userID string) ([]*workflow.WorkflowInstance, error)
	GetPendingCounterApprovals(ctx context.Context, userID string) ([]workflow.PendingCounterApproval, error)

	CheckTimeouts(ctx context.Context) (workflow.TimeoutReport, error)
	GetNotificationQueue(ctx context.Context) ([]workflow.NotificationPayload, error)
}

var _ WorkflowEngine = (*workflow.Engine)(nil)

// WorkflowHandler 把引擎操作暴露为 /api/v1 下的 JSON 接口
type WorkflowHandler struct {
	engine WorkflowEngine
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(engine WorkflowEngine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// Register 在 r 上注册 /api/v1 路由
func (h *WorkflowHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/routes", h.HandleCreateRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes", h.HandleListRoutes).Methods(http.MethodGet)
	// 必须先于 /routes/{id} 注册
	api.HandleFunc("/routes/applicable", h.HandleFindApplicableRoute).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}", h.HandleGetRoute).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}", h.HandleUpdateRoute).Methods(http.MethodPatch)

	api.HandleFunc("/instances", h.HandleInitiate).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}", h.HandleGetInstance).Methods(http.MethodGet)
	api.HandleFunc("/instances/{id}/actions", h.HandleApproval).Methods(http.MethodPost)
	api.HandleFunc("/instances/{id}/counter-approvals", h.HandleCounterApproval).Methods(http.MethodPost)

	api.HandleFunc("/users/{userId}/instances", h.HandleUserInstances).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/pending", h.HandlePendingApprovals).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/pending-counter", h.HandlePendingCounterApprovals).Methods(http.MethodGet)

	api.HandleFunc("/timeouts/check", h.HandleCheckTimeouts).Methods(http.MethodPost)
	api.HandleFunc("/notifications/drain", h.HandleDrainNotifications).Methods(http.MethodPost)
}

// =============================================================================
// 🛤️ 路由
// =============================================================================

// HandleCreateRoute POST /api/v1/routes
func (h *WorkflowHandler) HandleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var route workflow.WorkflowRoute
	if !h.decode(w, r, &route) {
		return
	}
	created, err := h.engine.CreateWorkflowRoute(r.Context(), &route)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteData(w, http.StatusCreated, created)
}

// HandleListRoutes GET /api/v1/routes[?active=true]
func (h *WorkflowHandler) HandleListRoutes(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, types.Errorf(types.ErrInvalidRequest, "invalid active flag %q", v), h.logger)
			return
		}
		activeOnly = parsed
	}

	var (
		routes []*workflow.WorkflowRoute
		err    error
	)
	if activeOnly {
		routes, err = h.engine.GetAllActiveRoutes(r.Context())
	} else {
		routes, err = h.engine.GetAllWorkflowRoutes(r.Context())
	}
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, routes)
}

// HandleFindApplicableRoute GET /api/v1/routes/applicable?document_type=&department=&branch=
func (h *WorkflowHandler) HandleFindApplicableRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	documentType := q.Get("document_type")
	if documentType == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "document_type is required"), h.logger)
		return
	}
	route, err := h.engine.FindApplicableRoute(r.Context(), documentType, q.Get("department"), q.Get("branch"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if route == nil {
		WriteError(w, types.Errorf(types.ErrNoApplicableRoute, "no active route for document type %s", documentType), h.logger)
		return
	}
	WriteSuccess(w, route)
}

// HandleGetRoute GET /api/v1/routes/{id}
func (h *WorkflowHandler) HandleGetRoute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	route, err := h.engine.GetWorkflowRoute(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if route == nil {
		WriteError(w, types.Errorf(types.ErrNotFound, "workflow route %s not found", id), h.logger)
		return
	}
	WriteSuccess(w, route)
}

// HandleUpdateRoute PATCH /api/v1/routes/{id}
func (h *WorkflowHandler) HandleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	var update workflow.RouteUpdate
	if !h.decode(w, r, &update) {
		return
	}
	id := mux.Vars(r)["id"]
	route, err := h.engine.UpdateWorkflowRoute(r.Context(), id, update)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if route == nil {
		WriteError(w, types.Errorf(types.ErrNotFound, "workflow route %s not found", id), h.logger)
		return
	}
	WriteSuccess(w, route)
}

// =============================================================================
// 📄 实例
// =============================================================================

// HandleInitiate POST /api/v1/instances
func (h *WorkflowHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	var req workflow.InitiateRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, ok := h.actor(w, r, req.InitiatedBy)
	if !ok {
		return
	}
	req.InitiatedBy = user

	inst, err := h.engine.InitiateWorkflow(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteData(w, http.StatusCreated, inst)
}

// HandleGetInstance GET /api/v1/instances/{id}
func (h *WorkflowHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := h.engine.GetWorkflowInstance(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if inst == nil {
		WriteError(w, types.Errorf(types.ErrNotFound, "workflow instance %s not found", id), h.logger)
		return
	}
	WriteSuccess(w, inst)
}

// HandleApproval POST /api/v1/instances/{id}/actions
func (h *WorkflowHandler) HandleApproval(w http.ResponseWriter, r *http.Request) {
	var req workflow.ApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, ok := h.actor(w, r, req.PerformedBy)
	if !ok {
		return
	}
	req.InstanceID = mux.Vars(r)["id"]
	req.PerformedBy = user

	result, err := h.engine.ProcessApproval(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleCounterApproval POST /api/v1/instances/{id}/counter-approvals
func (h *WorkflowHandler) HandleCounterApproval(w http.ResponseWriter, r *http.Request) {
	var req workflow.CounterApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, ok := h.actor(w, r, req.PerformedBy)
	if !ok {
		return
	}
	req.InstanceID = mux.Vars(r)["id"]
	req.PerformedBy = user

	result, err := h.engine.ProcessCounterApproval(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// =============================================================================
// 👤 用户视图
// =============================================================================

// HandleUserInstances GET /api/v1/users/{userId}/instances
func (h *WorkflowHandler) HandleUserInstances(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actor(w, r, mux.Vars(r)["userId"])
	if !ok {
		return
	}
	instances, err := h.engine.GetInstancesByUser(r.Context(), user)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, instances)
}

// HandlePendingApprovals GET /api/v1/users/{userId}/pending
func (h *WorkflowHandler) HandlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actor(w, r, mux.Vars(r)["userId"])
	if !ok {
		return
	}
	instances, err := h.engine.GetPendingApprovals(r.Context(), user)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, instances)
}

// HandlePendingCounterApprovals GET /api/v1/users/{userId}/pending-counter
func (h *WorkflowHandler) HandlePendingCounterApprovals(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actor(w, r, mux.Vars(r)["userId"])
	if !ok {
		return
	}
	pending, err := h.engine.GetPendingCounterApprovals(r.Context(), user)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pending)
}

// =============================================================================
// ⏱️ 运维
// =============================================================================

// HandleCheckTimeouts POST /api/v1/timeouts/check
func (h *WorkflowHandler) HandleCheckTimeouts(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.CheckTimeouts(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleDrainNotifications POST /api/v1/notifications/drain
// 队列是单消费者的：取出即清空。
func (h *WorkflowHandler) HandleDrainNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.engine.GetNotificationQueue(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if notifications == nil {
		notifications = []workflow.NotificationPayload{}
	}
	WriteSuccess(w, notifications)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *WorkflowHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !ValidateContentType(w, r, h.logger) {
		return false
	}
	return DecodeJSONBody(w, r, dst, h.logger) == nil
}

// actor 确定操作人。请求已认证时，未填写则取令牌中的用户，
// 填写了其他用户则拒绝；未认证时必须显式填写。
func (h *WorkflowHandler) actor(w http.ResponseWriter, r *http.Request, supplied string) (string, bool) {
	if authenticated, ok := types.UserID(r.Context()); ok {
		if supplied != "" && supplied != authenticated {
			WriteError(w, types.Errorf(types.ErrPermissionDenied,
				"authenticated user %s cannot act as %s", authenticated, supplied), h.logger)
			return "", false
		}
		return authenticated, true
	}
	if supplied == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "user id is required"), h.logger)
		return "", false
	}
	return supplied, true
}
