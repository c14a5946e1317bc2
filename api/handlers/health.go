package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthPaths 是免认证的探针路径
var HealthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthHandler 健康检查处理器。
//
// /ready 并发执行注册的依赖检查：关键依赖（数据库、作为存储或队列的 Redis、Mongo）
// 失败返回 503；可选依赖（仅作路由缓存的 Redis）失败只把状态降为 degraded，
// 因为缓存失效时读取会回落到存储。
type HealthHandler struct {
	logger       *zap.Logger
	checkTimeout time.Duration

	mu      sync.RWMutex
	checks  []HealthCheck
	version string
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// OptionalCheck 由可降级的检查实现
type OptionalCheck interface {
	Optional() bool
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // "pass", "fail"
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:       logger.With(zap.String("component", "health")),
		checkTimeout: 5 * time.Second,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Register 在 r 上注册 HealthPaths，version 同时出现在 /health 响应中
func (h *HealthHandler) Register(r *mux.Router, version, buildTime, gitCommit string) {
	h.mu.Lock()
	h.version = version
	h.mu.Unlock()

	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.HandleReady).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.HandleReady).Methods(http.MethodGet)
	r.HandleFunc("/version", h.HandleVersion(version, buildTime, gitCommit)).Methods(http.MethodGet)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 存活检查，不访问依赖
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	version := h.version
	h.mu.RUnlock()

	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   version,
	})
}

// HandleHealthz Kubernetes 风格的存活探针
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// HandleReady 就绪检查
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := h.runChecks(r.Context(), checks)

	status := ServiceHealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    results,
	}
	for _, res := range results {
		if res.Status == "pass" {
			continue
		}
		if !res.Optional {
			status.Status = StatusUnhealthy
			break
		}
		status.Status = StatusDegraded
	}

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// runChecks 并发执行检查，每个检查单独计时
func (h *HealthHandler) runChecks(ctx context.Context, checks []HealthCheck) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	for _, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			res := CheckResult{Status: "pass", Latency: latency.String(), Optional: isOptional(check)}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Bool("optional", res.Optional),
					zap.Duration("latency", latency),
					zap.Error(err),
				)
			}

			mu.Lock()
			results[check.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func isOptional(check HealthCheck) bool {
	o, ok := check.(OptionalCheck)
	return ok && o.Optional()
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// CheckFunc 把 Ping 类函数适配为 HealthCheck
type CheckFunc struct {
	name     string
	optional bool
	fn       func(ctx context.Context) error
}

// NewCheck 创建关键检查，例如 NewCheck("database", pool.Ping)
func NewCheck(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// NewOptionalCheck 创建失败时只降级的检查
func NewOptionalCheck(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, optional: true, fn: fn}
}

func (c *CheckFunc) Name() string   { return c.name }
func (c *CheckFunc) Optional() bool { return c.optional }

func (c *CheckFunc) Check(ctx context.Context) error {
	return c.fn(ctx)
}
