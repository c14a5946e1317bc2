package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/docflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TimeoutReport 一次超时扫描的结果
type TimeoutReport struct {
	Scanned              int      `json:"scanned"`
	Overdue              int      `json:"overdue"`
	Escalated            int      `json:"escalated"`
	Unhandled            int      `json:"unhandled"`
	Failed               int      `json:"failed"`
	EscalatedInstanceIDs []string `json:"escalated_instance_ids"`
}

// CheckTimeouts 扫描 pending/in-progress 实例，对当前步骤超时的实例按 timeout 升级路径升级。
// 没有 timeout 路径的超时只记录日志与指标，不修改实例。
// 单个实例的失败不会中断扫描，只有列举实例失败才返回错误。
func (e *Engine) CheckTimeouts(ctx context.Context) (report TimeoutReport, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.check_timeouts")
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("workflow.scanned", report.Scanned),
			attribute.Int("workflow.escalated", report.Escalated),
		)
		e.observer.TimeoutScanCompleted(time.Since(start), report.Scanned, report.Escalated)
		endSpan(span, err)
	}()

	report.EscalatedInstanceIDs = []string{}
	candidates, err := e.instances.List(ctx, InstanceFilter{Statuses: []InstanceStatus{StatusPending, StatusInProgress}})
	if err != nil {
		return report, storeError(err, "workflow instances", "")
	}

	routes := make(map[string]*WorkflowRoute)
	for _, inst := range candidates {
		if ctx.Err() != nil {
			return report, types.WrapError(ctx.Err(), types.ErrTimeout, "timeout scan interrupted")
		}
		report.Scanned++

		route, err := e.cachedRoute(ctx, routes, inst.WorkflowRouteID)
		if err != nil || route == nil {
			report.Failed++
			e.logger.Warn("timeout scan: workflow route unavailable",
				zap.String("instance_id", inst.ID),
				zap.String("route_id", inst.WorkflowRouteID),
				zap.Error(err),
			)
			continue
		}
		step := route.StepByID(inst.CurrentStepID)
		if step == nil {
			report.Failed++
			e.logger.Warn("timeout scan: current step missing from route",
				zap.String("instance_id", inst.ID),
				zap.String("step_id", inst.CurrentStepID),
			)
			continue
		}
		limit, ok := e.stepTimeout(route, step)
		if !ok || !e.now().After(inst.stepStartTime().Add(limit)) {
			continue
		}
		report.Overdue++

		path := FindEscalationPath(route, step.ID, ConditionTimeout)
		if path == nil {
			report.Unhandled++
			e.observer.TimeoutUnhandled()
			e.logger.Warn("step timed out with no timeout escalation path",
				zap.String("instance_id", inst.ID),
				zap.String("step_id", step.ID),
				zap.Duration("timeout", limit),
			)
			continue
		}

		escalated, err := e.escalateTimeout(ctx, inst.ID, step.ID, path)
		if err != nil {
			report.Failed++
			e.logger.Error("timeout escalation failed",
				zap.String("instance_id", inst.ID),
				zap.String("step_id", step.ID),
				zap.Error(err),
			)
			continue
		}
		if escalated {
			report.Escalated++
			report.EscalatedInstanceIDs = append(report.EscalatedInstanceIDs, inst.ID)
		}
	}
	return report, nil
}

// stepTimeout 返回步骤超时时长；启用路由级回退时，未配置超时的步骤使用 autoEscalation.timeoutHours。
func (e *Engine) stepTimeout(route *WorkflowRoute, step *WorkflowStep) (time.Duration, bool) {
	if step.TimeoutHours != nil {
		return hoursToDuration(*step.TimeoutHours), true
	}
	if e.routeTimeoutFallback && route.AutoEscalation.Enabled && route.AutoEscalation.TimeoutHours > 0 {
		return hoursToDuration(route.AutoEscalation.TimeoutHours), true
	}
	return 0, false
}

// escalateTimeout 在实例锁内重新读取实例，确认仍处于扫描时的步骤与状态后再升级。
func (e *Engine) escalateTimeout(ctx context.Context, instanceID, stepID string, path *EscalationPath) (bool, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, route, err := e.loadForWrite(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.CurrentStepID != stepID || (inst.Status != StatusPending && inst.Status != StatusInProgress) {
		return false, nil
	}
	t := newTransition(inst, route)
	e.escalate(t, path)
	if err := e.commit(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// =============================================================================
// ⏱️ 周期扫描
// =============================================================================

// TimeoutScanner 按固定间隔调用 CheckTimeouts。
type TimeoutScanner struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTimeoutScanner 创建扫描器，interval <= 0 时使用 1 分钟。
func NewTimeoutScanner(engine *Engine, interval time.Duration, logger *zap.Logger) *TimeoutScanner {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeoutScanner{
		engine:   engine,
		interval: interval,
		logger:   logger.With(zap.String("component", "timeout_scanner")),
	}
}

// Start 启动后台扫描，重复调用无效果。
func (s *TimeoutScanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("timeout scanner started", zap.Duration("interval", s.interval))
}

// Stop 停止扫描并等待当前一轮结束。
func (s *TimeoutScanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("timeout scanner stopped")
}

func (s *TimeoutScanner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.engine.CheckTimeouts(ctx)
			if err != nil {
				s.logger.Error("timeout scan failed", zap.Error(err))
				continue
			}
			if report.Overdue > 0 || report.Failed > 0 {
				s.logger.Info("timeout scan completed",
					zap.Int("scanned", report.Scanned),
					zap.Int("overdue", report.Overdue),
					zap.Int("escalated", report.Escalated),
					zap.Int("unhandled", report.Unhandled),
					zap.Int("failed", report.Failed),
				)
			}
		}
	}
}
