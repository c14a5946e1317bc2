package workflow

import (
	"context"
	"fmt"

	"github.com/BaSui01/docflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ApprovalRequest 审批动作请求
type ApprovalRequest struct {
	InstanceID  string     `json:"instance_id"`
	StepID      string     `json:"step_id"`
	Action      ActionType `json:"action"`
	PerformedBy string     `json:"performed_by"`
	Comments    string     `json:"comments,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
}

// ApprovalResult 成功处理后的结果
type ApprovalResult struct {
	Success   bool           `json:"success"`
	NextStep  *WorkflowStep  `json:"next_step,omitempty"`
	Escalated bool           `json:"escalated,omitempty"`
	Status    InstanceStatus `json:"status"`
	Message   string         `json:"message"`
	ActionID  string         `json:"action_id"`
}

// ProcessApproval 处理审批人在当前步骤上的动作。
//
// 前置检查依次为：实例存在、路由存在、步骤存在、执行人持有步骤角色、
// 实例未终结且 StepID 为当前步骤。检查通过后动作无条件写入历史，再按动作类型分支；
// 无手动升级路径的 escalate 在写入历史后返回 INVALID_STATE。
func (e *Engine) ProcessApproval(ctx context.Context, req ApprovalRequest) (result *ApprovalResult, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.process_approval", trace.WithAttributes(
		attribute.String("workflow.instance_id", req.InstanceID),
		attribute.String("workflow.step_id", req.StepID),
		attribute.String("workflow.action", string(req.Action)),
	))
	defer func() {
		e.observer.ActionProcessed(string(req.Action), outcome(err))
		endSpan(span, err)
	}()

	if req.InstanceID == "" || req.StepID == "" || req.PerformedBy == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "instance_id, step_id and performed_by are required")
	}
	switch req.Action {
	case ActionApprove, ActionReject, ActionEscalate, ActionRequestChanges:
	case ActionCounterApprove:
		return nil, types.NewError(types.ErrInvalidRequest, "counter-approve must be submitted as a counter-approval")
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown action type %q", req.Action)
	}

	unlock := e.lockInstance(req.InstanceID)
	defer unlock()

	inst, route, err := e.loadForWrite(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	step := route.StepByID(req.StepID)
	if step == nil {
		return nil, types.Errorf(types.ErrNotFound, "step %s not found in workflow route %s", req.StepID, route.ID)
	}
	allowed, err := hasAnyRole(ctx, e.roles, req.PerformedBy, step.RoleRequired)
	if err != nil {
		return nil, roleError(err)
	}
	if !allowed {
		return nil, types.Errorf(types.ErrPermissionDenied,
			"user %s does not hold any role required by step %s", req.PerformedBy, step.ID)
	}
	if inst.Status.IsTerminal() {
		return nil, types.Errorf(types.ErrInvalidState, "workflow instance %s is already %s", inst.ID, inst.Status)
	}
	if inst.CurrentStepID != step.ID {
		return nil, types.Errorf(types.ErrInvalidState,
			"step %s is not the current step of workflow instance %s (current: %s)", step.ID, inst.ID, inst.CurrentStepID)
	}
	if req.Action == ActionApprove {
		if pending := inst.pendingCounterApproval(); pending != nil && route.RequiresCounterApprovalFor(step) {
			return nil, types.Errorf(types.ErrInvalidState,
				"step %s is awaiting counter-approval of action %s", step.ID, pending.ID)
		}
	}

	t := newTransition(inst, route)
	action := WorkflowAction{
		ID:          e.newID(),
		StepID:      step.ID,
		ActionType:  req.Action,
		PerformedBy: req.PerformedBy,
		PerformedAt: e.now(),
		Comments:    req.Comments,
		Attachments: cloneStrings(req.Attachments),
	}
	inst.History = append(inst.History, action)

	result = &ApprovalResult{Success: true, ActionID: action.ID}
	switch req.Action {
	case ActionApprove:
		if route.RequiresCounterApprovalFor(step) {
			inst.Status = StatusPending
			t.notify(e.counterApprovalNotification(inst, route, step, &action))
			result.Message = fmt.Sprintf("Approval recorded at step %s; awaiting counter-approval.", step.Name)
		} else {
			result.NextStep, result.Message = e.moveToNextStep(t, step)
		}

	case ActionReject:
		result.Escalated, result.Message = e.handleRejection(t, step, &action)
		if result.Escalated {
			result.NextStep = route.StepByID(inst.CurrentStepID)
		}

	case ActionEscalate:
		path := FindEscalationPath(route, step.ID, ConditionManual)
		if path == nil {
			// 动作已写入历史，先持久化再报告失败
			if err := e.commit(ctx, t); err != nil {
				return nil, err
			}
			return nil, types.Errorf(types.ErrInvalidState,
				"no manual escalation path configured for step %s", step.ID)
		}
		e.escalate(t, path)
		result.Escalated = true
		result.NextStep = route.StepByID(inst.CurrentStepID)
		result.Message = fmt.Sprintf("Workflow escalated from step %s.", step.Name)

	case ActionRequestChanges:
		inst.Status = StatusPending
		t.notify(e.changesRequestedNotification(inst, route, step, &action))
		result.Message = fmt.Sprintf("Changes requested at step %s; awaiting resubmission.", step.Name)
	}

	if err := e.commit(ctx, t); err != nil {
		return nil, err
	}
	result.Status = inst.Status
	if result.NextStep != nil {
		next := result.NextStep.clone()
		result.NextStep = &next
	}

	e.logger.Info("approval processed",
		zap.String("instance_id", inst.ID),
		zap.String("step_id", step.ID),
		zap.String("action", string(req.Action)),
		zap.String("performed_by", req.PerformedBy),
		zap.String("status", string(inst.Status)),
		zap.String("current_step_id", inst.CurrentStepID),
	)
	return result, nil
}

// moveToNextStep 推进到 order 严格大于 from 的最小步骤；没有下一步时实例完成。
// 这是唯一的成功终态路径。
func (e *Engine) moveToNextStep(t *transition, from *WorkflowStep) (*WorkflowStep, string) {
	inst, route := t.inst, t.route
	next := route.NextStep(from.Order)
	if next == nil {
		now := e.now()
		inst.Status = StatusCompleted
		inst.CompletedAt = &now
		t.notify(e.completionNotification(inst, route))
		return nil, fmt.Sprintf("Step %s approved. Workflow completed.", from.Name)
	}
	inst.CurrentStepID = next.ID
	inst.Status = StatusInProgress
	inst.StepStartedAt = e.now()
	t.notify(e.approvalRequestNotification(inst, route, next))
	return next, fmt.Sprintf("Step %s approved. Moved to step %s.", from.Name, next.Name)
}

// handleRejection 存在 rejection 升级路径时升级，否则终止为 rejected。
func (e *Engine) handleRejection(t *transition, step *WorkflowStep, action *WorkflowAction) (bool, string) {
	inst, route := t.inst, t.route
	if path := FindEscalationPath(route, step.ID, ConditionRejection); path != nil {
		e.escalate(t, path)
		return true, fmt.Sprintf("Rejected at step %s; workflow escalated.", step.Name)
	}
	now := e.now()
	inst.Status = StatusRejected
	inst.CompletedAt = &now
	t.notify(e.rejectionNotification(inst, route, step, action))
	return false, fmt.Sprintf("Rejected at step %s. Workflow terminated.", step.Name)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}
