package workflow

import (
	"context"

	"github.com/BaSui01/docflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CounterApprovalRequest 会签请求，Action 为 counter-approve 或 reject。
type CounterApprovalRequest struct {
	InstanceID       string     `json:"instance_id"`
	OriginalActionID string     `json:"original_action_id"`
	Action           ActionType `json:"action"`
	PerformedBy      string     `json:"performed_by"`
	Comments         string     `json:"comments,omitempty"`
}

// ProcessCounterApproval 对先前的 approve 动作进行会签。
// 步骤按原始动作的 stepId 查找；会签通过后从该步骤推进，会签驳回与普通驳回处理一致。
func (e *Engine) ProcessCounterApproval(ctx context.Context, req CounterApprovalRequest) (result *ApprovalResult, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.process_counter_approval", trace.WithAttributes(
		attribute.String("workflow.instance_id", req.InstanceID),
		attribute.String("workflow.original_action_id", req.OriginalActionID),
		attribute.String("workflow.action", string(req.Action)),
	))
	defer func() {
		e.observer.ActionProcessed("counter:"+string(req.Action), outcome(err))
		endSpan(span, err)
	}()

	if req.InstanceID == "" || req.OriginalActionID == "" || req.PerformedBy == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "instance_id, original_action_id and performed_by are required")
	}
	if req.Action != ActionCounterApprove && req.Action != ActionReject {
		return nil, types.Errorf(types.ErrInvalidRequest, "counter-approval action must be %q or %q, got %q",
			ActionCounterApprove, ActionReject, req.Action)
	}

	unlock := e.lockInstance(req.InstanceID)
	defer unlock()

	inst, err := e.instances.Get(ctx, req.InstanceID)
	if err != nil {
		return nil, storeError(err, "workflow instance", req.InstanceID)
	}
	found := inst.FindAction(req.OriginalActionID)
	if found == nil {
		return nil, types.Errorf(types.ErrNotFound, "action %s not found in workflow instance %s", req.OriginalActionID, inst.ID)
	}
	original := *found
	route, err := e.routes.Get(ctx, inst.WorkflowRouteID)
	if err != nil {
		return nil, storeError(err, "workflow route", inst.WorkflowRouteID)
	}
	step := route.StepByID(original.StepID)
	if step == nil {
		return nil, types.Errorf(types.ErrNotFound, "step %s not found in workflow route %s", original.StepID, route.ID)
	}
	if original.ActionType != ActionApprove || original.IsCounterApproval {
		return nil, types.Errorf(types.ErrInvalidState, "action %s is not an approval", original.ID)
	}
	if !route.RequiresCounterApprovalFor(step) {
		return nil, types.Errorf(types.ErrInvalidState, "step %s does not require counter-approval", step.ID)
	}
	allowed, err := hasAnyRole(ctx, e.roles, req.PerformedBy, step.CounterApprovalRoles)
	if err != nil {
		return nil, roleError(err)
	}
	if !allowed {
		return nil, types.Errorf(types.ErrPermissionDenied,
			"user %s does not hold any counter-approval role of step %s", req.PerformedBy, step.ID)
	}
	if req.PerformedBy == original.PerformedBy {
		return nil, types.Errorf(types.ErrPermissionDenied,
			"user %s cannot counter-approve their own approval", req.PerformedBy)
	}
	if inst.Status.IsTerminal() {
		return nil, types.Errorf(types.ErrInvalidState, "workflow instance %s is already %s", inst.ID, inst.Status)
	}
	if inst.CurrentStepID != step.ID {
		return nil, types.Errorf(types.ErrInvalidState,
			"approval %s belongs to step %s, which is no longer current", original.ID, step.ID)
	}
	if inst.IsCountered(original.ID) {
		return nil, types.Errorf(types.ErrInvalidState, "approval %s has already been counter-approved or rejected", original.ID)
	}

	t := newTransition(inst, route)
	action := WorkflowAction{
		ID:                e.newID(),
		StepID:            step.ID,
		ActionType:        req.Action,
		PerformedBy:       req.PerformedBy,
		PerformedAt:       e.now(),
		Comments:          req.Comments,
		IsCounterApproval: true,
		OriginalActionID:  original.ID,
	}
	inst.History = append(inst.History, action)

	result = &ApprovalResult{Success: true, ActionID: action.ID}
	if req.Action == ActionCounterApprove {
		result.NextStep, result.Message = e.moveToNextStep(t, step)
	} else {
		result.Escalated, result.Message = e.handleRejection(t, step, &action)
		if result.Escalated {
			result.NextStep = route.StepByID(inst.CurrentStepID)
		}
	}

	if err := e.commit(ctx, t); err != nil {
		return nil, err
	}
	result.Status = inst.Status
	if result.NextStep != nil {
		next := result.NextStep.clone()
		result.NextStep = &next
	}

	e.logger.Info("counter-approval processed",
		zap.String("instance_id", inst.ID),
		zap.String("step_id", step.ID),
		zap.String("original_action_id", original.ID),
		zap.String("action", string(req.Action)),
		zap.String("performed_by", req.PerformedBy),
		zap.String("status", string(inst.Status)),
	)
	return result, nil
}
