package workflow

import (
	"fmt"

	"go.uber.org/zap"
)

// escalate 追加 system 执行的 escalate 动作，设置了 ToStepID 时重定向到目标步骤，
// 实例状态置为 escalated。未设置 ToStepID 的升级只扩大通知范围，不改变审批关口。
func (e *Engine) escalate(t *transition, path *EscalationPath) {
	inst, route := t.inst, t.route
	from := route.StepByID(path.FromStepID)

	inst.History = append(inst.History, WorkflowAction{
		ID:          e.newID(),
		StepID:      path.FromStepID,
		ActionType:  ActionEscalate,
		PerformedBy: SystemActor,
		PerformedAt: e.now(),
		Comments:    fmt.Sprintf("Escalated on %s", path.Condition),
		EscalatedTo: path.ToStepID,
		ReasonCode:  string(path.Condition),
	})

	var target *WorkflowStep
	if path.ToStepID != "" {
		target = route.StepByID(path.ToStepID)
	}
	if target != nil {
		inst.CurrentStepID = target.ID
		inst.StepStartedAt = e.now()
	}
	inst.Status = StatusEscalated

	t.notify(e.escalationNotification(inst, route, path, escalationRecipients(path, from, target), target))
	e.observer.Escalated(string(path.Condition))
	e.logger.Info("workflow escalated",
		zap.String("instance_id", inst.ID),
		zap.String("from_step_id", path.FromStepID),
		zap.String("to_step_id", path.ToStepID),
		zap.String("condition", string(path.Condition)),
	)
}

// escalationRecipients 优先使用路径的 EscalateToRoles，其次来源步骤的 EscalationRoles，
// 最后是目标步骤的 RoleRequired。
func escalationRecipients(path *EscalationPath, from, target *WorkflowStep) []string {
	if len(path.EscalateToRoles) > 0 {
		return path.EscalateToRoles
	}
	if from != nil && len(from.EscalationRoles) > 0 {
		return from.EscalationRoles
	}
	if target != nil {
		return target.RoleRequired
	}
	return nil
}
