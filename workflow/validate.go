package workflow

import (
	"fmt"
	"strings"

	"github.com/BaSui01/docflow/types"
)

// ValidateRoute 在保存时校验路由配置，返回 CONFIGURATION 错误。
// 步骤 order 必须唯一，否则"下一步"查找没有确定结果。
func ValidateRoute(route *WorkflowRoute) error {
	var errs []string

	if strings.TrimSpace(route.Name) == "" {
		errs = append(errs, "route name is required")
	}
	if strings.TrimSpace(route.DocumentType) == "" {
		errs = append(errs, "document_type is required")
	}
	switch route.Type {
	case RouteTypeSequential, RouteTypeParallel:
	default:
		errs = append(errs, fmt.Sprintf("unknown route type %q", route.Type))
	}
	if route.AutoEscalation.TimeoutHours < 0 {
		errs = append(errs, "auto_escalation.timeout_hours must not be negative")
	}
	if len(route.Steps) == 0 {
		errs = append(errs, "route must define at least one step")
	}

	ids := make(map[string]struct{}, len(route.Steps))
	orders := make(map[int]string, len(route.Steps))
	for i := range route.Steps {
		step := &route.Steps[i]
		if step.ID == "" {
			errs = append(errs, fmt.Sprintf("step %d: id is required", i))
			continue
		}
		if _, dup := ids[step.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = struct{}{}
		if other, dup := orders[step.Order]; dup {
			errs = append(errs, fmt.Sprintf("steps %q and %q share order %d", other, step.ID, step.Order))
		} else {
			orders[step.Order] = step.ID
		}
		if len(step.RoleRequired) == 0 {
			errs = append(errs, fmt.Sprintf("step %q: role_required must not be empty", step.ID))
		}
		if step.TimeoutHours != nil && *step.TimeoutHours < 0 {
			errs = append(errs, fmt.Sprintf("step %q: timeout_hours must not be negative", step.ID))
		}
		if step.RequiredApprovals < 0 {
			errs = append(errs, fmt.Sprintf("step %q: required_approvals must not be negative", step.ID))
		}
		if route.RequiresCounterApprovalFor(step) && len(step.CounterApprovalRoles) == 0 {
			errs = append(errs, fmt.Sprintf("step %q: counter-approval required but counter_approval_roles is empty", step.ID))
		}
	}

	seen := make(map[string]struct{}, len(route.EscalationPaths))
	for i := range route.EscalationPaths {
		p := &route.EscalationPaths[i]
		switch p.Condition {
		case ConditionRejection, ConditionTimeout, ConditionManual:
		default:
			errs = append(errs, fmt.Sprintf("escalation path %d: unknown condition %q", i, p.Condition))
		}
		if _, ok := ids[p.FromStepID]; !ok {
			errs = append(errs, fmt.Sprintf("escalation path %d: unknown from_step_id %q", i, p.FromStepID))
		}
		if p.ToStepID != "" {
			if _, ok := ids[p.ToStepID]; !ok {
				errs = append(errs, fmt.Sprintf("escalation path %d: unknown to_step_id %q", i, p.ToStepID))
			}
		}
		key := p.FromStepID + "|" + string(p.Condition)
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Sprintf("escalation path %d: duplicate (%s, %s)", i, p.FromStepID, p.Condition))
		}
		seen[key] = struct{}{}
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrConfiguration, "invalid workflow route: "+strings.Join(errs, "; "))
	}
	return nil
}

// timeoutGaps 返回配置了超时却没有 timeout 升级路径的步骤 ID。
func timeoutGaps(route *WorkflowRoute) []string {
	var gaps []string
	for i := range route.Steps {
		step := &route.Steps[i]
		if step.TimeoutHours == nil {
			continue
		}
		if FindEscalationPath(route, step.ID, ConditionTimeout) == nil {
			gaps = append(gaps, step.ID)
		}
	}
	return gaps
}
