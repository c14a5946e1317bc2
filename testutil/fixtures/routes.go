// Package fixtures 提供审批路由与实例的测试数据工厂。
package fixtures

import (
	"time"

	"github.com/BaSui01/docflow/workflow"
)

// LeaveRoutesYAML 是单步请假路由的定义文件内容
const LeaveRoutesYAML = `
routes:
  - name: Leave request
    document_type: leave
    is_active: true
    steps:
      - id: hod
        name: Head of department
        order: 1
        role_required: [hod]
        timeout_hours: 24
`

// AcademicRoute 返回两步学术审批路由：hod（需 registrar 会签，48 小时超时）→ registrar
func AcademicRoute(id, name string) *workflow.WorkflowRoute {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &workflow.WorkflowRoute{
		ID:           id,
		Name:         name,
		Type:         workflow.RouteTypeSequential,
		DocumentType: "academic",
		Department:   "physics",
		IsActive:     true,
		Version:      1,
		Steps: []workflow.WorkflowStep{
			{ID: "hod", Name: "HOD", Order: 1, RoleRequired: []string{"hod"}, TimeoutHours: workflow.HoursPtr(48),
				RequiresCounterApproval: workflow.BoolPtr(true), CounterApprovalRoles: []string{"registrar"}},
			{ID: "registrar", Name: "Registrar", Order: 2, RoleRequired: []string{"registrar"}},
		},
		EscalationPaths: []workflow.EscalationPath{
			{ID: "p1", FromStepID: "hod", ToStepID: "registrar", Condition: workflow.ConditionTimeout},
		},
		AutoEscalation: workflow.AutoEscalation{Enabled: true, TimeoutHours: 72},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Instance 返回停留在 hod 步骤的实例
func Instance(id, routeID, documentID string, status workflow.InstanceStatus) *workflow.WorkflowInstance {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &workflow.WorkflowInstance{
		ID:              id,
		DocumentID:      documentID,
		WorkflowRouteID: routeID,
		CurrentStepID:   "hod",
		Status:          status,
		InitiatedBy:     "emp1",
		InitiatedAt:     at,
		StepStartedAt:   at,
		History:         []workflow.WorkflowAction{},
		Metadata:        map[string]any{"title": "Syllabus"},
	}
}

// AcademicRouteBody 返回 POST /api/v1/routes 的请求体
func AcademicRouteBody(counterOnHOD bool) map[string]any {
	hod := map[string]any{"id": "hod", "name": "HOD", "order": 1, "role_required": []string{"hod"}, "timeout_hours": 48}
	if counterOnHOD {
		hod["requires_counter_approval"] = true
		hod["counter_approval_roles"] = []string{"registrar"}
	}
	return map[string]any{
		"name":          "Academic approval",
		"type":          "sequential",
		"document_type": "academic",
		"is_active":     true,
		"steps": []any{
			hod,
			map[string]any{"id": "registrar", "name": "Registrar", "order": 2, "role_required": []string{"registrar"}},
		},
	}
}
