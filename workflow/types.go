package workflow

import (
	"sort"
	"time"
)

// RouteType 路由类型
type RouteType string

const (
	RouteTypeSequential RouteType = "sequential"
	RouteTypeParallel   RouteType = "parallel"
)

// InstanceStatus 实例状态
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusInProgress InstanceStatus = "in-progress"
	StatusCompleted  InstanceStatus = "completed"
	StatusRejected   InstanceStatus = "rejected"
	StatusEscalated  InstanceStatus = "escalated"
)

// IsTerminal 终态实例不再接受任何动作。
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// ActionType 审批动作类型
type ActionType string

const (
	ActionApprove        ActionType = "approve"
	ActionReject         ActionType = "reject"
	ActionEscalate       ActionType = "escalate"
	ActionRequestChanges ActionType = "request-changes"
	ActionCounterApprove ActionType = "counter-approve"
)

// EscalationCondition 升级触发条件
type EscalationCondition string

const (
	ConditionRejection EscalationCondition = "rejection"
	ConditionTimeout   EscalationCondition = "timeout"
	ConditionManual    EscalationCondition = "manual"
)

// SystemActor 是引擎自动生成动作的执行者。
const SystemActor = "system"

// GeneralDocumentType 匹配任意文档类型的通配路由。
const GeneralDocumentType = "general"

// AutoEscalation 路由级自动升级策略
type AutoEscalation struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	TimeoutHours float64 `json:"timeout_hours" yaml:"timeout_hours"`
}

// WorkflowStep 路由中的单个审批步骤
type WorkflowStep struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Order        int      `json:"order" yaml:"order"`
	ApproverRole string   `json:"approver_role,omitempty" yaml:"approver_role"`
	RoleRequired []string `json:"role_required" yaml:"role_required"`
	// RequiredApprovals is stored for future quorum support; only one approval is evaluated.
	RequiredApprovals int      `json:"required_approvals,omitempty" yaml:"required_approvals"`
	IsOptional        bool     `json:"is_optional,omitempty" yaml:"is_optional"`
	TimeoutHours      *float64 `json:"timeout_hours,omitempty" yaml:"timeout_hours"`
	EscalationRoles   []string `json:"escalation_roles,omitempty" yaml:"escalation_roles"`
	// RequiresCounterApproval 为 nil 时继承路由默认值
	RequiresCounterApproval *bool    `json:"requires_counter_approval,omitempty" yaml:"requires_counter_approval"`
	CounterApprovalRoles    []string `json:"counter_approval_roles,omitempty" yaml:"counter_approval_roles"`
}

// EscalationPath 升级规则
type EscalationPath struct {
	ID              string              `json:"id" yaml:"id"`
	FromStepID      string              `json:"from_step_id" yaml:"from_step_id"`
	ToStepID        string              `json:"to_step_id,omitempty" yaml:"to_step_id"`
	Condition       EscalationCondition `json:"condition" yaml:"condition"`
	EscalateToRoles []string            `json:"escalate_to_roles,omitempty" yaml:"escalate_to_roles"`
}

// WorkflowRoute 可复用的审批流程模板
type WorkflowRoute struct {
	ID                      string           `json:"id" yaml:"id"`
	Name                    string           `json:"name" yaml:"name"`
	Description             string           `json:"description,omitempty" yaml:"description"`
	Type                    RouteType        `json:"type" yaml:"type"`
	DocumentType            string           `json:"document_type" yaml:"document_type"`
	Department              string           `json:"department,omitempty" yaml:"department"`
	Branch                  string           `json:"branch,omitempty" yaml:"branch"`
	Steps                   []WorkflowStep   `json:"steps" yaml:"steps"`
	EscalationPaths         []EscalationPath `json:"escalation_paths,omitempty" yaml:"escalation_paths"`
	RequiresCounterApproval bool             `json:"requires_counter_approval" yaml:"requires_counter_approval"`
	AutoEscalation          AutoEscalation   `json:"auto_escalation" yaml:"auto_escalation"`
	IsActive                bool             `json:"is_active" yaml:"is_active"`
	Version                 int              `json:"version" yaml:"-"`
	CreatedAt               time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt               time.Time        `json:"updated_at" yaml:"-"`
}

// WorkflowAction 实例历史中的一条动作记录
type WorkflowAction struct {
	ID                string     `json:"id"`
	StepID            string     `json:"step_id"`
	ActionType        ActionType `json:"action_type"`
	PerformedBy       string     `json:"performed_by"`
	PerformedAt       time.Time  `json:"performed_at"`
	Comments          string     `json:"comments,omitempty"`
	Attachments       []string   `json:"attachments,omitempty"`
	IsCounterApproval bool       `json:"is_counter_approval,omitempty"`
	OriginalActionID  string     `json:"original_action_id,omitempty"`
	EscalatedTo       string     `json:"escalated_to,omitempty"`
	ReasonCode        string     `json:"reason_code,omitempty"`
}

// WorkflowInstance 单个文档在路由中的运行实例
type WorkflowInstance struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id"`
	WorkflowRouteID string         `json:"workflow_route_id"`
	CurrentStepID   string         `json:"current_step_id"`
	Status          InstanceStatus `json:"status"`
	InitiatedBy     string         `json:"initiated_by"`
	InitiatedAt     time.Time      `json:"initiated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	// StepStartedAt 当前步骤的进入时间，在推进或升级重定向时重置
	StepStartedAt time.Time        `json:"step_started_at"`
	History       []WorkflowAction `json:"history"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	// Version 乐观锁版本号，由存储层维护
	Version int `json:"version"`
}

// =============================================================================
// 🔍 路由查询辅助
// =============================================================================

// StepByID 按 ID 查找步骤，不存在返回 nil。
func (r *WorkflowRoute) StepByID(stepID string) *WorkflowStep {
	for i := range r.Steps {
		if r.Steps[i].ID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}

// SortedSteps 返回按 order 升序排列的步骤副本。
func (r *WorkflowRoute) SortedSteps() []WorkflowStep {
	steps := make([]WorkflowStep, len(r.Steps))
	copy(steps, r.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// FirstStep 返回 order 最小的步骤。
func (r *WorkflowRoute) FirstStep() *WorkflowStep {
	var first *WorkflowStep
	for i := range r.Steps {
		if first == nil || r.Steps[i].Order < first.Order {
			first = &r.Steps[i]
		}
	}
	return first
}

// NextStep 返回 order 严格大于 currentOrder 的最小步骤，没有则返回 nil。
func (r *WorkflowRoute) NextStep(currentOrder int) *WorkflowStep {
	var next *WorkflowStep
	for i := range r.Steps {
		s := &r.Steps[i]
		if s.Order <= currentOrder {
			continue
		}
		if next == nil || s.Order < next.Order {
			next = s
		}
	}
	return next
}

// RequiresCounterApprovalFor 返回步骤的有效会签要求（步骤覆盖路由默认值）。
func (r *WorkflowRoute) RequiresCounterApprovalFor(step *WorkflowStep) bool {
	if step.RequiresCounterApproval != nil {
		return *step.RequiresCounterApproval
	}
	return r.RequiresCounterApproval
}

// FindEscalationPath 返回第一条 fromStepId 与 condition 均匹配的升级路径。
func FindEscalationPath(route *WorkflowRoute, stepID string, condition EscalationCondition) *EscalationPath {
	for i := range route.EscalationPaths {
		p := &route.EscalationPaths[i]
		if p.FromStepID == stepID && p.Condition == condition {
			return p
		}
	}
	return nil
}

// matches 判断路由是否适用于给定文档类型与组织范围。
func (r *WorkflowRoute) matches(documentType, department, branch string) bool {
	if r.DocumentType != documentType && r.DocumentType != GeneralDocumentType {
		return false
	}
	if r.Department != "" && r.Department != department {
		return false
	}
	if r.Branch != "" && r.Branch != branch {
		return false
	}
	return true
}

// =============================================================================
// 🔍 实例查询辅助
// =============================================================================

// FindAction 按 ID 查找历史动作。
func (i *WorkflowInstance) FindAction(actionID string) *WorkflowAction {
	for idx := range i.History {
		if i.History[idx].ID == actionID {
			return &i.History[idx]
		}
	}
	return nil
}

// IsCountered 判断某个审批动作是否已被会签处理（通过或驳回）。
func (i *WorkflowInstance) IsCountered(originalActionID string) bool {
	for _, a := range i.History {
		if a.IsCounterApproval && a.OriginalActionID == originalActionID {
			return true
		}
	}
	return false
}

// InvolvesUser 用户发起了实例或在历史中执行过动作。
func (i *WorkflowInstance) InvolvesUser(userID string) bool {
	if i.InitiatedBy == userID {
		return true
	}
	for _, a := range i.History {
		if a.PerformedBy == userID {
			return true
		}
	}
	return false
}

// stepStartTime 当前步骤的计时起点：历史中第一条针对当前步骤的动作，
// 若尚无动作则为进入步骤的时间。
func (i *WorkflowInstance) stepStartTime() time.Time {
	for _, a := range i.History {
		if a.StepID == i.CurrentStepID {
			return a.PerformedAt
		}
	}
	if !i.StepStartedAt.IsZero() {
		return i.StepStartedAt
	}
	return i.InitiatedAt
}

// pendingCounterApproval 返回当前步骤上等待会签的审批动作。
func (i *WorkflowInstance) pendingCounterApproval() *WorkflowAction {
	for idx := len(i.History) - 1; idx >= 0; idx-- {
		a := &i.History[idx]
		if a.StepID != i.CurrentStepID {
			continue
		}
		if a.ActionType == ActionApprove && !a.IsCounterApproval && !i.IsCountered(a.ID) {
			return a
		}
		return nil
	}
	return nil
}

// =============================================================================
// 📋 深拷贝
// =============================================================================

// Clone 返回路由的深拷贝。
func (r *WorkflowRoute) Clone() *WorkflowRoute {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = make([]WorkflowStep, len(r.Steps))
	for i, s := range r.Steps {
		c.Steps[i] = s.clone()
	}
	c.EscalationPaths = make([]EscalationPath, len(r.EscalationPaths))
	for i, p := range r.EscalationPaths {
		p.EscalateToRoles = cloneStrings(p.EscalateToRoles)
		c.EscalationPaths[i] = p
	}
	return &c
}

func (s WorkflowStep) clone() WorkflowStep {
	s.RoleRequired = cloneStrings(s.RoleRequired)
	s.EscalationRoles = cloneStrings(s.EscalationRoles)
	s.CounterApprovalRoles = cloneStrings(s.CounterApprovalRoles)
	if s.TimeoutHours != nil {
		v := *s.TimeoutHours
		s.TimeoutHours = &v
	}
	if s.RequiresCounterApproval != nil {
		v := *s.RequiresCounterApproval
		s.RequiresCounterApproval = &v
	}
	return s
}

// Clone 返回实例的深拷贝（Metadata 值为浅拷贝）。
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	c := *i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	c.History = make([]WorkflowAction, len(i.History))
	for idx, a := range i.History {
		a.Attachments = cloneStrings(a.Attachments)
		c.History[idx] = a
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// BoolPtr 返回布尔值指针，便于声明步骤级覆盖。
func BoolPtr(v bool) *bool { return &v }

// HoursPtr 返回小时数指针，便于声明步骤超时。
func HoursPtr(v float64) *float64 { return &v }
