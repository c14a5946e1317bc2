package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotificationApprovalRequest         NotificationType = "approval-request"
	NotificationCounterApprovalRequired NotificationType = "counter-approval-required"
	NotificationEscalation              NotificationType = "escalation"
	NotificationApprovalRejected        NotificationType = "approval-rejected"
	NotificationApprovalGranted         NotificationType = "approval-granted"
)

// NotificationPriority 通知优先级
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// NotificationPayload 出站通知。引擎只负责入队，投递由外部组件完成。
type NotificationPayload struct {
	ID                 string               `json:"id"`
	Type               NotificationType     `json:"type"`
	WorkflowInstanceID string               `json:"workflow_instance_id"`
	DocumentID         string               `json:"document_id"`
	Recipients         []string             `json:"recipients"`
	Subject            string               `json:"subject"`
	Message            string               `json:"message"`
	ActionURL          string               `json:"action_url"`
	Priority           NotificationPriority `json:"priority"`
	Metadata           map[string]any       `json:"metadata,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// Notifier 通知队列。Drain 原子地取出并清空队列，只支持单一消费者。
type Notifier interface {
	Enqueue(ctx context.Context, payload NotificationPayload) error
	Drain(ctx context.Context) ([]NotificationPayload, error)
}

// MemoryNotificationQueue 内存通知队列
type MemoryNotificationQueue struct {
	items []NotificationPayload
	mu    sync.Mutex
}

// NewMemoryNotificationQueue 创建内存通知队列
func NewMemoryNotificationQueue() *MemoryNotificationQueue {
	return &MemoryNotificationQueue{}
}

// Enqueue 追加通知
func (q *MemoryNotificationQueue) Enqueue(ctx context.Context, payload NotificationPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, payload)
	return nil
}

// Drain 取出全部通知并清空
func (q *MemoryNotificationQueue) Drain(ctx context.Context) ([]NotificationPayload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		out = []NotificationPayload{}
	}
	return out, nil
}

// Len 返回队列长度
func (q *MemoryNotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// =============================================================================
// 📨 通知构造
// =============================================================================

func (e *Engine) newNotification(t NotificationType, inst *WorkflowInstance, route *WorkflowRoute, recipients []string, priority NotificationPriority) NotificationPayload {
	return NotificationPayload{
		ID:                 e.newID(),
		Type:               t,
		WorkflowInstanceID: inst.ID,
		DocumentID:         inst.DocumentID,
		Recipients:         cloneStrings(recipients),
		ActionURL:          e.actionURL(inst.ID),
		Priority:           priority,
		Metadata: map[string]any{
			"routeId":       route.ID,
			"routeName":     route.Name,
			"documentType":  route.DocumentType,
			"initiatedBy":   inst.InitiatedBy,
			"currentStepId": inst.CurrentStepID,
		},
		CreatedAt: e.now(),
	}
}

func (e *Engine) actionURL(instanceID string) string {
	return strings.TrimRight(e.actionURLBase, "/") + "/" + instanceID
}

func (e *Engine) approvalRequestNotification(inst *WorkflowInstance, route *WorkflowRoute, step *WorkflowStep) NotificationPayload {
	n := e.newNotification(NotificationApprovalRequest, inst, route, step.RoleRequired, PriorityNormal)
	n.Subject = fmt.Sprintf("Approval required: %s", step.Name)
	n.Message = fmt.Sprintf("Document %s is awaiting your approval at step %q of %q.", inst.DocumentID, step.Name, route.Name)
	n.Metadata["stepId"] = step.ID
	n.Metadata["stepName"] = step.Name
	return n
}

func (e *Engine) counterApprovalNotification(inst *WorkflowInstance, route *WorkflowRoute, step *WorkflowStep, approval *WorkflowAction) NotificationPayload {
	n := e.newNotification(NotificationCounterApprovalRequired, inst, route, step.CounterApprovalRoles, PriorityHigh)
	n.Subject = fmt.Sprintf("Counter-approval required: %s", step.Name)
	n.Message = fmt.Sprintf("%s approved document %s at step %q; a counter-approval is required before it can proceed.",
		approval.PerformedBy, inst.DocumentID, step.Name)
	n.Metadata["stepId"] = step.ID
	n.Metadata["stepName"] = step.Name
	n.Metadata["originalActionId"] = approval.ID
	n.Metadata["approvedBy"] = approval.PerformedBy
	return n
}

func (e *Engine) escalationNotification(inst *WorkflowInstance, route *WorkflowRoute, path *EscalationPath, recipients []string, target *WorkflowStep) NotificationPayload {
	priority := PriorityHigh
	if path.Condition == ConditionTimeout {
		priority = PriorityUrgent
	}
	n := e.newNotification(NotificationEscalation, inst, route, recipients, priority)
	n.Subject = fmt.Sprintf("Workflow escalated (%s)", path.Condition)
	if target != nil {
		n.Message = fmt.Sprintf("Document %s was escalated to step %q after %s.", inst.DocumentID, target.Name, path.Condition)
		n.Metadata["stepId"] = target.ID
		n.Metadata["stepName"] = target.Name
	} else {
		n.Message = fmt.Sprintf("Document %s was escalated after %s.", inst.DocumentID, path.Condition)
	}
	n.Metadata["fromStepId"] = path.FromStepID
	n.Metadata["escalationPathId"] = path.ID
	n.Metadata["condition"] = string(path.Condition)
	return n
}

func (e *Engine) rejectionNotification(inst *WorkflowInstance, route *WorkflowRoute, step *WorkflowStep, action *WorkflowAction) NotificationPayload {
	n := e.newNotification(NotificationApprovalRejected, inst, route, []string{inst.InitiatedBy}, PriorityHigh)
	n.Subject = fmt.Sprintf("Document rejected: %s", route.Name)
	n.Message = fmt.Sprintf("Document %s was rejected at step %q by %s.", inst.DocumentID, step.Name, action.PerformedBy)
	n.Metadata["stepId"] = step.ID
	n.Metadata["stepName"] = step.Name
	n.Metadata["rejectedBy"] = action.PerformedBy
	if action.Comments != "" {
		n.Metadata["comments"] = action.Comments
	}
	return n
}

func (e *Engine) completionNotification(inst *WorkflowInstance, route *WorkflowRoute) NotificationPayload {
	n := e.newNotification(NotificationApprovalGranted, inst, route, []string{inst.InitiatedBy}, PriorityNormal)
	n.Subject = fmt.Sprintf("Document approved: %s", route.Name)
	n.Message = fmt.Sprintf("Document %s completed all approval steps.", inst.DocumentID)
	return n
}

// changesRequestedNotification 复用 approval-request 类型，发送给发起人。
func (e *Engine) changesRequestedNotification(inst *WorkflowInstance, route *WorkflowRoute, step *WorkflowStep, action *WorkflowAction) NotificationPayload {
	n := e.newNotification(NotificationApprovalRequest, inst, route, []string{inst.InitiatedBy}, PriorityNormal)
	n.Subject = fmt.Sprintf("Changes requested: %s", step.Name)
	n.Message = fmt.Sprintf("%s requested changes to document %s at step %q.", action.PerformedBy, inst.DocumentID, step.Name)
	n.Metadata["stepId"] = step.ID
	n.Metadata["stepName"] = step.Name
	n.Metadata["reason"] = "changes-requested"
	n.Metadata["requestedBy"] = action.PerformedBy
	if action.Comments != "" {
		n.Metadata["comments"] = action.Comments
	}
	return n
}
