package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/docflow/testutil"
)

// recordingObserver 记录引擎事件的测试替身
type recordingObserver struct {
	mu            sync.Mutex
	started       int
	actions       map[string]int
	escalations   map[string]int
	unhandled     int
	notifications map[string]int
	transitions   []string
	scans         int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		actions:       make(map[string]int),
		escalations:   make(map[string]int),
		notifications: make(map[string]int),
	}
}

func (o *recordingObserver) InstanceStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) ActionProcessed(action, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions[action+"/"+outcome]++
}

func (o *recordingObserver) StatusChanged(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from+"->"+to)
}

func (o *recordingObserver) Escalated(condition string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.escalations[condition]++
}

func (o *recordingObserver) TimeoutUnhandled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unhandled++
}

func (o *recordingObserver) NotificationEnqueued(notificationType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifications[notificationType]++
}

func (o *recordingObserver) TimeoutScanCompleted(time.Duration, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scans++
}

type fixture struct {
	engine    *Engine
	routes    *MemoryRouteStore
	instances *MemoryInstanceStore
	roles     *StaticRoleResolver
	queue     *MemoryNotificationQueue
	clock     *testutil.Clock
	observer  *recordingObserver
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		routes:    NewMemoryRouteStore(),
		instances: NewMemoryInstanceStore(),
		roles: NewStaticRoleResolver(map[string][]string{
			"emp1":     {"employee"},
			"hodUser":  {"hod"},
			"regUser":  {"registrar"},
			"reg2":     {"registrar"},
			"deanUser": {"dean"},
			"both":     {"hod", "registrar"},
		}),
		queue:    NewMemoryNotificationQueue(),
		clock:    testutil.NewClock(),
		observer: newRecordingObserver(),
	}
	base := []Option{
		WithNotifier(f.queue),
		WithClock(f.clock.Now),
		WithObserver(f.observer),
	}
	f.engine = NewEngine(f.routes, f.instances, f.roles, append(base, opts...)...)
	return f
}

// academicRoute HOD(order 1, 48h) -> Registrar(order 2)
func academicRoute() *WorkflowRoute {
	return &WorkflowRoute{
		Name:         "Academic approval",
		Type:         RouteTypeSequential,
		DocumentType: "academic",
		IsActive:     true,
		Steps: []WorkflowStep{
			{ID: "hod", Name: "HOD", Order: 1, RoleRequired: []string{"hod"}, TimeoutHours: HoursPtr(48)},
			{ID: "registrar", Name: "Registrar", Order: 2, RoleRequired: []string{"registrar"}},
		},
	}
}

// withDean 追加 Dean 步骤及给定升级路径
func withDean(r *WorkflowRoute, paths ...EscalationPath) *WorkflowRoute {
	r.Steps = append(r.Steps, WorkflowStep{ID: "dean", Name: "Dean", Order: 3, RoleRequired: []string{"dean"}})
	r.EscalationPaths = append(r.EscalationPaths, paths...)
	return r
}

// withCounterOnHOD HOD 步骤需要 registrar 会签
func withCounterOnHOD(r *WorkflowRoute) *WorkflowRoute {
	r.Steps[0].RequiresCounterApproval = BoolPtr(true)
	r.Steps[0].CounterApprovalRoles = []string{"registrar"}
	return r
}

func (f *fixture) mustCreateRoute(t require.TestingT, r *WorkflowRoute) *WorkflowRoute {
	created, err := f.engine.CreateWorkflowRoute(context.Background(), r)
	require.NoError(t, err)
	return created
}

func (f *fixture) mustInitiate(t require.TestingT, documentID, documentType, initiatedBy string) *WorkflowInstance {
	inst, err := f.engine.InitiateWorkflow(context.Background(), InitiateRequest{
		DocumentID:   documentID,
		DocumentType: documentType,
		InitiatedBy:  initiatedBy,
	})
	require.NoError(t, err)
	return inst
}

func (f *fixture) mustGet(t require.TestingT, instanceID string) *WorkflowInstance {
	inst, err := f.engine.GetWorkflowInstance(context.Background(), instanceID)
	require.NoError(t, err)
	require.NotNil(t, inst)
	return inst
}

func (f *fixture) approve(instanceID, stepID, user string) (*ApprovalResult, error) {
	return f.engine.ProcessApproval(context.Background(), ApprovalRequest{
		InstanceID:  instanceID,
		StepID:      stepID,
		Action:      ActionApprove,
		PerformedBy: user,
	})
}

func (f *fixture) act(instanceID, stepID, user string, action ActionType) (*ApprovalResult, error) {
	return f.engine.ProcessApproval(context.Background(), ApprovalRequest{
		InstanceID:  instanceID,
		StepID:      stepID,
		Action:      action,
		PerformedBy: user,
	})
}

func (f *fixture) drain(t require.TestingT) []NotificationPayload {
	out, err := f.engine.GetNotificationQueue(context.Background())
	require.NoError(t, err)
	return out
}

func notificationTypes(ns []NotificationPayload) []NotificationType {
	out := make([]NotificationType, len(ns))
	for i, n := range ns {
		out[i] = n.Type
	}
	return out
}

// =============================================================================
// 属性测试用的线性路由：每个角色 r 由用户 "user:"+r 持有
// =============================================================================

func userFor(role string) string { return "user:" + role }

var roleByName = RoleResolverFunc(func(_ context.Context, userID, role string) (bool, error) {
	return userID == userFor(role), nil
})

func stepIDFor(order int) string { return fmt.Sprintf("s%d", order) }
func stepRole(order int) string { return fmt.Sprintf("approver-%d", order) }
func counterRole(order int) string { return fmt.Sprintf("checker-%d", order) }

// linearRoute 按给定 order 构造路由，counterAt 中的 order 需要会签。
func linearRoute(orders []int, counterAt map[int]bool) *WorkflowRoute {
	r := &WorkflowRoute{
		Name:         "linear",
		Type:         RouteTypeSequential,
		DocumentType: "general",
		IsActive:     true,
	}
	for _, o := range orders {
		step := WorkflowStep{
			ID:           stepIDFor(o),
			Name:         stepIDFor(o),
			Order:        o,
			RoleRequired: []string{stepRole(o)},
		}
		if counterAt[o] {
			step.RequiresCounterApproval = BoolPtr(true)
			step.CounterApprovalRoles = []string{counterRole(o)}
		}
		r.Steps = append(r.Steps, step)
	}
	return r
}

func newPropertyEngine(t require.TestingT, route *WorkflowRoute) (*Engine, *WorkflowInstance) {
	ctx := context.Background()
	e := NewEngine(NewMemoryRouteStore(), NewMemoryInstanceStore(), roleByName)
	_, err := e.CreateWorkflowRoute(ctx, route)
	require.NoError(t, err)
	inst, err := e.InitiateWorkflow(ctx, InitiateRequest{DocumentID: "doc", DocumentType: "memo", InitiatedBy: "author"})
	require.NoError(t, err)
	return e, inst
}

func currentOrder(route *WorkflowRoute, inst *WorkflowInstance) int {
	return route.StepByID(inst.CurrentStepID).Order
}
