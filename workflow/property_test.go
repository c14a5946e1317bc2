package workflow

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/BaSui01/docflow/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// drawOrders 生成 n 个严格递增的 order，并打乱声明顺序
func drawOrders(rt *rapid.T, n int) (sorted []int, declared []int) {
	next := rapid.IntRange(-5, 5).Draw(rt, "firstOrder")
	for i := 0; i < n; i++ {
		sorted = append(sorted, next)
		next += rapid.IntRange(1, 10).Draw(rt, fmt.Sprintf("gap_%d", i))
	}
	declared = rapid.Permutation(sorted).Draw(rt, "declared")
	return sorted, declared
}

// TestProperty_ApprovalsVisitStepsInOrder 依次审批总是按 order 递增访问步骤，
// 恰好 len(steps) 次成功审批后完成。
func TestProperty_ApprovalsVisitStepsInOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "steps")
		sorted, declared := drawOrders(rt, n)
		route := linearRoute(declared, nil)
		e, inst := newPropertyEngine(rt, route)
		ctx := context.Background()

		visited := []int{currentOrder(route, inst)}
		for i := 0; i < n; i++ {
			require.NotEqual(rt, StatusCompleted, inst.Status, "completed after %d approvals", i)
			order := currentOrder(route, inst)
			res, err := e.ProcessApproval(ctx, ApprovalRequest{
				InstanceID:  inst.ID,
				StepID:      inst.CurrentStepID,
				Action:      ActionApprove,
				PerformedBy: userFor(stepRole(order)),
			})
			require.NoError(rt, err)
			require.True(rt, res.Success)

			inst, err = e.GetWorkflowInstance(ctx, inst.ID)
			require.NoError(rt, err)
			if inst.Status != StatusCompleted {
				visited = append(visited, currentOrder(route, inst))
			}
		}

		assert.Equal(rt, StatusCompleted, inst.Status)
		assert.NotNil(rt, inst.CompletedAt)
		assert.Equal(rt, sorted, visited)
		assert.True(rt, sort.IntsAreSorted(visited))
	})
}

// TestProperty_CounterApprovalGate 需要会签的步骤被审批后 currentStepId 不变，
// 只有针对该审批动作的 counter-approve 才能推进。
func TestProperty_CounterApprovalGate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "steps")
		sorted, declared := drawOrders(rt, n)
		gated := rapid.SampledFrom(sorted).Draw(rt, "gated")
		route := linearRoute(declared, map[int]bool{gated: true})
		e, inst := newPropertyEngine(rt, route)
		ctx := context.Background()

		for currentOrder(route, inst) != gated {
			order := currentOrder(route, inst)
			_, err := e.ProcessApproval(ctx, ApprovalRequest{
				InstanceID: inst.ID, StepID: inst.CurrentStepID, Action: ActionApprove, PerformedBy: userFor(stepRole(order)),
			})
			require.NoError(rt, err)
			inst, err = e.GetWorkflowInstance(ctx, inst.ID)
			require.NoError(rt, err)
		}

		gatedStep := inst.CurrentStepID
		res, err := e.ProcessApproval(ctx, ApprovalRequest{
			InstanceID: inst.ID, StepID: gatedStep, Action: ActionApprove, PerformedBy: userFor(stepRole(gated)),
		})
		require.NoError(rt, err)
		inst, err = e.GetWorkflowInstance(ctx, inst.ID)
		require.NoError(rt, err)
		assert.Equal(rt, gatedStep, inst.CurrentStepID)
		assert.Equal(rt, StatusPending, inst.Status)

		// 审批人重复审批不能绕过会签
		retries := rapid.IntRange(0, 3).Draw(rt, "retries")
		for i := 0; i < retries; i++ {
			_, err := e.ProcessApproval(ctx, ApprovalRequest{
				InstanceID: inst.ID, StepID: gatedStep, Action: ActionApprove, PerformedBy: userFor(stepRole(gated)),
			})
			require.Error(rt, err)
		}
		inst, err = e.GetWorkflowInstance(ctx, inst.ID)
		require.NoError(rt, err)
		assert.Equal(rt, gatedStep, inst.CurrentStepID)

		_, err = e.ProcessCounterApproval(ctx, CounterApprovalRequest{
			InstanceID:       inst.ID,
			OriginalActionID: res.ActionID,
			Action:           ActionCounterApprove,
			PerformedBy:      userFor(counterRole(gated)),
		})
		require.NoError(rt, err)
		inst, err = e.GetWorkflowInstance(ctx, inst.ID)
		require.NoError(rt, err)
		if gated == sorted[len(sorted)-1] {
			assert.Equal(rt, StatusCompleted, inst.Status)
		} else {
			assert.NotEqual(rt, gatedStep, inst.CurrentStepID)
			assert.Greater(rt, currentOrder(route, inst), gated)
		}
	})
}

// TestProperty_HistoryAppendOnly 任意动作序列下历史长度单调不减；
// 追加前失败的调用不写历史，成功调用写一条（升级时另有一条 system 动作）。
func TestProperty_HistoryAppendOnly(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(rt, "steps")
		sorted, declared := drawOrders(rt, n)
		route := linearRoute(declared, nil)
		if rapid.Bool().Draw(rt, "rejectionPath") && n > 1 {
			route.EscalationPaths = append(route.EscalationPaths, EscalationPath{
				FromStepID: stepIDFor(sorted[1]), ToStepID: stepIDFor(sorted[0]), Condition: ConditionRejection,
			})
		}
		if rapid.Bool().Draw(rt, "manualPath") {
			route.EscalationPaths = append(route.EscalationPaths, EscalationPath{
				FromStepID: stepIDFor(sorted[0]), Condition: ConditionManual,
			})
		}
		e, inst := newPropertyEngine(rt, route)
		ctx := context.Background()

		actions := []ActionType{ActionApprove, ActionReject, ActionEscalate, ActionRequestChanges}
		stepChoices := append([]string{"unknown"}, stepIDsOf(sorted)...)
		userChoices := []string{"stranger"}
		for _, o := range sorted {
			userChoices = append(userChoices, userFor(stepRole(o)))
		}

		length := 0
		calls := rapid.IntRange(1, 12).Draw(rt, "calls")
		for i := 0; i < calls; i++ {
			action := rapid.SampledFrom(actions).Draw(rt, fmt.Sprintf("action_%d", i))
			step := rapid.SampledFrom(stepChoices).Draw(rt, fmt.Sprintf("step_%d", i))
			user := rapid.SampledFrom(userChoices).Draw(rt, fmt.Sprintf("user_%d", i))

			res, err := e.ProcessApproval(ctx, ApprovalRequest{InstanceID: inst.ID, StepID: step, Action: action, PerformedBy: user})
			got, getErr := e.GetWorkflowInstance(ctx, inst.ID)
			require.NoError(rt, getErr)
			delta := len(got.History) - length
			require.GreaterOrEqual(rt, delta, 0)

			switch {
			case err == nil && res.Escalated:
				assert.Equal(rt, 2, delta)
			case err == nil:
				assert.Equal(rt, 1, delta)
			case types.IsErrorCode(err, types.ErrNotFound), types.IsErrorCode(err, types.ErrPermissionDenied):
				assert.Equal(rt, 0, delta)
			case types.IsErrorCode(err, types.ErrInvalidState):
				if action == ActionEscalate && delta == 1 {
					break
				}
				assert.Equal(rt, 0, delta)
			default:
				rt.Fatalf("unexpected error: %v", err)
			}
			length = len(got.History)
		}
	})
}

func stepIDsOf(orders []int) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = stepIDFor(o)
	}
	return out
}

// TestProperty_RejectionIsTerminal 没有 rejection 路径时驳回终止实例，此后 currentStepId 不再改变。
func TestProperty_RejectionIsTerminal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reject without rejection path terminates", prop.ForAll(
		func(n, rejectAt, followUps int) bool {
			ctx := context.Background()
			orders := make([]int, n)
			for i := range orders {
				orders[i] = (i + 1) * 10
			}
			route := linearRoute(orders, nil)
			e, inst := newPropertyEngine(t, route)

			target := orders[rejectAt%n]
			for currentOrder(route, inst) != target {
				if _, err := e.ProcessApproval(ctx, ApprovalRequest{
					InstanceID: inst.ID, StepID: inst.CurrentStepID, Action: ActionApprove,
					PerformedBy: userFor(stepRole(currentOrder(route, inst))),
				}); err != nil {
					t.Logf("approve failed: %v", err)
					return false
				}
				inst, _ = e.GetWorkflowInstance(ctx, inst.ID)
			}

			if _, err := e.ProcessApproval(ctx, ApprovalRequest{
				InstanceID: inst.ID, StepID: inst.CurrentStepID, Action: ActionReject, PerformedBy: userFor(stepRole(target)),
			}); err != nil {
				t.Logf("reject failed: %v", err)
				return false
			}
			inst, _ = e.GetWorkflowInstance(ctx, inst.ID)
			if inst.Status != StatusRejected || inst.CompletedAt == nil {
				return false
			}
			frozen := inst.CurrentStepID

			for i := 0; i < followUps; i++ {
				o := orders[i%n]
				_, err := e.ProcessApproval(ctx, ApprovalRequest{
					InstanceID: inst.ID, StepID: stepIDFor(o), Action: ActionApprove, PerformedBy: userFor(stepRole(o)),
				})
				if err == nil {
					return false
				}
			}
			inst, _ = e.GetWorkflowInstance(ctx, inst.ID)
			return inst.CurrentStepID == frozen && inst.Status == StatusRejected
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 100),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestProperty_RejectionEscalationRedirects rejection 路径 A->B 使驳回后 currentStepId=B 且状态为 escalated。
func TestProperty_RejectionEscalationRedirects(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reject at A escalates to B", prop.ForAll(
		func(n, from, to int) bool {
			ctx := context.Background()
			orders := make([]int, n)
			for i := range orders {
				orders[i] = i + 1
			}
			a, b := orders[from%n], orders[to%n]
			route := linearRoute(orders, nil)
			route.EscalationPaths = []EscalationPath{{FromStepID: stepIDFor(a), ToStepID: stepIDFor(b), Condition: ConditionRejection}}
			e, inst := newPropertyEngine(t, route)

			for currentOrder(route, inst) != a {
				if _, err := e.ProcessApproval(ctx, ApprovalRequest{
					InstanceID: inst.ID, StepID: inst.CurrentStepID, Action: ActionApprove,
					PerformedBy: userFor(stepRole(currentOrder(route, inst))),
				}); err != nil {
					return false
				}
				inst, _ = e.GetWorkflowInstance(ctx, inst.ID)
			}

			res, err := e.ProcessApproval(ctx, ApprovalRequest{
				InstanceID: inst.ID, StepID: stepIDFor(a), Action: ActionReject, PerformedBy: userFor(stepRole(a)),
			})
			if err != nil || !res.Escalated {
				return false
			}
			inst, _ = e.GetWorkflowInstance(ctx, inst.ID)
			return inst.CurrentStepID == stepIDFor(b) && inst.Status == StatusEscalated && inst.CompletedAt == nil
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// TestProperty_NotificationDrainIsReadOnce 两次连续 drain 分别返回全部通知与空列表。
func TestProperty_NotificationDrainIsReadOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("drain then drain returns [...] then []", prop.ForAll(
		func(documents int) bool {
			ctx := context.Background()
			e := NewEngine(NewMemoryRouteStore(), NewMemoryInstanceStore(), roleByName)
			if _, err := e.CreateWorkflowRoute(ctx, linearRoute([]int{1, 2}, nil)); err != nil {
				return false
			}
			for i := 0; i < documents; i++ {
				if _, err := e.InitiateWorkflow(ctx, InitiateRequest{
					DocumentID: fmt.Sprintf("doc-%d", i), DocumentType: "memo", InitiatedBy: "author",
				}); err != nil {
					return false
				}
			}
			first, err := e.GetNotificationQueue(ctx)
			if err != nil || len(first) != documents {
				return false
			}
			second, err := e.GetNotificationQueue(ctx)
			return err == nil && second != nil && len(second) == 0
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
