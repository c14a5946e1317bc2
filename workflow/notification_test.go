package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNotificationQueue_DrainIsReadOnce(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryNotificationQueue()
	require.NoError(t, q.Enqueue(ctx, NotificationPayload{ID: "n1"}))
	require.NoError(t, q.Enqueue(ctx, NotificationPayload{ID: "n2"}))

	first, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "n1", first[0].ID)
	assert.Equal(t, "n2", first[1].ID)

	second, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.NotNil(t, second)
	assert.Empty(t, second)
}

func TestMemoryNotificationQueue_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryNotificationQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(ctx, NotificationPayload{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}

func TestNotificationPriorities(t *testing.T) {
	f := newFixture()
	f.mustCreateRoute(t, withDean(withCounterOnHOD(academicRoute()), EscalationPath{
		FromStepID: "registrar", ToStepID: "dean", Condition: ConditionRejection,
	}))
	inst := f.mustInitiate(t, "doc1", "academic", "emp1")
	res, err := f.approve(inst.ID, "hod", "hodUser")
	require.NoError(t, err)
	_, err = f.engine.ProcessCounterApproval(context.Background(), CounterApprovalRequest{
		InstanceID: inst.ID, OriginalActionID: res.ActionID, Action: ActionCounterApprove, PerformedBy: "regUser",
	})
	require.NoError(t, err)
	_, err = f.act(inst.ID, "registrar", "reg2", ActionReject)
	require.NoError(t, err)

	notes := f.drain(t)
	got := make([]string, len(notes))
	for i, n := range notes {
		got[i] = string(n.Type) + "/" + string(n.Priority)
	}
	assert.Equal(t, []string{
		"approval-request/normal",
		"counter-approval-required/high",
		"approval-request/normal",
		"escalation/high",
	}, got)
	for _, n := range notes {
		assert.Equal(t, inst.ID, n.WorkflowInstanceID)
		assert.Equal(t, "/workflows/"+inst.ID, n.ActionURL)
		assert.NotEmpty(t, n.ID)
		assert.NotEmpty(t, n.Subject)
		assert.NotEmpty(t, n.Message)
		assert.Equal(t, "Academic approval", n.Metadata["routeName"])
	}
}

func TestKeyedMutex_ReleasesIdleKeys(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Equal(t, 0, k.size())

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, k.size())
}
