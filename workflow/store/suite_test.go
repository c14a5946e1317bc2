package store

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/docflow/testutil/fixtures"
	"github.com/BaSui01/docflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 所有后端共用的行为测试

func runRouteStoreSuite(t *testing.T, newStore func(t *testing.T) workflow.RouteStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, fixtures.AcademicRoute("r1", "Academic")))

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "Academic", got.Name)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, 48.0, *got.Steps[0].TimeoutHours)
		assert.True(t, *got.Steps[0].RequiresCounterApproval)
		assert.Nil(t, got.Steps[1].RequiresCounterApproval)
		assert.Equal(t, []string{"registrar"}, got.Steps[0].CounterApprovalRoles)
		assert.Equal(t, workflow.ConditionTimeout, got.EscalationPaths[0].Condition)
		assert.Equal(t, 72.0, got.AutoEscalation.TimeoutHours)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, fixtures.AcademicRoute("r1", "Academic")))
		assert.ErrorIs(t, s.Create(ctx, fixtures.AcademicRoute("r1", "Other")), workflow.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, fixtures.AcademicRoute("r1", "Academic")))

		updated := fixtures.AcademicRoute("r1", "Academic v2")
		updated.IsActive = false
		updated.Version = 2
		require.NoError(t, s.Update(ctx, updated))

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "Academic v2", got.Name)
		assert.False(t, got.IsActive)
		assert.Equal(t, 2, got.Version)

		assert.ErrorIs(t, s.Update(ctx, fixtures.AcademicRoute("missing", "x")), workflow.ErrNotFound)
	})

	t.Run("list keeps insertion order", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"r3", "r1", "r2"} {
			require.NoError(t, s.Create(ctx, fixtures.AcademicRoute(id, "route "+id)))
		}
		routes, err := s.List(ctx)
		require.NoError(t, err)
		ids := make([]string, len(routes))
		for i, r := range routes {
			ids[i] = r.ID
		}
		assert.Equal(t, []string{"r3", "r1", "r2"}, ids)
	})
}

func runInstanceStoreSuite(t *testing.T, newStore func(t *testing.T) workflow.InstanceStore) {
	ctx := context.Background()

	t.Run("create sets version", func(t *testing.T) {
		s := newStore(t)
		inst := fixtures.Instance("i1", "r1", "doc1", workflow.StatusPending)
		require.NoError(t, s.Create(ctx, inst))
		assert.Equal(t, 1, inst.Version)

		got, err := s.Get(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, "doc1", got.DocumentID)
		assert.Equal(t, workflow.StatusPending, got.Status)
		assert.True(t, got.InitiatedAt.Equal(inst.InitiatedAt))
		assert.Equal(t, "Syllabus", got.Metadata["title"])

		assert.ErrorIs(t, s.Create(ctx, fixtures.Instance("i1", "r1", "doc2", workflow.StatusPending)), workflow.ErrAlreadyExists)
	})

	t.Run("update bumps version", func(t *testing.T) {
		s := newStore(t)
		inst := fixtures.Instance("i1", "r1", "doc1", workflow.StatusPending)
		require.NoError(t, s.Create(ctx, inst))

		inst.Status = workflow.StatusInProgress
		inst.History = append(inst.History, workflow.WorkflowAction{
			ID: "a1", StepID: "hod", ActionType: workflow.ActionApprove, PerformedBy: "hodUser",
			PerformedAt: inst.InitiatedAt.Add(time.Hour),
		})
		require.NoError(t, s.Update(ctx, inst))
		assert.Equal(t, 2, inst.Version)

		got, err := s.Get(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, workflow.StatusInProgress, got.Status)
		require.Len(t, got.History, 1)
		assert.Equal(t, workflow.ActionApprove, got.History[0].ActionType)
	})

	t.Run("stale update conflicts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, fixtures.Instance("i1", "r1", "doc1", workflow.StatusPending)))

		a, err := s.Get(ctx, "i1")
		require.NoError(t, err)
		b, err := s.Get(ctx, "i1")
		require.NoError(t, err)

		a.Status = workflow.StatusInProgress
		require.NoError(t, s.Update(ctx, a))

		b.Status = workflow.StatusRejected
		assert.ErrorIs(t, s.Update(ctx, b), workflow.ErrConflict)
		assert.Equal(t, 1, b.Version, "failed update leaves the caller's version untouched")

		got, err := s.Get(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusInProgress, got.Status)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		inst := fixtures.Instance("ghost", "r1", "doc1", workflow.StatusPending)
		inst.Version = 1
		assert.ErrorIs(t, s.Update(ctx, inst), workflow.ErrNotFound)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, fixtures.Instance("i1", "r1", "doc1", workflow.StatusPending)))
		require.NoError(t, s.Create(ctx, fixtures.Instance("i2", "r2", "doc2", workflow.StatusInProgress)))
		require.NoError(t, s.Create(ctx, fixtures.Instance("i3", "r1", "doc3", workflow.StatusCompleted)))

		ids := func(filter workflow.InstanceFilter) []string {
			list, err := s.List(ctx, filter)
			require.NoError(t, err)
			out := make([]string, len(list))
			for i, inst := range list {
				out[i] = inst.ID
			}
			return out
		}

		assert.Equal(t, []string{"i1", "i2", "i3"}, ids(workflow.InstanceFilter{}))
		assert.Equal(t, []string{"i1", "i2"}, ids(workflow.InstanceFilter{
			Statuses: []workflow.InstanceStatus{workflow.StatusPending, workflow.StatusInProgress},
		}))
		assert.Equal(t, []string{"i1", "i3"}, ids(workflow.InstanceFilter{WorkflowRouteID: "r1"}))
		assert.Equal(t, []string{"i3"}, ids(workflow.InstanceFilter{
			WorkflowRouteID: "r1", Statuses: []workflow.InstanceStatus{workflow.StatusCompleted},
		}))
		assert.Equal(t, []string{"i2"}, ids(workflow.InstanceFilter{DocumentID: "doc2"}))
		assert.Empty(t, ids(workflow.InstanceFilter{Statuses: []workflow.InstanceStatus{workflow.StatusEscalated}}))
	})

	t.Run("status index follows updates", func(t *testing.T) {
		s := newStore(t)
		inst := fixtures.Instance("i1", "r1", "doc1", workflow.StatusPending)
		require.NoError(t, s.Create(ctx, inst))
		inst.Status = workflow.StatusCompleted
		require.NoError(t, s.Update(ctx, inst))

		pending, err := s.List(ctx, workflow.InstanceFilter{Statuses: []workflow.InstanceStatus{workflow.StatusPending}})
		require.NoError(t, err)
		assert.Empty(t, pending)

		done, err := s.List(ctx, workflow.InstanceFilter{Statuses: []workflow.InstanceStatus{workflow.StatusCompleted}})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, 2, done[0].Version)
	})
}

func TestMemoryStores(t *testing.T) {
	runRouteStoreSuite(t, func(t *testing.T) workflow.RouteStore { return workflow.NewMemoryRouteStore() })
	runInstanceStoreSuite(t, func(t *testing.T) workflow.InstanceStore { return workflow.NewMemoryInstanceStore() })
}
