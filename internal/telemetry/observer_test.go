package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/BaSui01/docflow/workflow"
)

var _ workflow.Observer = (*WorkflowObserver)(nil)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestWorkflowObserver_RecordsEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	obs, err := NewWorkflowObserver(mp)
	require.NoError(t, err)

	obs.InstanceStarted("Contract Approval")
	obs.InstanceStarted("Contract Approval")
	obs.ActionProcessed("approve", "advanced")
	obs.StatusChanged("pending", "in-progress")
	obs.Escalated("timeout")
	obs.TimeoutUnhandled()
	obs.NotificationEnqueued("escalation")
	obs.TimeoutScanCompleted(15*time.Millisecond, 4, 1)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["docflow.workflow.instances.started"]))
	assert.Equal(t, int64(1), sumOf(t, data["docflow.workflow.actions"]))
	assert.Equal(t, int64(1), sumOf(t, data["docflow.workflow.status.transitions"]))
	assert.Equal(t, int64(1), sumOf(t, data["docflow.workflow.escalations"]))
	assert.Equal(t, int64(1), sumOf(t, data["docflow.workflow.timeouts.unhandled"]))
	assert.Equal(t, int64(1), sumOf(t, data["docflow.workflow.notifications"]))

	hist, ok := data["docflow.workflow.timeout_scan.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestWorkflowObserver_GlobalProvider(t *testing.T) {
	obs, err := NewWorkflowObserver(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { obs.InstanceStarted("r") })
}
