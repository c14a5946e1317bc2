package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "docflow/workflow"

// WorkflowObserver 把引擎事件记录为 OTel 指标，经 OTLP 导出。
// 与 Prometheus Collector 并存时通过 workflow.Observers 组合。
type WorkflowObserver struct {
	instances     metric.Int64Counter
	actions       metric.Int64Counter
	transitions   metric.Int64Counter
	escalations   metric.Int64Counter
	unhandled     metric.Int64Counter
	notifications metric.Int64Counter
	scanDuration  metric.Float64Histogram
}

// NewWorkflowObserver 使用给定 MeterProvider 创建，nil 时使用全局 provider
func NewWorkflowObserver(mp metric.MeterProvider) (*WorkflowObserver, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)

	var (
		o    WorkflowObserver
		errs []error
		err  error
	)
	o.instances, err = m.Int64Counter("docflow.workflow.instances.started",
		metric.WithDescription("Workflow instances started"))
	errs = append(errs, err)
	o.actions, err = m.Int64Counter("docflow.workflow.actions",
		metric.WithDescription("Approval actions processed"))
	errs = append(errs, err)
	o.transitions, err = m.Int64Counter("docflow.workflow.status.transitions",
		metric.WithDescription("Instance status transitions"))
	errs = append(errs, err)
	o.escalations, err = m.Int64Counter("docflow.workflow.escalations",
		metric.WithDescription("Escalations by condition"))
	errs = append(errs, err)
	o.unhandled, err = m.Int64Counter("docflow.workflow.timeouts.unhandled",
		metric.WithDescription("Timed out steps without a timeout escalation path"))
	errs = append(errs, err)
	o.notifications, err = m.Int64Counter("docflow.workflow.notifications",
		metric.WithDescription("Notifications enqueued"))
	errs = append(errs, err)
	o.scanDuration, err = m.Float64Histogram("docflow.workflow.timeout_scan.duration",
		metric.WithDescription("Timeout scan duration"), metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *WorkflowObserver) InstanceStarted(routeName string) {
	o.instances.Add(context.Background(), 1, metric.WithAttributes(attribute.String("route", routeName)))
}

func (o *WorkflowObserver) ActionProcessed(action, outcome string) {
	o.actions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func (o *WorkflowObserver) StatusChanged(from, to string) {
	o.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (o *WorkflowObserver) Escalated(condition string) {
	o.escalations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("condition", condition)))
}

func (o *WorkflowObserver) TimeoutUnhandled() {
	o.unhandled.Add(context.Background(), 1)
}

func (o *WorkflowObserver) NotificationEnqueued(notificationType string) {
	o.notifications.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", notificationType)))
}

func (o *WorkflowObserver) TimeoutScanCompleted(duration time.Duration, _, _ int) {
	o.scanDuration.Record(context.Background(), duration.Seconds())
}
