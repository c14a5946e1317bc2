package workflow

import "time"

// Observer 接收引擎事件，用于指标采集。实现必须是并发安全的。
type Observer interface {
	InstanceStarted(routeName string)
	ActionProcessed(action, outcome string)
	StatusChanged(from, to string)
	Escalated(condition string)
	TimeoutUnhandled()
	NotificationEnqueued(notificationType string)
	TimeoutScanCompleted(duration time.Duration, scanned, escalated int)
}

type nopObserver struct{}

func (nopObserver) InstanceStarted(string) {}
func (nopObserver) ActionProcessed(string, string) {}
func (nopObserver) StatusChanged(string, string) {}
func (nopObserver) Escalated(string) {}
func (nopObserver) TimeoutUnhandled() {}
func (nopObserver) NotificationEnqueued(string) {}
func (nopObserver) TimeoutScanCompleted(time.Duration, int, int) {}

// Observers 把事件分发给多个观察者，nil 会被跳过
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return nopObserver{}
	case 1:
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) InstanceStarted(routeName string) {
	for _, o := range m {
		o.InstanceStarted(routeName)
	}
}

func (m multiObserver) ActionProcessed(action, outcome string) {
	for _, o := range m {
		o.ActionProcessed(action, outcome)
	}
}

func (m multiObserver) StatusChanged(from, to string) {
	for _, o := range m {
		o.StatusChanged(from, to)
	}
}

func (m multiObserver) Escalated(condition string) {
	for _, o := range m {
		o.Escalated(condition)
	}
}

func (m multiObserver) TimeoutUnhandled() {
	for _, o := range m {
		o.TimeoutUnhandled()
	}
}

func (m multiObserver) NotificationEnqueued(notificationType string) {
	for _, o := range m {
		o.NotificationEnqueued(notificationType)
	}
}

func (m multiObserver) TimeoutScanCompleted(duration time.Duration, scanned, escalated int) {
	for _, o := range m {
		o.TimeoutScanCompleted(duration, scanned, escalated)
	}
}
