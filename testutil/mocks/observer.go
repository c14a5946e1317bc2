package mocks

import (
	"sync"
	"time"

	"github.com/BaSui01/docflow/workflow"
)

// MockObserver 记录引擎事件，键为 "事件:标签"
type MockObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMockObserver() *MockObserver {
	return &MockObserver{counts: make(map[string]int)}
}

func (o *MockObserver) inc(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[key]++
}

// Count 返回事件次数，例如 Count("started:Academic approval")
func (o *MockObserver) Count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

func (o *MockObserver) InstanceStarted(routeName string) { o.inc("started:" + routeName) }
func (o *MockObserver) ActionProcessed(action, outcome string) { o.inc("action:" + action + ":" + outcome) }
func (o *MockObserver) StatusChanged(from, to string) { o.inc("status:" + from + "->" + to) }
func (o *MockObserver) Escalated(condition string) { o.inc("escalated:" + condition) }
func (o *MockObserver) TimeoutUnhandled() { o.inc("timeout_unhandled") }
func (o *MockObserver) NotificationEnqueued(notificationType string) {
	o.inc("notification:" + notificationType)
}
func (o *MockObserver) TimeoutScanCompleted(time.Duration, int, int) { o.inc("scan") }

var _ workflow.Observer = (*MockObserver)(nil)
