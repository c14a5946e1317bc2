// Package mocks 提供工作流依赖的测试模拟实现。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/docflow/workflow"
)

// --- MockNotifier ---

// MockNotifier 是 workflow.Notifier 的模拟实现，支持错误注入
type MockNotifier struct {
	mu         sync.Mutex
	queued     []workflow.NotificationPayload
	enqueueErr error
	drainErr   error
	delay      time.Duration
	calls      int
}

// NewMockNotifier 创建空队列
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// WithEnqueueError 让 Enqueue 始终返回 err
func (m *MockNotifier) WithEnqueueError(err error) *MockNotifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueErr = err
	return m
}

// WithDrainError 让 Drain 始终返回 err
func (m *MockNotifier) WithDrainError(err error) *MockNotifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainErr = err
	return m
}

// WithDelay 为每次 Enqueue 增加延迟，ctx 取消时提前返回
func (m *MockNotifier) WithDelay(d time.Duration) *MockNotifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Enqueue 实现 workflow.Notifier
func (m *MockNotifier) Enqueue(ctx context.Context, payload workflow.NotificationPayload) error {
	m.mu.Lock()
	m.calls++
	delay, err := m.delay, m.enqueueErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, payload)
	return nil
}

// Drain 实现 workflow.Notifier
func (m *MockNotifier) Drain(ctx context.Context) ([]workflow.NotificationPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drainErr != nil {
		return nil, m.drainErr
	}
	out := m.queued
	m.queued = nil
	return out, nil
}

// Calls 返回 Enqueue 调用次数（含失败）
func (m *MockNotifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Pending 返回尚未 Drain 的通知副本
func (m *MockNotifier) Pending() []workflow.NotificationPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]workflow.NotificationPayload(nil), m.queued...)
}

var _ workflow.Notifier = (*MockNotifier)(nil)
