// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 上下文与可控时钟。本文件不依赖 workflow，引擎包的内部测试也可导入。
//
//	ctx := testutil.TestContext(t)
//	clock := testutil.NewClock()
//	engine := workflow.NewEngine(routes, instances, roles, workflow.WithClock(clock.Now))
//	clock.Advance(25 * time.Hour)
// =============================================================================
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// 🎯 上下文
// =============================================================================

// TestContext 30 秒超时的测试上下文，测试结束时取消
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

func TestContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// ⏰ 可控时钟
// =============================================================================

// ClockEpoch NewClock 的起始时间（周一上午九点，UTC）
var ClockEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Clock 手动推进的时钟，Now 可直接传给 workflow.WithClock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: ClockEpoch}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 前移时钟；超时扫描按审批步骤的 timeout_hours 比较
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
