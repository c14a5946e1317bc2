/*
Package testutil 提供 DocFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为存储、HTTP 与命令行等外部包测试提供统一的辅助能力，
避免各包重复构造路由样例与上下文。根包不依赖 workflow，引擎的内部测试
也使用其中的 Clock；fixtures 与 mocks 子包依赖 workflow，只供外部包使用。

# 核心能力

  - 上下文: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 时钟: Clock，配合 workflow.WithClock 驱动超时与自动升级

# 子包

  - testutil/fixtures: 预置审批路由、实例、路由 YAML 与 HTTP 请求体
  - testutil/mocks: MockNotifier（支持错误注入的通知队列）与
    MockObserver（记录引擎事件的观察者）

# 使用示例

	ctx := testutil.TestContext(t)
	notifier := mocks.NewMockNotifier().WithEnqueueError(errors.New("queue down"))
	engine := workflow.NewEngine(routes, instances, roles, workflow.WithNotifier(notifier))
	require.NoError(t, routes.Create(ctx, fixtures.AcademicRoute("r1", "Academic")))
*/
package testutil
