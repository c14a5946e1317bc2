// Package telemetry 封装 OpenTelemetry SDK 初始化，并提供把工作流引擎事件
// 记录为 OTel 指标的 WorkflowObserver。遥测禁用时使用 noop 实现，
// 不连接任何外部服务。
package telemetry
