/*
Package handlers 提供 docflow HTTP API 的请求处理器实现。

# 核心类型

  - WorkflowHandler  工作流引擎的 JSON 接口，基于 gorilla/mux 注册 /api/v1 路由
  - WorkflowEngine   处理器依赖的引擎方法集合，由 *workflow.Engine 实现
  - HealthHandler    /health、/healthz、/ready、/version
  - Response         统一响应信封，request_id 取自 X-Request-ID 响应头
  - ResponseWriter   包装 http.ResponseWriter 以捕获状态码

# 错误处理

引擎返回的 *types.Error 经 WriteServiceError 按错误码映射为 HTTP 状态，
其他错误一律视为 INTERNAL_ERROR。4xx 在 details 中带出原因，5xx 只写日志。
DecodeJSONBody 只接受单个 JSON 对象，拒绝未知字段，超过 1 MB 返回 413。

# 操作人

请求经认证中间件注入用户 ID 后，performed_by / initiated_by 缺省取令牌用户，
填写为其他用户时返回 PERMISSION_DENIED；未认证时必须显式填写。
*/
package handlers
