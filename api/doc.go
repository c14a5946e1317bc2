// Package api 汇总 docflow HTTP API 的说明，处理器实现位于 api/handlers。
//
// # 接口概览
//
// 所有业务接口位于 /api/v1 下，响应统一为
// {"success": bool, "data": ..., "error": {...}, "timestamp": ...}：
//
//	POST  /api/v1/routes                            创建路由
//	GET   /api/v1/routes[?active=true]              列出路由
//	GET   /api/v1/routes/applicable?document_type=  查找适用路由
//	GET   /api/v1/routes/{id}                       查询路由
//	PATCH /api/v1/routes/{id}                       部分更新路由
//	POST  /api/v1/instances                         发起审批
//	GET   /api/v1/instances/{id}                    查询实例
//	POST  /api/v1/instances/{id}/actions            审批动作
//	POST  /api/v1/instances/{id}/counter-approvals  会签
//	GET   /api/v1/users/{userId}/instances          用户相关实例
//	GET   /api/v1/users/{userId}/pending            待审批
//	GET   /api/v1/users/{userId}/pending-counter    待会签
//	POST  /api/v1/timeouts/check                    立即执行一次超时扫描
//	POST  /api/v1/notifications/drain               取出并清空通知队列
//
// 健康检查：/health、/healthz、/ready、/version。Prometheus 指标在独立端口的 /metrics。
//
// # 认证
//
// 配置 server.api_keys 后需携带 X-API-Key 请求头；启用 jwt 后需携带
// Authorization: Bearer <token>，令牌中的用户 ID 作为默认操作人，
// 令牌角色优先参与角色判定。
//
// # 错误码
//
// INVALID_REQUEST 400，PERMISSION_DENIED 403，NOT_FOUND 404，
// INVALID_STATE / CONFLICT 409，CONFIGURATION / NO_APPLICABLE_ROUTE 422，
// STORAGE 500，SERVICE_UNAVAILABLE 503。
package api
