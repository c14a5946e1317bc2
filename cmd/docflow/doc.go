/*
Package main 提供 DocFlow 服务端程序入口。

# 概述

cmd/docflow 是文档审批工作流服务的可执行入口，提供 HTTP API、
数据库迁移、一次性超时扫描、路由文件校验、健康检查和版本查询等子命令。

# 核心类型

  - Server      主服务器，按配置建立存储连接、装配引擎，管理 API 与 Metrics 双端口
  - Middleware  HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、scan、routes validate、version、health
  - 存储：memory / gorm（postgres、mysql、sqlite）/ redis / mongo，可选 Redis 路由读缓存
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、RequestLogger、
    Metrics、CORS、MaxBodyBytes、APIKeyAuth、JWTAuth、按用户或 IP 限流
  - 热更新：配置文件中的日志级别与静态角色目录，路由定义文件变更后重新注册
  - 优雅关闭：收到 SIGINT/SIGTERM 后停止服务器与超时扫描，再关闭存储连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
