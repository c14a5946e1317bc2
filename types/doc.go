/*
Package types 提供 docflow 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、store、api
等上层模块提供统一的错误契约与上下文传播工具，以避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - NOT_FOUND / PERMISSION_DENIED / INVALID_STATE / CONFIGURATION 等工作流错误码

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithUserID / WithRoles
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
*/
package types
