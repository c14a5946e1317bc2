/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流引擎
与数据库连接池三个维度。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 Registerer，
测试可以使用独立的 prometheus.Registry，服务进程使用默认 Registry
并通过 /metrics 暴露。Collector 实现 workflow.Observer，
直接作为引擎的事件观察者。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：实例创建（按路由）、审批动作（按动作与结果）、
    状态迁移、升级（按条件）、未处理超时、通知入队与超时扫描。
  - 数据库指标：打开、空闲与使用中连接数 Gauge。
*/
package metrics
