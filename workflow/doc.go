/*
Package workflow 提供文档审批工作流引擎。

# 概述

workflow 包实现双向审批流转引擎：文档提交后按路由（WorkflowRoute）定义的
步骤顺序逐级审批，支持会签（counter-approval）、驳回/超时/手动触发的升级，
并将每次状态迁移产生的通知写入出站队列，由外部投递组件消费。

# 核心接口与类型

  - Engine           : 审批引擎（路由注册、实例流转、会签、升级、超时扫描）
  - WorkflowRoute    : 可复用的审批流程模板（步骤 + 升级路径 + 自动升级策略）
  - WorkflowStep     : 单个审批关口，按角色授权
  - WorkflowInstance : 单个文档在路由中的运行实例，历史只追加
  - WorkflowAction   : 实例历史中的一次动作记录
  - EscalationPath   : (fromStepId, condition) → toStepId 的升级规则
  - RouteStore / InstanceStore: 存储接口，内置内存实现
  - RoleResolver     : 角色判定协作者接口
  - Notifier         : 通知队列接口（Enqueue / Drain）
  - TimeoutScanner   : 周期性超时扫描器

# 主要能力

  - 路由保存时校验步骤顺序唯一、升级路径引用合法
  - 审批动作先写入历史再分支处理，审计轨迹记录"尝试了什么"
  - 会签通过后才推进步骤，会签驳回与普通驳回后果一致
  - 驳回/超时/手动升级按配置重定向，未配置时终止或忽略
  - 按实例串行化写操作，存储层乐观锁防止并发推进
  - 通知在实例持久化成功后才入队
*/
package workflow
