/*
Package store 提供 workflow.RouteStore / workflow.InstanceStore 的持久化实现。

# 后端

  - GORM：PostgreSQL、MySQL、SQLite（表结构由 internal/migration 管理）
  - Redis：JSON 文档 + 有序集合索引，WATCH 事务实现乐观锁
  - MongoDB：集合 workflow_routes / workflow_instances

此外提供 Redis 通知队列（LRANGE+DEL 事务原子清空）与 GORM 用户角色目录。

所有实例存储都以 WorkflowInstance.Version 做乐观并发控制：
版本不一致返回 workflow.ErrConflict，成功后版本加一。
*/
package store
