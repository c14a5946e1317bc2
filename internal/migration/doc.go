/*
包 migration 管理 DocFlow 的数据库 Schema，支持 PostgreSQL、MySQL 与
SQLite，基于 golang-migrate 实现。

# 概述

迁移文件以 embed.FS 内嵌在二进制中，按方言存放于 migrations/<driver>/，
创建 workflow_routes、workflow_instances 与 user_roles 三张表。
表结构与 workflow/store 中 GORM 模型的列一致：查询用字段冗余为列，
完整的路由与实例保存在 data 列（PostgreSQL 为 JSONB，MySQL 为 JSON，
SQLite 为 TEXT）。

SQLite 连接通过纯 Go 驱动打开，无需 CGO。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Version、
    Status、Info。
  - CLI：docflow migrate 子命令的格式化输出层。
*/
package migration
