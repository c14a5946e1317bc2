/*
包 database 负责打开 GORM 数据库连接并管理连接池。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql，或基于
纯 Go 实现的 sqlite），并开启 TranslateError，使唯一键冲突以
gorm.ErrDuplicatedKey 的形式返回给存储层。GORM 日志写入 zap，
只记录慢查询与错误。

PoolManager 负责连接池参数、后台健康检查与统计采集。WithStatsHook
在每次健康检查成功后回调统计信息，服务进程用它更新连接数指标。
Close 会先停止健康检查 goroutine 再关闭连接池。
*/
package database
