/*
包 cache 提供基于 Redis 的 JSON 读缓存。

# 概述

Manager 复用调用方创建的 redis.UniversalClient，按统一键前缀读写
JSON 值并统计命中率。存储层的 CachedRouteStore 通过它缓存路由读取。
OpenRedis 负责按配置建立连接。

# 核心类型

  - Manager：GetJSON/SetJSON/Delete/Ping，后台可选健康检查。
  - Config：键前缀、默认 TTL 与健康检查间隔。
  - Stats：进程内累计的命中与未命中次数。

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断；无法解码的条目
会被删除并按未命中处理。关闭后的调用返回 ErrClosed。
*/
package cache
