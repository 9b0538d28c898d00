// Package redis 建立共享的 Redis 客户端，任务存储与任务队列复用同一连接池。
package redis
