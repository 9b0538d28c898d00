// Package mysql 负责 MySQL 连接池的建立与内嵌 schema 迁移，
// 任务存储在此基础上读写 agent_tasks 与 agent_steps 表。
package mysql
