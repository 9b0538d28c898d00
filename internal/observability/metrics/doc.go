// Package metrics 基于 Prometheus 暴露任务与 HTTP 指标。
package metrics
