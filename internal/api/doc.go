// Package api exposes the agent-protocol style REST surface: task creation,
// step-by-step execution, step history, background runs, statistics, health
// and Prometheus metrics.
package api
