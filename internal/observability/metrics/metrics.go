package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentstep"

// Recorder 汇总任务引导、步进与 HTTP 请求的 Prometheus 指标。
type Recorder struct {
	registry *prometheus.Registry

	tasksCreated *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	taskFailures *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New 创建独立注册表并注册全部指标。withRuntime 为 true 时附带 Go 运行时与进程指标。
func New(withRuntime bool) *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total number of tasks bootstrapped, by bootstrap path.",
		}, []string{"path"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of step invocations, by outcome.",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step invocations in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Total number of task failures, by error code.",
		}, []string{"code"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	registry.MustRegister(
		r.tasksCreated,
		r.steps,
		r.stepDuration,
		r.taskFailures,
		r.httpRequests,
		r.httpErrors,
		r.httpLatency,
	)
	if withRuntime {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry 暴露底层注册表，便于测试采集。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// TaskCreated 记录一次成功的引导。path 为 new 或 resume。
func (r *Recorder) TaskCreated(path string) {
	if r == nil {
		return
	}
	r.tasksCreated.WithLabelValues(path).Inc()
}

// StepCompleted 记录一次步进及其耗时。
func (r *Recorder) StepCompleted(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(outcome).Inc()
	r.stepDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// TaskFailed 记录一次任务失败。
func (r *Recorder) TaskFailed(code string) {
	if r == nil {
		return
	}
	r.taskFailures.WithLabelValues(code).Inc()
}

// ObserveHTTPRequest 记录一次 HTTP 请求的生命周期。
func (r *Recorder) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式暴露指标。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// StartServer 在独立端口上暴露 /metrics，直到上下文取消。
func (r *Recorder) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
