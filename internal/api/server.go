package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"AgentStep/internal/agent"
	"AgentStep/internal/auth"
	xerrors "AgentStep/internal/errors"
	"AgentStep/internal/observability/metrics"
	"AgentStep/internal/task"
	"AgentStep/pkg/logger"
)

const (
	basePath        = "/ap/v1/agent"
	maxBodyBytes    = 1 << 20
	defaultPageSize = 20
)

// TaskService 是 API 层依赖的任务服务能力，由 task.Service 实现。
type TaskService interface {
	CreateTask(ctx context.Context, req task.TaskRequest) (*task.Task, error)
	ExecuteStep(ctx context.Context, taskID string, in task.StepInput) (*task.Step, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.TaskStats, error)
	ListSteps(ctx context.Context, taskID string) ([]*task.Step, error)
	Enqueue(ctx context.Context, taskID string) error
}

// Server 负责暴露 REST 接口，供外部逐步驱动智能体任务。
type Server struct {
	addr    string
	tasks   TaskService
	metrics *metrics.Recorder
	auth    *auth.Service
	logger  *slog.Logger

	createSchema *gojsonschema.Schema
	stepSchema   *gojsonschema.Schema
}

// Option 定义可选配置。
type Option func(*Server)

// WithMetrics 启用 HTTP 指标并在 /metrics 暴露。
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = recorder }
}

// WithAuth 为任务接口启用 API Key 认证，/healthz 与 /metrics 不受影响。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc TaskService, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		tasks:        svc,
		createSchema: mustSchema(createTaskSchema),
		stepSchema:   mustSchema(executeStepSchema),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回完整的路由，测试中可直接使用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	read := s.auth.Require(auth.PermissionTasksRead)
	write := s.auth.Require(auth.PermissionTasksWrite)
	mux.Handle("POST "+basePath+"/tasks", write(http.HandlerFunc(s.handleCreateTask)))
	mux.Handle("GET "+basePath+"/tasks", read(http.HandlerFunc(s.handleListTasks)))
	mux.Handle("GET "+basePath+"/tasks/{task_id}", read(http.HandlerFunc(s.handleTaskDetail)))
	mux.Handle("POST "+basePath+"/tasks/{task_id}/steps", write(http.HandlerFunc(s.handleExecuteStep)))
	mux.Handle("GET "+basePath+"/tasks/{task_id}/steps", read(http.HandlerFunc(s.handleListSteps)))
	mux.Handle("POST "+basePath+"/tasks/{task_id}/run", write(http.HandlerFunc(s.handleRunTask)))
	mux.Handle("GET "+basePath+"/stats", read(http.HandlerFunc(s.handleStats)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.withMetrics(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type createTaskRequest struct {
	UserObjective     string         `json:"user_objective"`
	UserConfiguration map[string]any `json:"user_configuration"`
}

type executeStepRequest struct {
	Input        any    `json:"input"`
	Confirmation string `json:"confirmation"`
}

type runTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type listTasksResponse struct {
	Tasks      []*task.Task `json:"tasks"`
	Pagination pagination   `json:"pagination"`
}

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

type listStepsResponse struct {
	TaskID string       `json:"task_id"`
	Steps  []*task.Step `json:"steps"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decodeBody(w, r, s.createSchema, &req) {
		return
	}
	created, err := s.tasks.CreateTask(r.Context(), task.TaskRequest{
		UserObjective:     req.UserObjective,
		UserConfiguration: req.UserConfiguration,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts, page, err := parseListQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page.Count = len(results)
	writeJSON(w, http.StatusOK, listTasksResponse{Tasks: results, Pagination: page})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	found, err := s.tasks.Get(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req executeStepRequest
	if !s.decodeBody(w, r, s.stepSchema, &req) {
		return
	}
	step, err := s.tasks.ExecuteStep(r.Context(), r.PathValue("task_id"), task.StepInput{
		Input:        req.Input,
		Confirmation: agent.Confirmation(req.Confirmation),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	steps, err := s.tasks.ListSteps(r.Context(), taskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listStepsResponse{TaskID: taskID, Steps: steps})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if err := s.tasks.Enqueue(r.Context(), taskID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runTaskResponse{TaskID: taskID, Status: "queued"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, _, err := parseListQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decodeBody 先用 JSON Schema 校验请求体再解码。空请求体与 null 视为 {}。
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dest any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败"))
		return false
	}
	if len(body) > maxBodyBytes {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "请求体过大"))
		return false
	}
	// 缺省的请求体按空对象处理，缺失的目标交给任务服务报告。
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		body = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return false
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		s.writeError(w, r, xerrors.New(task.CodeInvalidTaskInput, strings.Join(details, "; ")))
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return false
	}
	return true
}

func parseListQuery(r *http.Request) ([]task.ListOption, pagination, error) {
	query := r.URL.Query()
	page := pagination{Limit: defaultPageSize}
	var opts []task.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, page, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数")
		}
		page.Limit = limit
	}
	opts = append(opts, task.WithLimit(page.Limit))

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, page, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是非负整数")
		}
		page.Offset = offset
		opts = append(opts, task.WithOffset(offset))
	}

	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !task.IsValidStatus(status) {
				return nil, page, xerrors.New(xerrors.CodeInvalidArgument, "不支持的任务状态: "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}

	if raw := strings.TrimSpace(query.Get("q")); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}

	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, page, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc 或 desc")
	}
	return opts, page, nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
		if cause := coded.Unwrap(); cause != nil && status < http.StatusInternalServerError {
			message += ": " + cause.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: string(code), Message: message}})
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case task.CodeMissingObjective, task.CodeInvalidTaskInput, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case task.CodeTaskNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case task.CodeTaskFinished, task.CodeTaskConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case task.CodeCapabilityFailure:
		return http.StatusBadGateway
	case task.CodeTaskPublish, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{
				Code:    string(xerrors.CodeUnknown),
				Message: "服务已关闭",
			}})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
