package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
	"AgentStep/pkg/logger"
)

// 步进结果在指标中的取值。
const (
	OutcomeContinue = "continue"
	OutcomeTerminal = "terminal"
	OutcomeError    = "error"
)

// 引导路径在指标中的取值。
const (
	PathNew    = "new"
	PathResume = "resume"
)

// Observer 接收任务生命周期事件，通常由指标模块实现。
type Observer interface {
	TaskCreated(path string)
	StepCompleted(outcome string, duration time.Duration)
	TaskFailed(code string)
}

type noopObserver struct{}

func (noopObserver) TaskCreated(string)                  {}
func (noopObserver) StepCompleted(string, time.Duration) {}
func (noopObserver) TaskFailed(string)                   {}

// Service 负责任务会话的创建、步进与查询。
type Service struct {
	store        Store
	producer     Producer
	factory      agent.Factory
	bootstrapper *Bootstrapper
	agents       *lru.Cache[string, agent.Agent]
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time

	locksMu sync.Mutex
	locks   map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

// ServiceOption 定义可选配置。
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	producer  Producer
	observer  Observer
	logger    *slog.Logger
	cacheSize int
	progress  ProgressFunc
	now       func() time.Time
}

// WithProducer 配置自动运行所用的队列生产者。
func WithProducer(p Producer) ServiceOption {
	return func(o *serviceOptions) { o.producer = p }
}

// WithObserver 配置生命周期观察者。
func WithObserver(obs Observer) ServiceOption {
	return func(o *serviceOptions) { o.observer = obs }
}

// WithServiceLogger 指定日志输出。
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = l }
}

// WithAgentCacheSize 设置常驻智能体句柄的数量上限。
func WithAgentCacheSize(size int) ServiceOption {
	return func(o *serviceOptions) { o.cacheSize = size }
}

// WithBootstrapProgress 转发引导过程的进度提示。
func WithBootstrapProgress(fn ProgressFunc) ServiceOption {
	return func(o *serviceOptions) { o.progress = fn }
}

// WithClock 替换时间源，便于测试。
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) { o.now = now }
}

// NewService 构造任务服务。
func NewService(store Store, factory agent.Factory, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	if factory == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置智能体工厂")
	}
	options := serviceOptions{cacheSize: 128, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.cacheSize <= 0 {
		options.cacheSize = 128
	}
	if options.logger == nil {
		options.logger = logger.Named("task")
	}
	if options.observer == nil {
		options.observer = noopObserver{}
	}
	cache, err := lru.New[string, agent.Agent](options.cacheSize)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建智能体缓存失败")
	}
	return &Service{
		store:    store,
		producer: options.producer,
		factory:  factory,
		bootstrapper: NewBootstrapper(factory,
			WithBootstrapLogger(options.logger),
			WithProgress(options.progress),
		),
		agents:   cache,
		observer: options.observer,
		logger:   options.logger,
		now:      options.now,
		locks:    make(map[string]*taskLock),
	}, nil
}

// CreateTask 校验请求、引导智能体并持久化新的任务会话。
func (s *Service) CreateTask(ctx context.Context, req TaskRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	boot, err := s.bootstrapper.Bootstrap(ctx, req)
	if err != nil {
		classified := classifyCapabilityError(err, "引导智能体失败")
		s.observer.TaskFailed(string(xerrors.CodeOf(classified)))
		s.logger.Error("引导智能体失败", slog.Any("error", err))
		return nil, classified
	}

	task := &Task{
		ID:                uuid.NewString(),
		Objective:         req.UserObjective,
		UserConfiguration: cloneMap(req.UserConfiguration),
		WorkspaceRoot:     boot.WorkspaceRoot,
		Plan:              boot.Plan,
		State:             NewContinuationState(),
		Status:            StatusCreated,
	}
	if boot.NameAndGoals != nil {
		task.AgentName = boot.NameAndGoals.AgentName
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	s.agents.Add(task.ID, boot.Agent)

	path := PathResume
	if boot.Provisioned {
		path = PathNew
	}
	s.observer.TaskCreated(path)
	logger.Audit().Info("任务创建成功",
		slog.String("task_id", task.ID),
		slog.String("objective", task.Objective),
		slog.String("workspace_root", task.WorkspaceRoot),
		slog.String("path", path),
		slog.Int("planned_tasks", len(task.Plan.Tasks)),
	)
	return task, nil
}

// ExecuteStep 推进任务一步并记录步骤。
//
// 能力调用失败时任务被标记为 failed，但续行状态保持不变，之后的步进从同一状态重试。
func (s *Service) ExecuteStep(ctx context.Context, taskID string, in StepInput) (*Step, error) {
	unlock := s.lockTask(taskID)
	defer unlock()

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Finished() {
		return nil, ErrTaskFinished
	}

	log := logger.ForTask(taskID)
	ag, err := s.agentFor(ctx, task)
	if err != nil {
		classified := classifyCapabilityError(err, "加载智能体失败")
		s.markFailed(ctx, task, classified)
		return nil, classified
	}

	session := ResumeSession(ag, task.Plan, task.WorkspaceRoot, task.State)
	started := s.now()
	result, err := session.Step(ctx, in)
	elapsed := s.now().Sub(started)
	if err != nil {
		s.agents.Remove(taskID)
		s.observer.StepCompleted(OutcomeError, elapsed)
		classified := classifyCapabilityError(err, "步进失败")
		s.markFailed(ctx, task, classified)
		log.Warn("步进失败", slog.Any("error", err), slog.Int("steps", task.Steps))
		return nil, classified
	}

	task.State = session.State()
	task.Steps++
	task.LastError = ""
	task.ErrorCode = ""
	outcome := OutcomeContinue
	if result.IsLast {
		outcome = OutcomeTerminal
		task.Status = StatusCompleted
		task.Output = cloneMap(result.Output)
	} else {
		task.Status = StatusRunning
	}

	stepID, err := gonanoid.New()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成步骤 ID 失败")
	}
	step := &Step{
		ID:           stepID,
		TaskID:       taskID,
		Sequence:     task.Steps,
		Input:        in.Input,
		Confirmation: in.Confirmation,
		Output:       result.Output,
		IsLast:       result.IsLast,
		CreatedAt:    s.now().Unix(),
	}

	// 状态与步骤记录一起提交，失败时两者都不落盘。
	if err := s.store.SaveStep(ctx, task, step); err != nil {
		s.agents.Remove(taskID)
		log.Error("保存步骤失败", slog.Any("error", err), slog.Int("sequence", step.Sequence))
		return nil, err
	}
	if result.IsLast {
		s.agents.Remove(taskID)
	}
	s.observer.StepCompleted(outcome, elapsed)
	log.Info("步进完成",
		slog.Int("sequence", step.Sequence),
		slog.Bool("is_last", step.IsLast),
		slog.String("phase", string(task.State.Phase)),
	)
	return step, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// ListSteps 返回任务的步骤历史。
func (s *Service) ListSteps(ctx context.Context, taskID string) ([]*Step, error) {
	return s.store.ListSteps(ctx, taskID)
}

// Enqueue 将任务交给后台处理器自动运行。
func (s *Service) Enqueue(ctx context.Context, taskID string) error {
	if s.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务队列")
	}
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Finished() {
		return ErrTaskFinished
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		s.logger.Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		return xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
	}
	logger.Audit().Info("任务入队成功", slog.String("task_id", taskID), slog.Int("steps", task.Steps))
	return nil
}

// Close 释放资源。
func (s *Service) Close() error {
	s.agents.Purge()
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

func (s *Service) agentFor(ctx context.Context, task *Task) (agent.Agent, error) {
	if ag, ok := s.agents.Get(task.ID); ok {
		return ag, nil
	}
	ag, err := s.factory.FromWorkspace(ctx, task.WorkspaceRoot, logger.ForTask(task.ID))
	if err != nil {
		return nil, err
	}
	s.agents.Add(task.ID, ag)
	return ag, nil
}

func (s *Service) markFailed(ctx context.Context, task *Task, cause error) {
	code := xerrors.CodeOf(cause)
	task.Status = StatusFailed
	task.LastError = cause.Error()
	task.ErrorCode = string(code)
	s.observer.TaskFailed(string(code))
	if err := s.store.Save(ctx, task); err != nil {
		s.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("error", task.LastError),
		slog.String("error_code", task.ErrorCode),
		slog.Int("steps", task.Steps),
	)
}

// lockTask 串行化同一任务的步进，锁在无人持有时释放。
func (s *Service) lockTask(id string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &taskLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// classifyCapabilityError 保留已有错误码，其余错误归类为能力失败。
func classifyCapabilityError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(CodeCapabilityFailure, err, message)
}
