package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"
	"time"

	xerrors "AgentStep/internal/errors"
	"AgentStep/internal/observability/alerting"
	"AgentStep/pkg/logger"
)

// StepExecutor 定义了处理器所需的步进能力。
type StepExecutor interface {
	ExecuteStep(ctx context.Context, taskID string, in StepInput) (*Step, error)
}

// Processor 从队列消费任务 ID，每条消息推进一步，未结束时重新投递。
type Processor struct {
	executor    StepExecutor
	consumer    Consumer
	producer    Producer
	workerCount int
	maxSteps    int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithMaxSteps 限制一次自动运行的最大步数。
func WithMaxSteps(steps int) ProcessorOption {
	return func(p *Processor) {
		if steps > 0 {
			p.maxSteps = steps
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor StepExecutor, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		maxSteps:    50,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("processor")
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	step, err := p.executor.ExecuteStep(ctx, taskID, StepInput{})
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskFinished) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeUnknown {
			code = CodeStepFailed
		}
		p.logger.Error("自动运行步进失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, taskID, 0, code, err, "step")
		return err
	}
	if step.IsLast {
		logger.Audit().Info("任务自动运行完成",
			slog.String("task_id", taskID),
			slog.Int("steps", step.Sequence),
		)
		return nil
	}
	if step.Sequence >= p.maxSteps {
		limitErr := xerrors.New(CodeStepFailed, "自动运行超过最大步数",
			xerrors.WithMetadata("max_steps", strconv.Itoa(p.maxSteps)))
		p.logger.Warn("自动运行超过最大步数", slog.String("task_id", taskID), slog.Int("steps", step.Sequence))
		p.emitAlert(ctx, taskID, step.Sequence, CodeStepFailed, limitErr, "max_steps")
		return limitErr
	}
	if err := p.producer.Publish(ctx, taskID); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "任务重新入队失败")
		p.logger.Error("任务重新入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, taskID, step.Sequence, CodeTaskPublish, wrapped, "republish")
		return wrapped
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, taskID string, steps int, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     taskID,
		Steps:      steps,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", taskID),
			slog.String("stage", stage),
		)
	}
}
