package task

import (
	"context"
	"log/slog"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
	"AgentStep/pkg/logger"
)

// ProgressStage 标识引导过程中的里程碑。
type ProgressStage string

const (
	StageSettingsDerived  ProgressStage = "settings_derived"
	StageAgentProvisioned ProgressStage = "agent_provisioned"
	StageAgentLoaded      ProgressStage = "agent_loaded"
	StagePlanBuilt        ProgressStage = "plan_built"
)

// ProgressFunc 接收引导过程的可读进度提示，仅用于观察，不影响流程。
type ProgressFunc func(stage ProgressStage, notice string)

// Bootstrapper 在首次接触任务时决定新建还是恢复智能体，并构建初始计划。
type Bootstrapper struct {
	factory  agent.Factory
	logger   *slog.Logger
	progress ProgressFunc
}

// BootstrapOption 定义可选配置。
type BootstrapOption func(*Bootstrapper)

// WithBootstrapLogger 指定传递给能力接口的日志。
func WithBootstrapLogger(l *slog.Logger) BootstrapOption {
	return func(b *Bootstrapper) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithProgress 注册进度回调。
func WithProgress(fn ProgressFunc) BootstrapOption {
	return func(b *Bootstrapper) {
		b.progress = fn
	}
}

// NewBootstrapper 构造 Bootstrapper。
func NewBootstrapper(factory agent.Factory, opts ...BootstrapOption) *Bootstrapper {
	b := &Bootstrapper{factory: factory}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.logger == nil {
		b.logger = logger.Named("bootstrap")
	}
	return b
}

// Bootstrapped 是引导的结果。
type Bootstrapped struct {
	Agent         agent.Agent
	Plan          agent.Plan
	WorkspaceRoot string
	// Provisioned 为 true 表示本次调用新建了工作区。
	Provisioned  bool
	NameAndGoals *agent.NameAndGoals
}

// Bootstrap 校验请求后创建或恢复智能体。能力调用失败原样返回，不重试；
// 已分配的工作区不会回滚，以便调用方携带工作区路径重试。
func (b *Bootstrapper) Bootstrap(ctx context.Context, req TaskRequest) (*Bootstrapped, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if b.factory == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置智能体工厂")
	}

	log := b.logger
	userConfig := req.Configuration()
	result := &Bootstrapped{WorkspaceRoot: userConfig.WorkspaceRoot()}

	if result.WorkspaceRoot == "" {
		log.Debug("获取智能体配置")
		settings, err := b.factory.CompileSettings(log, userConfig)
		if err != nil {
			return nil, err
		}

		nameAndGoals, err := b.factory.DetermineAgentNameAndGoals(ctx, req.UserObjective, settings, log)
		if err != nil {
			return nil, err
		}
		b.notify(StageSettingsDerived, agent.DescribeNameAndGoals(nameAndGoals))

		if err := b.factory.UpdateAgentNameAndGoals(settings, nameAndGoals); err != nil {
			return nil, err
		}
		result.NameAndGoals = &nameAndGoals

		root, err := b.factory.ProvisionAgent(ctx, settings, log)
		if err != nil {
			return nil, err
		}
		if root == "" {
			return nil, xerrors.New(agent.CodeWorkspaceInvalid, "分配工作区后返回了空路径")
		}
		result.WorkspaceRoot = root
		result.Provisioned = true
		b.notify(StageAgentProvisioned, "agent is provisioned")
	}

	loaded, err := b.factory.FromWorkspace(ctx, result.WorkspaceRoot, log)
	if err != nil {
		return nil, err
	}
	result.Agent = loaded
	b.notify(StageAgentLoaded, "agent is loaded")

	plan, err := loaded.BuildInitialPlan(ctx)
	if err != nil {
		return nil, err
	}
	result.Plan = plan
	b.notify(StagePlanBuilt, agent.DescribePlan(plan))

	return result, nil
}

func (b *Bootstrapper) notify(stage ProgressStage, notice string) {
	b.logger.Info(notice, slog.String("stage", string(stage)))
	if b.progress != nil {
		b.progress(stage, notice)
	}
}
