package agent

import (
	"context"
	"log/slog"
	"strings"
)

// Factory 描述引导阶段使用的能力：在尚未存在智能体时编译配置、推导名称与目标并分配工作区，
// 以及从已有工作区加载智能体。
type Factory interface {
	// CompileSettings 将默认配置与用户配置合并。
	CompileSettings(logger *slog.Logger, userConfig UserConfiguration) (*AgentSettings, error)
	// DetermineAgentNameAndGoals 根据用户目标推导智能体名称、角色与目标。
	DetermineAgentNameAndGoals(ctx context.Context, objective string, settings *AgentSettings, logger *slog.Logger) (NameAndGoals, error)
	// UpdateAgentNameAndGoals 将推导结果写入配置，必须在分配工作区之前调用。
	UpdateAgentNameAndGoals(settings *AgentSettings, nameAndGoals NameAndGoals) error
	// ProvisionAgent 持久化配置并返回新工作区的根路径。
	ProvisionAgent(ctx context.Context, settings *AgentSettings, logger *slog.Logger) (string, error)
	// FromWorkspace 从工作区恢复一个可运行的智能体。
	FromWorkspace(ctx context.Context, workspaceRoot string, logger *slog.Logger) (Agent, error)
}

// Agent 是已加载的智能体句柄。
type Agent interface {
	// BuildInitialPlan 为本次运行构建初始计划。
	BuildInitialPlan(ctx context.Context) (Plan, error)
	// DetermineNextAbility 选择下一项任务与能力，或给出终止结果。
	DetermineNextAbility(ctx context.Context, plan Plan) (Determination, error)
	// ExecuteNextAbility 执行上一次选定的能力。
	ExecuteNextAbility(ctx context.Context, confirmation Confirmation) (AbilityResult, error)
}

// PendingReporter 由能报告是否仍有待执行能力的智能体实现。
// 智能体自行持久化状态时，执行成功而选择失败会让续行状态落后于智能体，
// 重试时据此跳过已经执行过的能力。
type PendingReporter interface {
	HasPendingAbility() bool
}

// HasPendingAbility 在智能体未实现 PendingReporter 时返回 true。
func HasPendingAbility(ag Agent) bool {
	reporter, ok := ag.(PendingReporter)
	if !ok {
		return true
	}
	return reporter.HasPendingAbility()
}

// Confirmation 表示用户对执行上一项能力的确认。
type Confirmation string

const (
	ConfirmationApprove Confirmation = "y"
	ConfirmationDeny    Confirmation = "n"
)

// Normalize 将空值视为同意。
func (c Confirmation) Normalize() Confirmation {
	if strings.TrimSpace(string(c)) == "" {
		return ConfirmationApprove
	}
	return c
}

// Approved 判断用户是否同意执行。
func (c Confirmation) Approved() bool {
	switch strings.ToLower(strings.TrimSpace(string(c.Normalize()))) {
	case "y", "yes", "approve", "approved", "true":
		return true
	default:
		return false
	}
}
