package task

import (
	"context"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
)

// Phase 是步进状态机的阶段。
type Phase string

const (
	PhaseFirstCall Phase = "first_call"
	PhaseStepping  Phase = "stepping"
	PhaseDone      Phase = "done"
)

// 非终止步骤输出中的键。
const (
	OutputCurrentTask = "current_task"
	OutputNextAbility = "next_ability"
	OutputResult      = "result"
)

// ContinuationState 是两次步进之间需要保留的最小状态。
type ContinuationState struct {
	Phase       Phase              `json:"phase"`
	CurrentTask *agent.PlannedTask `json:"current_task"`
	NextAbility *agent.AbilityCall `json:"next_ability"`
	StepCount   int                `json:"step_count"`
}

// NewContinuationState 返回首次调用前的状态。
func NewContinuationState() ContinuationState {
	return ContinuationState{Phase: PhaseFirstCall}
}

// Clone 返回状态的深拷贝。
func (s ContinuationState) Clone() ContinuationState {
	out := s
	if s.CurrentTask != nil {
		task := s.CurrentTask.Clone()
		out.CurrentTask = &task
	}
	if s.NextAbility != nil {
		ability := s.NextAbility.Clone()
		out.NextAbility = &ability
	}
	return out
}

// StepInput 是一次步进调用的输入。Input 目前不参与计算。
type StepInput struct {
	Input        any                `json:"input,omitempty"`
	Confirmation agent.Confirmation `json:"confirmation,omitempty"`
}

// StepResult 是一次步进的结果。
type StepResult struct {
	Output map[string]any `json:"output"`
	IsLast bool           `json:"is_last"`
}

// Advance 将智能体推进一个单位：若已有排队的能力先执行它，再选择下一项能力。
// 成功时返回新状态；失败时返回原状态，不保留任何中间结果。
// 智能体报告没有待执行能力时跳过执行，本步输出的 result 为空。
func Advance(ctx context.Context, ag agent.Agent, plan agent.Plan, state ContinuationState, in StepInput) (StepResult, ContinuationState, error) {
	if state.Phase == PhaseDone {
		return StepResult{}, state, ErrTaskFinished
	}
	if ag == nil {
		return StepResult{}, state, xerrors.New(xerrors.CodeInitializationFailure, "智能体未加载")
	}

	var result any
	// 上一次步进可能已执行能力但未能完成选择，此时直接重新选择。
	if state.CurrentTask != nil && agent.HasPendingAbility(ag) {
		executed, err := ag.ExecuteNextAbility(ctx, in.Confirmation.Normalize())
		if err != nil {
			return StepResult{}, state, err
		}
		result = executed
	}

	determination, err := ag.DetermineNextAbility(ctx, plan)
	if err != nil {
		return StepResult{}, state, err
	}
	if err := determination.Validate(); err != nil {
		return StepResult{}, state, err
	}

	next := state.Clone()
	next.StepCount++

	if determination.IsTerminal() {
		// 已执行能力的结果不会出现在终止输出中。
		next.Phase = PhaseDone
		return StepResult{Output: determination.Summary, IsLast: true}, next, nil
	}

	currentTask := determination.Task.Clone()
	nextAbility := determination.Ability.Clone()
	next.Phase = PhaseStepping
	next.CurrentTask = &currentTask
	next.NextAbility = &nextAbility

	return StepResult{
		Output: map[string]any{
			OutputCurrentTask: currentTask,
			OutputNextAbility: nextAbility,
			OutputResult:      result,
		},
	}, next, nil
}
