package task

import (
	"context"
	"sync"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
)

// StepFunc 是任务处理器返回的步进函数。
type StepFunc func(ctx context.Context, in StepInput) (StepResult, error)

// Handler 是组合根：接收一次任务请求，完成引导后返回绑定该任务的会话。
type Handler struct {
	bootstrapper *Bootstrapper
}

// NewHandler 构造 Handler。
func NewHandler(bootstrapper *Bootstrapper) *Handler {
	return &Handler{bootstrapper: bootstrapper}
}

// Handle 对每个任务只调用一次。
func (h *Handler) Handle(ctx context.Context, req TaskRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if h == nil || h.bootstrapper == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务处理器未初始化")
	}
	boot, err := h.bootstrapper.Bootstrap(ctx, req)
	if err != nil {
		return nil, err
	}
	return ResumeSession(boot.Agent, boot.Plan, boot.WorkspaceRoot, NewContinuationState()), nil
}

// HandleInput 接收原始映射形式的任务输入。
func (h *Handler) HandleInput(ctx context.Context, raw map[string]any) (StepFunc, error) {
	req, err := ParseTaskInput(raw)
	if err != nil {
		return nil, err
	}
	session, err := h.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	return session.Step, nil
}

// Session 独占一个任务的智能体句柄、计划与续行状态。
type Session struct {
	mu            sync.Mutex
	agent         agent.Agent
	plan          agent.Plan
	workspaceRoot string
	state         ContinuationState
}

// ResumeSession 用已有状态恢复会话。
func ResumeSession(ag agent.Agent, plan agent.Plan, workspaceRoot string, state ContinuationState) *Session {
	return &Session{
		agent:         ag,
		plan:          plan,
		workspaceRoot: workspaceRoot,
		state:         state.Clone(),
	}
}

// Step 推进一步。同一会话的调用被串行化。
func (s *Session) Step(ctx context.Context, in StepInput) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, next, err := Advance(ctx, s.agent, s.plan, s.state, in)
	if err != nil {
		return StepResult{}, err
	}
	s.state = next
	return result, nil
}

// State 返回当前续行状态的拷贝。
func (s *Session) State() ContinuationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Plan 返回会话的初始计划。
func (s *Session) Plan() agent.Plan {
	return s.plan.Clone()
}

// WorkspaceRoot 返回智能体工作区路径。
func (s *Session) WorkspaceRoot() string {
	return s.workspaceRoot
}
