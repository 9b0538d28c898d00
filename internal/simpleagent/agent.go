package simpleagent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
	"AgentStep/internal/llm"
)

// NoTasksResponse 是任务队列清空后的终止输出。
const NoTasksResponse = "I don't have any tasks to work on right now."

const defaultMaxCyclesPerTask = 3

// Agent 是基于工作区状态文件的参考智能体。每次状态变更都会先写盘再生效，
// 因此同一工作区重新加载后可以从上一次成功的调用继续。
type Agent struct {
	ws       *Workspace
	settings *agent.AgentSettings
	client   llm.Client
	registry *Registry
	logger   *slog.Logger

	mu    sync.Mutex
	state runState
}

// BuildInitialPlan 请求大模型拆解目标并按优先级排序。工作区已有计划时直接返回。
func (a *Agent) BuildInitialPlan(ctx context.Context) (agent.Plan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Planned {
		a.logger.Debug("沿用工作区中的计划", slog.Int("tasks", len(a.state.Plan.Tasks)))
		return a.state.Plan.Clone(), nil
	}
	if a.client == nil {
		return agent.Plan{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	resp, err := a.client.Generate(ctx, llm.Request{
		System:      planningSystemPrompt,
		Prompt:      planningPrompt(a.settings.Agent.Configuration, a.registry.Describe()),
		Temperature: a.settings.Planning.Configuration.Temperature,
		JSON:        true,
	})
	if err != nil {
		return agent.Plan{}, xerrors.Wrap(CodeLLMFailure, err, "生成初始计划失败")
	}
	var plan agent.Plan
	if err := llm.DecodeJSON(resp.Content, &plan); err != nil {
		return agent.Plan{}, xerrors.Wrap(CodeInvalidResponse, err, "无法解析初始计划")
	}
	if len(plan.Tasks) == 0 {
		return agent.Plan{}, xerrors.New(agent.CodeInvalidPlan, "初始计划为空")
	}
	sort.SliceStable(plan.Tasks, func(i, j int) bool {
		return plan.Tasks[i].Priority < plan.Tasks[j].Priority
	})
	for i := range plan.Tasks {
		plan.Tasks[i].Objective = strings.TrimSpace(plan.Tasks[i].Objective)
		plan.Tasks[i].Context.Status = agent.TaskStatusReady
	}

	next := a.state.clone()
	next.Plan = plan.Clone()
	next.Planned = true
	next.Queue = cloneTasks(plan.Tasks)
	if err := a.commit(next); err != nil {
		return agent.Plan{}, err
	}
	a.logger.Info("初始计划已生成", slog.Int("tasks", len(plan.Tasks)))
	return plan, nil
}

// DetermineNextAbility 取出当前任务（必要时从队列弹出）并请求大模型选择能力。
// 队列为空且没有进行中的任务时返回终止结果。
func (a *Agent) DetermineNextAbility(ctx context.Context, plan agent.Plan) (agent.Determination, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.state.clone()
	if next.CurrentTask == nil {
		if len(next.Queue) == 0 {
			a.logger.Info("没有待处理的任务")
			return agent.Terminal(map[string]any{"response": NoTasksResponse}), nil
		}
		task := next.Queue[0]
		next.Queue = next.Queue[1:]
		task.Context.Status = agent.TaskStatusInProgress
		next.CurrentTask = &task
	}
	if a.client == nil {
		return agent.Determination{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	resp, err := a.client.Generate(ctx, llm.Request{
		System:      abilitySystemPrompt,
		Prompt:      abilityPrompt(a.settings.Agent.Configuration, plan, *next.CurrentTask, a.registry.Describe()),
		Temperature: a.settings.Planning.Configuration.Temperature,
		JSON:        true,
	})
	if err != nil {
		return agent.Determination{}, xerrors.Wrap(CodeLLMFailure, err, "选择下一项能力失败")
	}
	var call agent.AbilityCall
	if err := llm.DecodeJSON(resp.Content, &call); err != nil {
		return agent.Determination{}, xerrors.Wrap(CodeInvalidResponse, err, "无法解析能力选择")
	}
	call.Name = strings.TrimSpace(call.Name)
	if !a.registry.Has(call.Name) {
		return agent.Determination{}, xerrors.New(agent.CodeUnknownAbility, "大模型选择了未启用的能力: "+call.Name)
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	next.NextAbility = &call
	if err := a.commit(next); err != nil {
		return agent.Determination{}, err
	}
	a.logger.Debug("已选择能力",
		slog.String("task", next.CurrentTask.Objective),
		slog.String("ability", call.Name),
	)
	return agent.Continue(next.CurrentTask.Clone(), call.Clone()), nil
}

// ExecuteNextAbility 执行上一次选定的能力。用户拒绝时不执行，返回失败结果。
func (a *Agent) ExecuteNextAbility(ctx context.Context, confirmation agent.Confirmation) (agent.AbilityResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.CurrentTask == nil || a.state.NextAbility == nil {
		return agent.AbilityResult{}, xerrors.New(agent.CodeNoPendingAbility, "没有待执行的能力")
	}
	next := a.state.clone()
	call := *next.NextAbility
	task := next.CurrentTask
	next.NextAbility = nil

	if !confirmation.Approved() {
		result := agent.AbilityResult{
			AbilityName: call.Name,
			AbilityArgs: call.Arguments,
			Success:     false,
			Message:     "user denied execution of " + call.Name,
		}
		task.Context.PriorActions = append(task.Context.PriorActions, result)
		if err := a.commit(next); err != nil {
			return agent.AbilityResult{}, err
		}
		a.logger.Info("用户拒绝执行能力", slog.String("ability", call.Name))
		return result, nil
	}

	result, err := a.registry.Run(ctx, call)
	if err != nil {
		return agent.AbilityResult{}, err
	}
	task.Context.PriorActions = append(task.Context.PriorActions, result.Clone())
	task.Context.CycleCount++

	maxCycles := a.settings.Agent.Configuration.MaxCyclesPerTask
	if maxCycles <= 0 {
		maxCycles = defaultMaxCyclesPerTask
	}
	finished := call.Name == AbilityFinish && result.Success
	if finished || task.Context.CycleCount >= maxCycles {
		task.Context.Status = agent.TaskStatusDone
		next.Completed = append(next.Completed, *task)
		next.CurrentTask = nil
	}
	if err := a.commit(next); err != nil {
		return agent.AbilityResult{}, err
	}
	a.logger.Info("能力执行完成",
		slog.String("ability", call.Name),
		slog.Bool("success", result.Success),
		slog.Bool("task_done", next.CurrentTask == nil),
	)
	return result, nil
}

// HasPendingAbility 报告工作区中是否有已选定但尚未执行的能力。
func (a *Agent) HasPendingAbility() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.CurrentTask != nil && a.state.NextAbility != nil
}

// commit 持久化新状态后替换内存状态。
func (a *Agent) commit(next runState) error {
	if err := a.ws.saveState(next); err != nil {
		return err
	}
	a.state = next
	return nil
}

// Workspace 返回智能体的工作区。
func (a *Agent) Workspace() *Workspace {
	return a.ws
}

var (
	_ agent.Agent           = (*Agent)(nil)
	_ agent.PendingReporter = (*Agent)(nil)
)
