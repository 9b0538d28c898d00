package agent

import (
	xerrors "AgentStep/internal/errors"
)

// NameAndGoals 是根据用户目标推导出的智能体身份。
type NameAndGoals struct {
	AgentName  string   `json:"agent_name" yaml:"agent_name"`
	AgentRole  string   `json:"agent_role" yaml:"agent_role"`
	AgentGoals []string `json:"agent_goals" yaml:"agent_goals"`
}

// TaskType 描述计划任务的类别。
type TaskType string

const (
	TaskTypeResearch TaskType = "research"
	TaskTypeWrite    TaskType = "write"
	TaskTypeEdit     TaskType = "edit"
	TaskTypeCode     TaskType = "code"
	TaskTypeDesign   TaskType = "design"
	TaskTypeTest     TaskType = "test"
	TaskTypePlan     TaskType = "plan"
)

// TaskStatus 表示计划任务的进度。
type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "backlog"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// TaskContext 记录计划任务的执行上下文。
type TaskContext struct {
	Status       TaskStatus      `json:"status" yaml:"status"`
	CycleCount   int             `json:"cycle_count" yaml:"cycle_count"`
	PriorActions []AbilityResult `json:"prior_actions,omitempty" yaml:"prior_actions,omitempty"`
}

// PlannedTask 是计划中的一项任务。
type PlannedTask struct {
	Objective          string      `json:"objective" yaml:"objective"`
	Type               TaskType    `json:"type" yaml:"type"`
	Priority           int         `json:"priority" yaml:"priority"`
	ReadyCriteria      []string    `json:"ready_criteria" yaml:"ready_criteria"`
	AcceptanceCriteria []string    `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	Context            TaskContext `json:"context" yaml:"context"`
}

// Clone 返回任务的深拷贝。
func (t PlannedTask) Clone() PlannedTask {
	out := t
	out.ReadyCriteria = append([]string(nil), t.ReadyCriteria...)
	out.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	if t.Context.PriorActions != nil {
		out.Context.PriorActions = make([]AbilityResult, len(t.Context.PriorActions))
		for i, action := range t.Context.PriorActions {
			out.Context.PriorActions[i] = action.Clone()
		}
	}
	return out
}

// Plan 是一次运行的有序任务列表。
type Plan struct {
	Tasks []PlannedTask `json:"task_list" yaml:"task_list"`
}

// Clone 返回计划的深拷贝。
func (p Plan) Clone() Plan {
	if p.Tasks == nil {
		return Plan{}
	}
	tasks := make([]PlannedTask, len(p.Tasks))
	for i, task := range p.Tasks {
		tasks[i] = task.Clone()
	}
	return Plan{Tasks: tasks}
}

// AbilityCall 描述选定的下一项能力及其参数。
type AbilityCall struct {
	Name       string         `json:"next_ability" yaml:"next_ability"`
	Arguments  map[string]any `json:"ability_arguments" yaml:"ability_arguments"`
	Motivation string         `json:"motivation,omitempty" yaml:"motivation,omitempty"`
}

// Clone 返回能力调用的拷贝，参数表为浅拷贝。
func (c AbilityCall) Clone() AbilityCall {
	out := c
	out.Arguments = cloneMap(c.Arguments)
	return out
}

// AbilityResult 是一次能力执行的结果。
type AbilityResult struct {
	AbilityName  string         `json:"ability_name" yaml:"ability_name"`
	AbilityArgs  map[string]any `json:"ability_args,omitempty" yaml:"ability_args,omitempty"`
	Success      bool           `json:"success" yaml:"success"`
	Message      string         `json:"message" yaml:"message"`
	NewKnowledge string         `json:"new_knowledge,omitempty" yaml:"new_knowledge,omitempty"`
}

// Clone 返回结果的拷贝。
func (r AbilityResult) Clone() AbilityResult {
	out := r
	out.AbilityArgs = cloneMap(r.AbilityArgs)
	return out
}

// DeterminationKind 区分能力选择的两种结果。
type DeterminationKind string

const (
	DeterminationContinue DeterminationKind = "continue"
	DeterminationTerminal DeterminationKind = "terminal"
)

// Determination 是 DetermineNextAbility 的带标签结果：要么继续执行 (Task, Ability)，
// 要么以 Summary 结束整个循环。
type Determination struct {
	Kind    DeterminationKind
	Task    *PlannedTask
	Ability *AbilityCall
	Summary map[string]any
}

// Continue 构造一个继续执行的结果。
func Continue(task PlannedTask, ability AbilityCall) Determination {
	return Determination{Kind: DeterminationContinue, Task: &task, Ability: &ability}
}

// Terminal 构造一个终止结果。
func Terminal(summary map[string]any) Determination {
	return Determination{Kind: DeterminationTerminal, Summary: summary}
}

// IsTerminal 判断是否为终止结果。
func (d Determination) IsTerminal() bool {
	return d.Kind == DeterminationTerminal
}

// Validate 检查结果是否携带了其类别所需的字段。
func (d Determination) Validate() error {
	switch d.Kind {
	case DeterminationTerminal:
		return nil
	case DeterminationContinue:
		if d.Task == nil || d.Ability == nil {
			return xerrors.New(CodeInvalidDetermination, "继续执行的结果缺少任务或能力")
		}
		return nil
	default:
		return xerrors.New(CodeInvalidDetermination, "未知的能力选择结果类型: "+string(d.Kind))
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
