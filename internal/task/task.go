package task

import (
	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task 是持久化的任务会话：引导结果、计划与续行状态。
type Task struct {
	ID                string            `json:"task_id"`
	Objective         string            `json:"objective"`
	UserConfiguration map[string]any    `json:"user_configuration,omitempty"`
	WorkspaceRoot     string            `json:"workspace_root"`
	AgentName         string            `json:"agent_name,omitempty"`
	Plan              agent.Plan        `json:"plan"`
	State             ContinuationState `json:"state"`
	Status            Status            `json:"status"`
	Steps             int               `json:"steps"`
	LastError         string            `json:"last_error,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	Output            map[string]any    `json:"output,omitempty"`
	Version           int64             `json:"version"`
	CreatedAt         int64             `json:"created_at"`
	UpdatedAt         int64             `json:"updated_at"`
}

// Step 记录一次步进调用的输入与输出。
type Step struct {
	ID           string             `json:"step_id"`
	TaskID       string             `json:"task_id"`
	Sequence     int                `json:"sequence"`
	Input        any                `json:"input,omitempty"`
	Confirmation agent.Confirmation `json:"confirmation,omitempty"`
	Output       map[string]any     `json:"output"`
	IsLast       bool               `json:"is_last"`
	CreatedAt    int64              `json:"created_at"`
}

var (
	// ErrMissingObjective 表示任务请求缺少用户目标。
	ErrMissingObjective = xerrors.New(CodeMissingObjective, "未提供用户目标")
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务已被并发修改。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict")
	// ErrTaskFinished 表示任务已经给出最终结果，不能继续步进。
	ErrTaskFinished = xerrors.New(CodeTaskFinished, "task already finished")
)

const (
	CodeMissingObjective  xerrors.Code = "MISSING_OBJECTIVE"
	CodeInvalidTaskInput  xerrors.Code = "INVALID_TASK_INPUT"
	CodeTaskNotFound      xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict      xerrors.Code = "TASK_CONFLICT"
	CodeTaskFinished      xerrors.Code = "TASK_FINISHED"
	CodeCapabilityFailure xerrors.Code = "CAPABILITY_FAILURE"
	CodeTaskPublish       xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeStepFailed        xerrors.Code = "STEP_FAILED"
)

func init() {
	xerrors.Register(CodeMissingObjective, xerrors.Attributes{
		Message:  "no user objective provided",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidTaskInput, xerrors.Attributes{
		Message:  "invalid task input",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeTaskFinished, xerrors.Attributes{
		Message:  "task already finished",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeCapabilityFailure, xerrors.Attributes{
		Message:  "agent capability failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeStepFailed, xerrors.Attributes{
		Message:  "automatic run stopped",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Finished 判断任务是否已经结束步进。
func (t *Task) Finished() bool {
	return t.Status == StatusCompleted || t.State.Phase == PhaseDone
}

// Clone 返回任务的深拷贝，存储实现用它隔离调用方。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.UserConfiguration = cloneMap(t.UserConfiguration)
	clone.Plan = t.Plan.Clone()
	clone.State = t.State.Clone()
	clone.Output = cloneMap(t.Output)
	return &clone
}

// Clone 返回步骤记录的拷贝。
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Output = cloneMap(s.Output)
	return &clone
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
