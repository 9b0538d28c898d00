package task

import (
	"strings"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
)

// TaskRequest 是一次性提交的任务描述。
type TaskRequest struct {
	UserObjective     string         `json:"user_objective"`
	UserConfiguration map[string]any `json:"user_configuration,omitempty"`
}

// ParseTaskInput 从原始映射构造请求。nil 输入等同于空映射。
// 目标缺失时先返回 ErrMissingObjective，再检查配置类型。
func ParseTaskInput(raw map[string]any) (TaskRequest, error) {
	var req TaskRequest
	if objective, ok := raw["user_objective"].(string); ok {
		req.UserObjective = objective
	}
	if err := req.Validate(); err != nil {
		return TaskRequest{}, err
	}
	switch cfg := raw["user_configuration"].(type) {
	case nil:
	case map[string]any:
		req.UserConfiguration = cfg
	default:
		return TaskRequest{}, xerrors.New(CodeInvalidTaskInput, "user_configuration 必须是映射")
	}
	return req, nil
}

// Validate 检查用户目标是否存在。
func (r TaskRequest) Validate() error {
	if strings.TrimSpace(r.UserObjective) == "" {
		return ErrMissingObjective
	}
	return nil
}

// Configuration 在边界处解析一次用户配置。
func (r TaskRequest) Configuration() agent.UserConfiguration {
	return agent.ParseUserConfiguration(r.UserConfiguration)
}
