package agent

import "strings"

// AgentSettings 是默认配置与用户覆盖项合并后的完整配置。
// 各段的键与用户配置保持一致，例如 workspace.configuration.root。
type AgentSettings struct {
	Agent     AgentSection     `json:"agent" yaml:"agent"`
	Workspace WorkspaceSection `json:"workspace" yaml:"workspace"`
	Planning  PlanningSection  `json:"planning" yaml:"planning"`
	Abilities AbilitySection   `json:"abilities" yaml:"abilities"`
	// Extra 保留未识别的用户配置段，供具体实现读取。
	Extra map[string]any `json:"extra,omitempty" yaml:",inline"`
}

// AgentSection 描述智能体身份与循环限制。
type AgentSection struct {
	Configuration AgentConfiguration `json:"configuration" yaml:"configuration"`
}

// AgentConfiguration 在引导阶段写入名称、角色与目标。
type AgentConfiguration struct {
	Name             string   `json:"name" yaml:"name"`
	Role             string   `json:"role" yaml:"role"`
	Goals            []string `json:"goals" yaml:"goals"`
	MaxCyclesPerTask int      `json:"max_cycles_per_task" yaml:"max_cycles_per_task"`
}

// WorkspaceSection 描述智能体工作区。
type WorkspaceSection struct {
	Configuration WorkspaceConfiguration `json:"configuration" yaml:"configuration"`
}

// WorkspaceConfiguration 中 Root 非空表示智能体已分配工作区。
type WorkspaceConfiguration struct {
	Root   string `json:"root" yaml:"root"`
	Parent string `json:"parent" yaml:"parent"`
}

// PlanningSection 描述规划时调用大模型的参数。
type PlanningSection struct {
	Configuration PlanningConfiguration `json:"configuration" yaml:"configuration"`
}

// PlanningConfiguration 中的温度会传递给大模型客户端。
type PlanningConfiguration struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// AbilitySection 列出启用的能力。
type AbilitySection struct {
	Enabled []string `json:"enabled" yaml:"enabled"`
}

// UpdateAgentNameAndGoals 写入推导得到的身份信息。
func (s *AgentSettings) UpdateAgentNameAndGoals(nameAndGoals NameAndGoals) {
	s.Agent.Configuration.Name = nameAndGoals.AgentName
	s.Agent.Configuration.Role = nameAndGoals.AgentRole
	s.Agent.Configuration.Goals = append([]string(nil), nameAndGoals.AgentGoals...)
}

// UserConfiguration 是在边界处解析过一次的用户配置：Workspace 为类型化字段，
// Raw 保留完整映射用于合并默认配置。
type UserConfiguration struct {
	Workspace WorkspaceSection
	Raw       map[string]any
}

// ParseUserConfiguration 解析原始映射。任何缺失或类型不符的中间层都视为空，不会报错。
func ParseUserConfiguration(raw map[string]any) UserConfiguration {
	cfg := UserConfiguration{Raw: raw}
	if raw == nil {
		cfg.Raw = map[string]any{}
	}
	workspace := lookupSection(cfg.Raw, "workspace")
	configuration := lookupSection(workspace, "configuration")
	if root, ok := configuration["root"].(string); ok {
		cfg.Workspace.Configuration.Root = strings.TrimSpace(root)
	}
	if parent, ok := configuration["parent"].(string); ok {
		cfg.Workspace.Configuration.Parent = parent
	}
	return cfg
}

// WorkspaceRoot 返回已有工作区路径；为空或全为空白表示需要新建智能体。
func (c UserConfiguration) WorkspaceRoot() string {
	return c.Workspace.Configuration.Root
}

func lookupSection(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return nil
	}
	switch section := parent[key].(type) {
	case map[string]any:
		return section
	case map[any]any:
		converted := make(map[string]any, len(section))
		for k, v := range section {
			if name, ok := k.(string); ok {
				converted[name] = v
			}
		}
		return converted
	default:
		return nil
	}
}
