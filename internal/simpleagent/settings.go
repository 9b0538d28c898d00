package simpleagent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"AgentStep/internal/agent"
)

// 内置能力名称。
const (
	AbilityQueryLanguageModel = "query_language_model"
	AbilityReadFile           = "read_file"
	AbilityWriteFile          = "write_file"
	AbilityListFiles          = "list_files"
	AbilityFinish             = "finish"
)

// DefaultSettings 返回未经用户覆盖的默认配置。
func DefaultSettings() *agent.AgentSettings {
	return &agent.AgentSettings{
		Agent: agent.AgentSection{Configuration: agent.AgentConfiguration{
			MaxCyclesPerTask: 3,
		}},
		Workspace: agent.WorkspaceSection{Configuration: agent.WorkspaceConfiguration{
			Parent: "workspaces",
		}},
		Planning: agent.PlanningSection{Configuration: agent.PlanningConfiguration{
			Temperature: 0.2,
		}},
		Abilities: agent.AbilitySection{Enabled: []string{
			AbilityQueryLanguageModel,
			AbilityReadFile,
			AbilityWriteFile,
			AbilityListFiles,
			AbilityFinish,
		}},
	}
}

// LoadDefaults 从 YAML 文件读取默认配置，文件中缺失的字段沿用 DefaultSettings。
func LoadDefaults(path string) (*agent.AgentSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取默认智能体配置失败: %w", err)
	}
	overrides := map[string]any{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("解析默认智能体配置失败: %w", err)
	}
	return mergeSettings(DefaultSettings(), overrides)
}

// mergeSettings 将 overrides 深度合并到 base 上：映射逐键合并，其余值整体替换。
func mergeSettings(base *agent.AgentSettings, overrides map[string]any) (*agent.AgentSettings, error) {
	encoded, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("编码默认配置失败: %w", err)
	}
	merged := map[string]any{}
	if err := yaml.Unmarshal(encoded, &merged); err != nil {
		return nil, fmt.Errorf("解码默认配置失败: %w", err)
	}
	deepMerge(merged, overrides)

	encoded, err = yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("编码合并后的配置失败: %w", err)
	}
	var out agent.AgentSettings
	if err := yaml.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("用户配置与默认配置不兼容: %w", err)
	}
	return &out, nil
}

func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		incoming, ok := asStringMap(value)
		if !ok {
			dst[key] = value
			continue
		}
		existing, ok := asStringMap(dst[key])
		if !ok {
			existing = map[string]any{}
		}
		deepMerge(existing, incoming)
		dst[key] = existing
	}
}

func asStringMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func readSettings(path string) (*agent.AgentSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var settings agent.AgentSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
