package simpleagent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
	"AgentStep/internal/llm"
)

// Parameter 描述能力的一个参数。
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// AbilitySpec 描述一项能力，供提示词与参数校验使用。
type AbilitySpec struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Ability 是智能体可执行的动作。参数错误、文件缺失等可预期的失败以
// Success=false 的结果返回；只有基础设施故障才返回 error。
type Ability interface {
	Spec() AbilitySpec
	Run(ctx context.Context, args map[string]any) (agent.AbilityResult, error)
}

// Registry 保存启用的能力及其参数 schema。
type Registry struct {
	abilities map[string]Ability
	schemas   map[string]*gojsonschema.Schema
	order     []string
}

// NewRegistry 注册给定能力。
func NewRegistry(abilities ...Ability) (*Registry, error) {
	r := &Registry{
		abilities: make(map[string]Ability, len(abilities)),
		schemas:   make(map[string]*gojsonschema.Schema, len(abilities)),
	}
	for _, ability := range abilities {
		spec := ability.Spec()
		if spec.Name == "" {
			return nil, fmt.Errorf("能力名称不能为空")
		}
		if _, exists := r.abilities[spec.Name]; exists {
			return nil, fmt.Errorf("重复注册能力: %s", spec.Name)
		}
		schema, err := buildSchema(spec)
		if err != nil {
			return nil, fmt.Errorf("生成能力 %s 的参数 schema 失败: %w", spec.Name, err)
		}
		r.abilities[spec.Name] = ability
		r.schemas[spec.Name] = schema
		r.order = append(r.order, spec.Name)
	}
	sort.Strings(r.order)
	return r, nil
}

// Has 判断能力是否已注册。
func (r *Registry) Has(name string) bool {
	_, ok := r.abilities[name]
	return ok
}

// Names 返回已注册的能力名称。
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Describe 生成写入提示词的能力清单。
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.order {
		spec := r.abilities[name].Spec()
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		for _, param := range spec.Parameters {
			required := ""
			if param.Required {
				required = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", param.Name, param.Type, required, param.Description)
		}
	}
	return b.String()
}

// Run 校验参数后执行能力。
func (r *Registry) Run(ctx context.Context, call agent.AbilityCall) (agent.AbilityResult, error) {
	ability, ok := r.abilities[call.Name]
	if !ok {
		return agent.AbilityResult{}, xerrors.New(agent.CodeUnknownAbility, "未注册的能力: "+call.Name)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArguments(r.schemas[call.Name], args); err != nil {
		return agent.AbilityResult{
			AbilityName: call.Name,
			AbilityArgs: args,
			Success:     false,
			Message:     err.Error(),
		}, nil
	}
	result, err := ability.Run(ctx, args)
	if err != nil {
		return agent.AbilityResult{}, err
	}
	result.AbilityName = call.Name
	result.AbilityArgs = args
	return result, nil
}

func buildSchema(spec AbilitySpec) (*gojsonschema.Schema, error) {
	properties := make(map[string]any, len(spec.Parameters))
	required := make([]string, 0)
	for _, param := range spec.Parameters {
		properties[param.Name] = map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

func validateArguments(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("参数校验失败: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("参数不合法: %s", strings.Join(problems, "; "))
	}
	return nil
}

// BuiltinAbilities 按名称构造内置能力，未知名称返回错误。
func BuiltinAbilities(names []string, ws *Workspace, client llm.Client, temperature float64) ([]Ability, error) {
	out := make([]Ability, 0, len(names))
	for _, name := range names {
		switch name {
		case AbilityQueryLanguageModel:
			out = append(out, queryLanguageModel{client: client, temperature: temperature})
		case AbilityReadFile:
			out = append(out, readFile{ws: ws})
		case AbilityWriteFile:
			out = append(out, writeFile{ws: ws})
		case AbilityListFiles:
			out = append(out, listFiles{ws: ws})
		case AbilityFinish:
			out = append(out, finish{})
		default:
			return nil, xerrors.New(agent.CodeUnknownAbility, "未知的内置能力: "+name)
		}
	}
	return out, nil
}

type queryLanguageModel struct {
	client      llm.Client
	temperature float64
}

func (queryLanguageModel) Spec() AbilitySpec {
	return AbilitySpec{
		Name:        AbilityQueryLanguageModel,
		Description: "Query a language model. A query should be a question and any relevant context.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "A query for a language model.", Required: true},
		},
	}
}

func (a queryLanguageModel) Run(ctx context.Context, args map[string]any) (agent.AbilityResult, error) {
	if a.client == nil {
		return agent.AbilityResult{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	query, _ := args["query"].(string)
	resp, err := a.client.Generate(ctx, llm.Request{Prompt: query, Temperature: a.temperature})
	if err != nil {
		return agent.AbilityResult{}, xerrors.Wrap(CodeLLMFailure, err, "查询大模型失败")
	}
	return agent.AbilityResult{Success: true, Message: resp.Content}, nil
}

type readFile struct{ ws *Workspace }

func (readFile) Spec() AbilitySpec {
	return AbilitySpec{
		Name:        AbilityReadFile,
		Description: "Read and return the contents of a file in the workspace.",
		Parameters: []Parameter{
			{Name: "filename", Type: "string", Description: "The name of the file to read.", Required: true},
		},
	}
}

func (a readFile) Run(_ context.Context, args map[string]any) (agent.AbilityResult, error) {
	filename, _ := args["filename"].(string)
	data, err := a.ws.ReadFile(filename)
	if err != nil {
		return agent.AbilityResult{Success: false, Message: fmt.Sprintf("读取文件 %s 失败: %v", filename, err)}, nil
	}
	return agent.AbilityResult{
		Success:      true,
		Message:      fmt.Sprintf("Read %d bytes from %s", len(data), filename),
		NewKnowledge: string(data),
	}, nil
}

type writeFile struct{ ws *Workspace }

func (writeFile) Spec() AbilitySpec {
	return AbilitySpec{
		Name:        AbilityWriteFile,
		Description: "Write text to a file in the workspace, replacing existing contents.",
		Parameters: []Parameter{
			{Name: "filename", Type: "string", Description: "The name of the file to write.", Required: true},
			{Name: "contents", Type: "string", Description: "The text to write.", Required: true},
		},
	}
}

func (a writeFile) Run(_ context.Context, args map[string]any) (agent.AbilityResult, error) {
	filename, _ := args["filename"].(string)
	contents, _ := args["contents"].(string)
	if _, err := a.ws.WriteFile(filename, []byte(contents)); err != nil {
		return agent.AbilityResult{Success: false, Message: fmt.Sprintf("写入文件 %s 失败: %v", filename, err)}, nil
	}
	return agent.AbilityResult{
		Success:      true,
		Message:      fmt.Sprintf("Wrote %d bytes to %s", len(contents), filename),
		NewKnowledge: contents,
	}, nil
}

type listFiles struct{ ws *Workspace }

func (listFiles) Spec() AbilitySpec {
	return AbilitySpec{
		Name:        AbilityListFiles,
		Description: "List files in a workspace directory.",
		Parameters: []Parameter{
			{Name: "directory", Type: "string", Description: "Directory relative to the workspace, empty for the root."},
		},
	}
}

func (a listFiles) Run(_ context.Context, args map[string]any) (agent.AbilityResult, error) {
	directory, _ := args["directory"].(string)
	files, err := a.ws.ListFiles(directory)
	if err != nil {
		return agent.AbilityResult{Success: false, Message: fmt.Sprintf("列出目录 %s 失败: %v", directory, err)}, nil
	}
	return agent.AbilityResult{
		Success:      true,
		Message:      fmt.Sprintf("Found %d files", len(files)),
		NewKnowledge: strings.Join(files, "\n"),
	}, nil
}

type finish struct{}

func (finish) Spec() AbilitySpec {
	return AbilitySpec{
		Name:        AbilityFinish,
		Description: "Mark the current task as complete once its acceptance criteria are met.",
		Parameters: []Parameter{
			{Name: "reason", Type: "string", Description: "A summary of how the task was completed.", Required: true},
		},
	}
}

func (finish) Run(_ context.Context, args map[string]any) (agent.AbilityResult, error) {
	reason, _ := args["reason"].(string)
	return agent.AbilityResult{Success: true, Message: reason}, nil
}
