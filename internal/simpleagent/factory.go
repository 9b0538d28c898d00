package simpleagent

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
	"AgentStep/internal/llm"
	"AgentStep/pkg/logger"
)

// Factory 实现 agent.Factory，负责配置编译、工作区分配与加载。
type Factory struct {
	client          llm.Client
	defaults        *agent.AgentSettings
	workspaceParent string
}

// FactoryOption 定义可选配置。
type FactoryOption func(*Factory)

// WithDefaults 替换内置默认配置。
func WithDefaults(settings *agent.AgentSettings) FactoryOption {
	return func(f *Factory) {
		if settings != nil {
			f.defaults = settings
		}
	}
}

// WithWorkspaceParent 指定新工作区的父目录，用户配置仍可覆盖。
func WithWorkspaceParent(dir string) FactoryOption {
	return func(f *Factory) {
		f.workspaceParent = strings.TrimSpace(dir)
	}
}

// NewFactory 构造 Factory。
func NewFactory(client llm.Client, opts ...FactoryOption) *Factory {
	f := &Factory{client: client, defaults: DefaultSettings()}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// CompileSettings 将用户配置深度合并到默认配置上。
func (f *Factory) CompileSettings(log *slog.Logger, userConfig agent.UserConfiguration) (*agent.AgentSettings, error) {
	base, err := mergeSettings(f.defaults, nil)
	if err != nil {
		return nil, err
	}
	if f.workspaceParent != "" {
		base.Workspace.Configuration.Parent = f.workspaceParent
	}
	settings, err := mergeSettings(base, userConfig.Raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编译智能体配置失败")
	}
	loggerOr(log).Debug("智能体配置已编译",
		slog.String("workspace_parent", settings.Workspace.Configuration.Parent),
		slog.Any("abilities", settings.Abilities.Enabled),
	)
	return settings, nil
}

// DetermineAgentNameAndGoals 请求大模型为目标生成智能体身份。
func (f *Factory) DetermineAgentNameAndGoals(ctx context.Context, objective string, settings *agent.AgentSettings, log *slog.Logger) (agent.NameAndGoals, error) {
	if f.client == nil {
		return agent.NameAndGoals{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	temperature := 0.0
	if settings != nil {
		temperature = settings.Planning.Configuration.Temperature
	}
	resp, err := f.client.Generate(ctx, llm.Request{
		System:      nameAndGoalsSystemPrompt,
		Prompt:      nameAndGoalsPrompt(objective),
		Temperature: temperature,
		JSON:        true,
	})
	if err != nil {
		return agent.NameAndGoals{}, xerrors.Wrap(CodeLLMFailure, err, "推导智能体名称与目标失败")
	}
	var ng agent.NameAndGoals
	if err := llm.DecodeJSON(resp.Content, &ng); err != nil {
		return agent.NameAndGoals{}, xerrors.Wrap(CodeInvalidResponse, err, "无法解析智能体名称与目标")
	}
	ng.AgentName = strings.TrimSpace(ng.AgentName)
	if ng.AgentName == "" {
		return agent.NameAndGoals{}, xerrors.New(CodeInvalidResponse, "大模型未给出智能体名称")
	}
	if len(ng.AgentGoals) == 0 {
		ng.AgentGoals = []string{strings.TrimSpace(objective)}
	}
	loggerOr(log).Debug("智能体身份已推导", slog.String("agent_name", ng.AgentName))
	return ng, nil
}

// UpdateAgentNameAndGoals 将身份写入配置。
func (f *Factory) UpdateAgentNameAndGoals(settings *agent.AgentSettings, ng agent.NameAndGoals) error {
	if settings == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体配置为空")
	}
	settings.UpdateAgentNameAndGoals(ng)
	return nil
}

// ProvisionAgent 在父目录下创建 <名称>-<随机后缀> 工作区并写入配置。
func (f *Factory) ProvisionAgent(_ context.Context, settings *agent.AgentSettings, log *slog.Logger) (string, error) {
	if settings == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "智能体配置为空")
	}
	if strings.TrimSpace(settings.Workspace.Configuration.Root) != "" {
		return "", xerrors.New(agent.CodeWorkspaceExists, "智能体已分配工作区: "+settings.Workspace.Configuration.Root)
	}
	parent := settings.Workspace.Configuration.Parent
	if parent == "" {
		parent = DefaultSettings().Workspace.Configuration.Parent
	}
	parent, err := filepath.Abs(parent)
	if err != nil {
		return "", xerrors.Wrap(agent.CodeWorkspaceInvalid, err, "解析工作区父目录失败")
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建工作区父目录失败")
	}

	root := filepath.Join(parent, slugify(settings.Agent.Configuration.Name)+"-"+uuid.NewString()[:8])
	if err := os.Mkdir(root, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", xerrors.Wrap(agent.CodeWorkspaceExists, err, "工作区已存在")
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建工作区失败")
	}
	if err := os.Mkdir(filepath.Join(root, filesDirName), 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建工作区文件目录失败")
	}

	persisted := *settings
	persisted.Workspace.Configuration.Root = root
	persisted.Workspace.Configuration.Parent = parent
	data, err := yaml.Marshal(&persisted)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码智能体配置失败")
	}
	file, err := os.OpenFile(filepath.Join(root, settingsFileName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", xerrors.Wrap(agent.CodeWorkspaceExists, err, "工作区已存在配置文件")
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入智能体配置失败")
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入智能体配置失败")
	}
	if err := file.Close(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入智能体配置失败")
	}
	settings.Workspace.Configuration.Root = root
	settings.Workspace.Configuration.Parent = parent

	loggerOr(log).Info("工作区已分配", slog.String("workspace_root", root))
	return root, nil
}

// FromWorkspace 读取配置与运行状态并构造智能体。
func (f *Factory) FromWorkspace(_ context.Context, root string, log *slog.Logger) (agent.Agent, error) {
	ws, err := OpenWorkspace(root)
	if err != nil {
		return nil, err
	}
	settings, err := ws.LoadSettings()
	if err != nil {
		return nil, err
	}
	state, err := ws.loadState()
	if err != nil {
		return nil, err
	}
	abilities, err := BuiltinAbilities(settings.Abilities.Enabled, ws, f.client, settings.Planning.Configuration.Temperature)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(abilities...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册能力失败")
	}
	return &Agent{
		ws:       ws,
		settings: settings,
		client:   f.client,
		registry: registry,
		logger:   loggerOr(log),
		state:    state,
	}, nil
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "agent"
	}
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	return slug
}

func loggerOr(log *slog.Logger) *slog.Logger {
	if log != nil {
		return log
	}
	return logger.Named("simpleagent")
}

var _ agent.Factory = (*Factory)(nil)
