package simpleagent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
)

const (
	settingsFileName = "agent_settings.yaml"
	stateFileName    = "agent_state.yaml"
	filesDirName     = "files"
)

// Workspace 是一个智能体独占的目录：配置、运行状态以及能力可读写的文件区。
type Workspace struct {
	root string
}

// OpenWorkspace 打开已存在的工作区。
func OpenWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, xerrors.New(agent.CodeWorkspaceInvalid, "工作区路径为空")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, xerrors.Wrap(agent.CodeWorkspaceInvalid, err, "工作区不存在")
	}
	if !info.IsDir() {
		return nil, xerrors.New(agent.CodeWorkspaceInvalid, "工作区不是目录: "+root)
	}
	return &Workspace{root: root}, nil
}

// Root 返回工作区根目录。
func (w *Workspace) Root() string { return w.root }

// FilesDir 返回能力可访问的文件目录。
func (w *Workspace) FilesDir() string { return filepath.Join(w.root, filesDirName) }

// Resolve 将相对路径映射到文件目录内，拒绝绝对路径与越界访问。
func (w *Workspace) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("路径超出工作区: %s", name)
	}
	resolved := filepath.Join(w.FilesDir(), filepath.FromSlash(name))
	rel, err := filepath.Rel(w.FilesDir(), resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("路径超出工作区: %s", name)
	}
	return resolved, nil
}

// ReadFile 读取文件目录中的文件。
func (w *Workspace) ReadFile(name string) ([]byte, error) {
	path, err := w.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile 写入文件目录中的文件，必要时创建父目录。
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path, err := w.Resolve(name)
	if err != nil {
		return "", err
	}
	if path == w.FilesDir() {
		return "", fmt.Errorf("文件名不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}

// ListFiles 递归列出目录下的文件，返回相对文件目录的路径。
func (w *Workspace) ListFiles(dir string) ([]string, error) {
	base, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0)
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.FilesDir(), path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return files, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (w *Workspace) settingsPath() string { return filepath.Join(w.root, settingsFileName) }
func (w *Workspace) statePath() string    { return filepath.Join(w.root, stateFileName) }

// LoadSettings 读取工作区中的智能体配置。
func (w *Workspace) LoadSettings() (*agent.AgentSettings, error) {
	settings, err := readSettings(w.settingsPath())
	if err != nil {
		return nil, xerrors.Wrap(agent.CodeWorkspaceInvalid, err, "读取智能体配置失败")
	}
	return settings, nil
}

// runState 是持久化在工作区中的运行状态。
type runState struct {
	Plan        agent.Plan          `yaml:"plan"`
	Planned     bool                `yaml:"planned"`
	Queue       []agent.PlannedTask `yaml:"task_queue"`
	Completed   []agent.PlannedTask `yaml:"completed_tasks"`
	CurrentTask *agent.PlannedTask  `yaml:"current_task,omitempty"`
	NextAbility *agent.AbilityCall  `yaml:"next_ability,omitempty"`
}

func (s runState) clone() runState {
	out := runState{Plan: s.Plan.Clone(), Planned: s.Planned}
	out.Queue = cloneTasks(s.Queue)
	out.Completed = cloneTasks(s.Completed)
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

func cloneTasks(tasks []agent.PlannedTask) []agent.PlannedTask {
	if tasks == nil {
		return nil
	}
	out := make([]agent.PlannedTask, len(tasks))
	for i, task := range tasks {
		out[i] = task.Clone()
	}
	return out
}

// loadState 读取运行状态；文件不存在时返回空状态。
func (w *Workspace) loadState() (runState, error) {
	data, err := os.ReadFile(w.statePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return runState{}, nil
		}
		return runState{}, xerrors.Wrap(agent.CodeWorkspaceInvalid, err, "读取运行状态失败")
	}
	var state runState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return runState{}, xerrors.Wrap(agent.CodeWorkspaceInvalid, err, "解析运行状态失败")
	}
	return state, nil
}

// saveState 先写临时文件再重命名，避免留下半截状态。
func (w *Workspace) saveState(state runState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码运行状态失败")
	}
	tmp, err := os.CreateTemp(w.root, stateFileName+".*.tmp")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行状态失败")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行状态失败")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行状态失败")
	}
	if err := os.Rename(tmp.Name(), w.statePath()); err != nil {
		os.Remove(tmp.Name())
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行状态失败")
	}
	return nil
}
