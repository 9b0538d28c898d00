package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentStep/internal/agent"
	"AgentStep/internal/config"
	"AgentStep/internal/llm/scripted"
	"AgentStep/internal/task"
)

func TestCreateLLMClient(t *testing.T) {
	cfg := config.Default(t.TempDir())

	cfg.LLM.Provider = "scripted"
	client, err := createLLMClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &scripted.Client{}, client)

	cfg.LLM.Provider = "openai"
	cfg.LLM.OpenAI.APIKey = ""
	cfg.LLM.OpenAI.APIKeyEnv = "AGENTSTEP_TEST_MISSING_KEY"
	t.Setenv("AGENTSTEP_TEST_MISSING_KEY", "")
	_, err = createLLMClient(cfg)
	require.Error(t, err)

	cfg.LLM.OpenAI.APIKey = "sk-test"
	_, err = createLLMClient(cfg)
	require.NoError(t, err)

	cfg.LLM.Provider = "python_bridge"
	_, err = createLLMClient(cfg)
	require.Error(t, err)
}

func TestCreateMemoryBackends(t *testing.T) {
	cfg := config.Default(t.TempDir())

	store, err := createStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &task.MemoryStore{}, store)

	queue, err := createQueue(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &task.MemoryQueue{}, queue)
	require.NoError(t, queue.Close())

	cfg.Storage.Driver = "etcd"
	_, err = createStore(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestCreateFactoryAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	defaultsPath := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(defaultsPath, []byte("agent:\n  configuration:\n    max_cycles_per_task: 7\n"), 0o600))

	cfg := config.Default(dir)
	cfg.Agent.DefaultsFile = defaultsPath
	factory, err := createFactory(cfg, scripted.New(nil))
	require.NoError(t, err)

	settings, err := factory.CompileSettings(nil, agent.UserConfiguration{})
	require.NoError(t, err)
	assert.Equal(t, 7, settings.Agent.Configuration.MaxCyclesPerTask)
	assert.DirExists(t, cfg.Agent.WorkspaceParent)

	cfg.Agent.MaxCycles = 2
	factory, err = createFactory(cfg, scripted.New(nil))
	require.NoError(t, err)
	settings, err = factory.CompileSettings(nil, agent.UserConfiguration{})
	require.NoError(t, err)
	assert.Equal(t, 2, settings.Agent.Configuration.MaxCyclesPerTask)
}

func TestLoadConfigFallsBackOnlyForDefaultPath(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := loadConfig(config.DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)

	_, err = loadConfig("missing.yaml")
	require.Error(t, err)
}
