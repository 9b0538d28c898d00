package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
)

func TestBootstrapNewAgentCallsCapabilitiesInOrder(t *testing.T) {
	factory := newStubFactory()
	var stages []ProgressStage
	b := NewBootstrapper(factory, WithProgress(func(stage ProgressStage, _ string) {
		stages = append(stages, stage)
	}))

	boot, err := b.Bootstrap(context.Background(), TaskRequest{UserObjective: "write a haiku"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"compile_settings",
		"determine_name_and_goals",
		"update_name_and_goals",
		"provision_agent",
		"from_workspace",
		"build_initial_plan",
	}, factory.log.snapshot())
	assert.True(t, boot.Provisioned)
	assert.Equal(t, "/workspaces/poetgpt-1234", boot.WorkspaceRoot)
	assert.Equal(t, []string{"/workspaces/poetgpt-1234"}, factory.loadedRoots)
	require.NotNil(t, boot.NameAndGoals)
	assert.Equal(t, "PoetGPT", boot.NameAndGoals.AgentName)
	assert.Equal(t, "PoetGPT", factory.updated.Agent.Configuration.Name)
	assert.Len(t, boot.Plan.Tasks, 1)
	assert.Equal(t, []ProgressStage{StageSettingsDerived, StageAgentProvisioned, StageAgentLoaded, StagePlanBuilt}, stages)
}

func TestBootstrapResumeSkipsProvisioning(t *testing.T) {
	factory := newStubFactory()
	b := NewBootstrapper(factory)

	boot, err := b.Bootstrap(context.Background(), TaskRequest{
		UserObjective: "continue",
		UserConfiguration: map[string]any{
			"workspace": map[string]any{"configuration": map[string]any{"root": "/ws/a"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"from_workspace", "build_initial_plan"}, factory.log.snapshot())
	assert.False(t, boot.Provisioned)
	assert.Nil(t, boot.NameAndGoals)
	assert.Equal(t, "/ws/a", boot.WorkspaceRoot)
	assert.Equal(t, []string{"/ws/a"}, factory.loadedRoots)
}

func TestBootstrapTreatsEmptyRootAsNewAgent(t *testing.T) {
	cases := map[string]map[string]any{
		"nil configuration":      nil,
		"configuration is empty": {},
		"workspace not a map":    {"workspace": "oops"},
		"root is empty":          {"workspace": map[string]any{"configuration": map[string]any{"root": ""}}},
		"root is blank":          {"workspace": map[string]any{"configuration": map[string]any{"root": "  \t"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			factory := newStubFactory()
			boot, err := NewBootstrapper(factory).Bootstrap(context.Background(), TaskRequest{
				UserObjective:     "write a haiku",
				UserConfiguration: cfg,
			})
			require.NoError(t, err)
			assert.True(t, boot.Provisioned)
			assert.Equal(t, 1, factory.log.count("provision_agent"))
		})
	}
}

func TestBootstrapMissingObjectiveMakesNoCalls(t *testing.T) {
	factory := newStubFactory()
	_, err := NewBootstrapper(factory).Bootstrap(context.Background(), TaskRequest{})

	require.ErrorIs(t, err, ErrMissingObjective)
	assert.Equal(t, CodeMissingObjective, xerrors.CodeOf(err))
	assert.Empty(t, factory.log.snapshot())
}

func TestBootstrapPropagatesCapabilityErrors(t *testing.T) {
	boom := errors.New("llm unavailable")

	factory := newStubFactory()
	factory.determineErr = boom
	_, err := NewBootstrapper(factory).Bootstrap(context.Background(), TaskRequest{UserObjective: "x"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"compile_settings", "determine_name_and_goals"}, factory.log.snapshot())

	factory = newStubFactory()
	factory.agent.planErr = boom
	_, err = NewBootstrapper(factory).Bootstrap(context.Background(), TaskRequest{UserObjective: "x"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, factory.log.count("provision_agent"))
}

func TestBootstrapRejectsEmptyProvisionedRoot(t *testing.T) {
	factory := newStubFactory()
	factory.provisionRoot = ""
	_, err := NewBootstrapper(factory).Bootstrap(context.Background(), TaskRequest{UserObjective: "x"})

	assert.Equal(t, agent.CodeWorkspaceInvalid, xerrors.CodeOf(err))
	assert.Zero(t, factory.log.count("from_workspace"))
}

func TestBootstrapWithoutFactory(t *testing.T) {
	_, err := NewBootstrapper(nil).Bootstrap(context.Background(), TaskRequest{UserObjective: "x"})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}
