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

func newTestService(t *testing.T, factory *stubFactory, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, factory, opts...)
	require.NoError(t, err)
	return svc, store
}

func TestServiceRunsTaskToCompletion(t *testing.T) {
	factory := newStubFactory()
	factory.agent.determinations = []agent.Determination{
		continueWith("write haiku", "write_file"),
		agent.Terminal(map[string]any{"response": "done"}),
	}
	observer := &recordingObserver{}
	svc, _ := newTestService(t, factory, WithObserver(observer))
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, TaskRequest{UserObjective: "write a haiku"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusCreated, created.Status)
	assert.Equal(t, "PoetGPT", created.AgentName)
	assert.Equal(t, PhaseFirstCall, created.State.Phase)

	first, err := svc.ExecuteStep(ctx, created.ID, StepInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sequence)
	assert.False(t, first.IsLast)

	task, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, PhaseStepping, task.State.Phase)

	last, err := svc.ExecuteStep(ctx, created.ID, StepInput{Input: "go on"})
	require.NoError(t, err)
	assert.True(t, last.IsLast)
	assert.Equal(t, "go on", last.Input)

	task, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, map[string]any{"response": "done"}, task.Output)
	assert.Equal(t, 2, task.Steps)

	_, err = svc.ExecuteStep(ctx, created.ID, StepInput{})
	assert.ErrorIs(t, err, ErrTaskFinished)

	steps, err := svc.ListSteps(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.NotEqual(t, steps[0].ID, steps[1].ID)

	assert.Equal(t, []string{PathNew}, observer.created)
	assert.Equal(t, []string{OutcomeContinue, OutcomeTerminal}, observer.outcomes)
	assert.Equal(t, 1, factory.log.count("from_workspace"))
}

func TestServiceFailureKeepsStateForRetry(t *testing.T) {
	factory := newStubFactory()
	factory.agent.determinations = []agent.Determination{
		continueWith("write haiku", "write_file"),
		agent.Terminal(map[string]any{"response": "done"}),
	}
	observer := &recordingObserver{}
	svc, _ := newTestService(t, factory, WithObserver(observer))
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, TaskRequest{UserObjective: "write a haiku"})
	require.NoError(t, err)
	_, err = svc.ExecuteStep(ctx, created.ID, StepInput{})
	require.NoError(t, err)

	factory.agent.executeErr = errors.New("disk full")
	_, err = svc.ExecuteStep(ctx, created.ID, StepInput{})
	require.Error(t, err)
	assert.Equal(t, CodeCapabilityFailure, xerrors.CodeOf(err))

	failed, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, string(CodeCapabilityFailure), failed.ErrorCode)
	assert.Contains(t, failed.LastError, "disk full")
	assert.Equal(t, PhaseStepping, failed.State.Phase)
	assert.Equal(t, 1, failed.Steps)

	// 失败后缓存被清空，重试时重新加载智能体。
	factory.agent.executeErr = nil
	step, err := svc.ExecuteStep(ctx, created.ID, StepInput{})
	require.NoError(t, err)
	assert.True(t, step.IsLast)
	assert.Equal(t, 2, step.Sequence)
	assert.Equal(t, 2, factory.log.count("from_workspace"))

	done, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Empty(t, done.ErrorCode)

	assert.Equal(t, []string{string(CodeCapabilityFailure)}, observer.failures)
	assert.Equal(t, []string{OutcomeContinue, OutcomeError, OutcomeTerminal}, observer.outcomes)
}

func TestServiceKeepsCodedAndContextErrors(t *testing.T) {
	factory := newStubFactory()
	factory.agent.determineErr = context.DeadlineExceeded
	svc, _ := newTestService(t, factory)
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, TaskRequest{UserObjective: "x"})
	require.NoError(t, err)

	_, err = svc.ExecuteStep(ctx, created.ID, StepInput{})
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	factory.agent.determineErr = xerrors.New(agent.CodeUnknownAbility, "no such ability")
	_, err = svc.ExecuteStep(ctx, created.ID, StepInput{})
	assert.Equal(t, agent.CodeUnknownAbility, xerrors.CodeOf(err))
}

func TestServiceCreateTaskErrors(t *testing.T) {
	factory := newStubFactory()
	observer := &recordingObserver{}
	svc, store := newTestService(t, factory, WithObserver(observer))
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, TaskRequest{UserObjective: ""})
	assert.ErrorIs(t, err, ErrMissingObjective)
	assert.Empty(t, factory.log.snapshot())

	factory.provisionErr = errors.New("permission denied")
	_, err = svc.CreateTask(ctx, TaskRequest{UserObjective: "x"})
	assert.Equal(t, CodeCapabilityFailure, xerrors.CodeOf(err))
	assert.Equal(t, []string{string(CodeCapabilityFailure)}, observer.failures)

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestServiceResumePath(t *testing.T) {
	factory := newStubFactory()
	observer := &recordingObserver{}
	svc, _ := newTestService(t, factory, WithObserver(observer))

	created, err := svc.CreateTask(context.Background(), TaskRequest{
		UserObjective: "resume",
		UserConfiguration: map[string]any{
			"workspace": map[string]any{"configuration": map[string]any{"root": "/ws/existing"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/ws/existing", created.WorkspaceRoot)
	assert.Empty(t, created.AgentName)
	assert.Equal(t, []string{PathResume}, observer.created)
	assert.Zero(t, factory.log.count("provision_agent"))
}

func TestServiceUnknownTask(t *testing.T) {
	svc, _ := newTestService(t, newStubFactory(), WithProducer(NewMemoryQueue(1)))
	ctx := context.Background()

	_, err := svc.ExecuteStep(ctx, "missing", StepInput{})
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, svc.Enqueue(ctx, "missing"), ErrTaskNotFound)
}

func TestServiceEnqueue(t *testing.T) {
	queue := NewMemoryQueue(4)
	factory := newStubFactory()
	svc, _ := newTestService(t, factory, WithProducer(queue))
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, TaskRequest{UserObjective: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Enqueue(ctx, created.ID))
	assert.Equal(t, created.ID, <-queue.ch)

	_, err = svc.ExecuteStep(ctx, created.ID, StepInput{})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Enqueue(ctx, created.ID), ErrTaskFinished)

	require.NoError(t, queue.Close())
	other, err := svc.CreateTask(ctx, TaskRequest{UserObjective: "y"})
	require.NoError(t, err)
	assert.Equal(t, CodeTaskPublish, xerrors.CodeOf(svc.Enqueue(ctx, other.ID)))

	noQueue, _ := newTestService(t, newStubFactory())
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(noQueue.Enqueue(ctx, created.ID)))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, newStubFactory())
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
	_, err = NewService(NewMemoryStore(), nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestServiceLockReleased(t *testing.T) {
	svc, _ := newTestService(t, newStubFactory())
	unlock := svc.lockTask("t1")
	unlock()

	svc.locksMu.Lock()
	defer svc.locksMu.Unlock()
	assert.Empty(t, svc.locks)
}
