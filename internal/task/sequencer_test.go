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

func TestAdvanceFirstCallDoesNotExecute(t *testing.T) {
	log := &callLog{}
	ag := &stubAgent{log: log, determinations: []agent.Determination{continueWith("write haiku", "write_file")}}

	result, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)

	assert.Equal(t, []string{"determine_next_ability"}, log.snapshot())
	assert.False(t, result.IsLast)
	assert.Contains(t, result.Output, OutputResult)
	assert.Nil(t, result.Output[OutputResult])
	assert.Equal(t, "write haiku", result.Output[OutputCurrentTask].(agent.PlannedTask).Objective)
	assert.Equal(t, "write_file", result.Output[OutputNextAbility].(agent.AbilityCall).Name)
	assert.Equal(t, PhaseStepping, state.Phase)
	require.NotNil(t, state.CurrentTask)
	assert.Equal(t, "write_file", state.NextAbility.Name)
	assert.Equal(t, 1, state.StepCount)
}

func TestAdvanceExecutesQueuedAbilityBeforeDetermining(t *testing.T) {
	log := &callLog{}
	ag := &stubAgent{log: log, determinations: []agent.Determination{
		continueWith("write haiku", "write_file"),
		continueWith("review haiku", "read_file"),
	}}

	_, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)
	result, state, err := Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.NoError(t, err)

	assert.Equal(t, []string{"determine_next_ability", "execute_next_ability", "determine_next_ability"}, log.snapshot())
	executed, ok := result.Output[OutputResult].(agent.AbilityResult)
	require.True(t, ok)
	assert.Equal(t, "executed #1", executed.Message)
	assert.Equal(t, "read_file", state.NextAbility.Name)
	assert.Equal(t, []agent.Confirmation{agent.ConfirmationApprove}, ag.confirmations)
}

func TestAdvanceTerminalOnFirstCall(t *testing.T) {
	log := &callLog{}
	summary := map[string]any{"response": "I don't have any tasks to work on right now."}
	ag := &stubAgent{log: log, determinations: []agent.Determination{agent.Terminal(summary)}}

	result, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)

	assert.True(t, result.IsLast)
	assert.Equal(t, summary, result.Output)
	assert.Equal(t, PhaseDone, state.Phase)
	assert.Zero(t, log.count("execute_next_ability"))
}

func TestAdvanceTerminalDiscardsExecutedResult(t *testing.T) {
	log := &callLog{}
	ag := &stubAgent{log: log, determinations: []agent.Determination{
		continueWith("write haiku", "write_file"),
		agent.Terminal(map[string]any{"response": "all done"}),
	}}

	_, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)
	result, state, err := Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.NoError(t, err)

	assert.True(t, result.IsLast)
	assert.Equal(t, map[string]any{"response": "all done"}, result.Output)
	assert.NotContains(t, result.Output, OutputResult)
	assert.Equal(t, 1, log.count("execute_next_ability"))
	assert.Equal(t, PhaseDone, state.Phase)
}

func TestAdvanceAfterTerminalIsRejected(t *testing.T) {
	log := &callLog{}
	ag := &stubAgent{log: log}
	state := ContinuationState{Phase: PhaseDone, StepCount: 2}

	_, next, err := Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.ErrorIs(t, err, ErrTaskFinished)
	assert.Equal(t, state, next)
	assert.Empty(t, log.snapshot())
}

func TestAdvanceFailureKeepsState(t *testing.T) {
	boom := errors.New("ability crashed")
	log := &callLog{}
	ag := &stubAgent{log: log, determinations: []agent.Determination{continueWith("write haiku", "write_file")}}

	_, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)

	ag.executeErr = boom
	_, after, err := Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, state, after)
	assert.Equal(t, 1, log.count("determine_next_ability"))

	ag.executeErr = nil
	ag.determineErr = boom
	_, after, err = Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, state, after)
}

type pendingAgent struct {
	*stubAgent
	pending bool
}

func (a *pendingAgent) HasPendingAbility() bool { return a.pending }

func TestAdvanceSkipsExecutionWhenNothingPending(t *testing.T) {
	log := &callLog{}
	ag := &pendingAgent{stubAgent: &stubAgent{log: log, determinations: []agent.Determination{
		continueWith("write haiku", "write_file"),
		continueWith("review haiku", "read_file"),
	}}}

	_, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)

	result, state, err := Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, log.count("execute_next_ability"))
	assert.Nil(t, result.Output[OutputResult])
	assert.Equal(t, "read_file", state.NextAbility.Name)
	assert.Equal(t, 2, state.StepCount)

	ag.pending = true
	ag.determinations = []agent.Determination{agent.Terminal(map[string]any{"response": "done"})}
	_, _, err = Advance(context.Background(), ag, agent.Plan{}, state, StepInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, log.count("execute_next_ability"))
}

func TestAdvancePassesConfirmation(t *testing.T) {
	log := &callLog{}
	ag := &stubAgent{log: log, determinations: []agent.Determination{
		continueWith("write haiku", "write_file"),
		continueWith("write haiku", "write_file"),
	}}

	_, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	require.NoError(t, err)
	result, _, err := Advance(context.Background(), ag, agent.Plan{}, state, StepInput{Confirmation: agent.ConfirmationDeny})
	require.NoError(t, err)

	assert.Equal(t, []agent.Confirmation{agent.ConfirmationDeny}, ag.confirmations)
	assert.False(t, result.Output[OutputResult].(agent.AbilityResult).Success)
}

func TestAdvanceRejectsMalformedDetermination(t *testing.T) {
	ag := &stubAgent{log: &callLog{}, determinations: []agent.Determination{{Kind: agent.DeterminationContinue}}}

	_, state, err := Advance(context.Background(), ag, agent.Plan{}, NewContinuationState(), StepInput{})
	assert.Equal(t, agent.CodeInvalidDetermination, xerrors.CodeOf(err))
	assert.Equal(t, PhaseFirstCall, state.Phase)
}

func TestContinuationStateCloneIsDeep(t *testing.T) {
	task := agent.PlannedTask{Objective: "a", ReadyCriteria: []string{"x"}}
	ability := agent.AbilityCall{Name: "write_file", Arguments: map[string]any{"k": "v"}}
	state := ContinuationState{Phase: PhaseStepping, CurrentTask: &task, NextAbility: &ability}

	clone := state.Clone()
	clone.CurrentTask.ReadyCriteria[0] = "changed"
	clone.NextAbility.Arguments["k"] = "changed"

	assert.Equal(t, "x", state.CurrentTask.ReadyCriteria[0])
	assert.Equal(t, "v", state.NextAbility.Arguments["k"])
}
