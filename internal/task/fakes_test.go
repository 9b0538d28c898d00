package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AgentStep/internal/agent"
)

// callLog 记录能力接口的调用顺序。
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(name string) int {
	n := 0
	for _, call := range l.snapshot() {
		if call == name {
			n++
		}
	}
	return n
}

type stubAgent struct {
	log *callLog

	mu             sync.Mutex
	plan           agent.Plan
	planErr        error
	determinations []agent.Determination
	determineErr   error
	executeErr     error
	confirmations  []agent.Confirmation
	executed       int
}

func (a *stubAgent) BuildInitialPlan(context.Context) (agent.Plan, error) {
	a.log.add("build_initial_plan")
	if a.planErr != nil {
		return agent.Plan{}, a.planErr
	}
	return a.plan, nil
}

func (a *stubAgent) DetermineNextAbility(_ context.Context, _ agent.Plan) (agent.Determination, error) {
	a.log.add("determine_next_ability")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.determineErr != nil {
		return agent.Determination{}, a.determineErr
	}
	if len(a.determinations) == 0 {
		return agent.Terminal(map[string]any{"response": "done"}), nil
	}
	next := a.determinations[0]
	a.determinations = a.determinations[1:]
	return next, nil
}

func (a *stubAgent) ExecuteNextAbility(_ context.Context, confirmation agent.Confirmation) (agent.AbilityResult, error) {
	a.log.add("execute_next_ability")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmations = append(a.confirmations, confirmation)
	if a.executeErr != nil {
		return agent.AbilityResult{}, a.executeErr
	}
	a.executed++
	return agent.AbilityResult{
		AbilityName: "write_file",
		Success:     confirmation.Approved(),
		Message:     fmt.Sprintf("executed #%d", a.executed),
	}, nil
}

type stubFactory struct {
	log *callLog

	nameAndGoals  agent.NameAndGoals
	compileErr    error
	determineErr  error
	updateErr     error
	provisionErr  error
	provisionRoot string
	loadErr       error
	agent         *stubAgent

	mu             sync.Mutex
	compiledConfig agent.UserConfiguration
	updated        *agent.AgentSettings
	loadedRoots    []string
}

func newStubFactory() *stubFactory {
	log := &callLog{}
	return &stubFactory{
		log: log,
		nameAndGoals: agent.NameAndGoals{
			AgentName:  "PoetGPT",
			AgentRole:  "writes poems",
			AgentGoals: []string{"write a haiku"},
		},
		provisionRoot: "/workspaces/poetgpt-1234",
		agent: &stubAgent{
			log: log,
			plan: agent.Plan{Tasks: []agent.PlannedTask{
				{Objective: "write haiku", Type: agent.TaskTypeWrite, Priority: 1},
			}},
		},
	}
}

func (f *stubFactory) CompileSettings(_ *slog.Logger, userConfig agent.UserConfiguration) (*agent.AgentSettings, error) {
	f.log.add("compile_settings")
	f.mu.Lock()
	f.compiledConfig = userConfig
	f.mu.Unlock()
	if f.compileErr != nil {
		return nil, f.compileErr
	}
	return &agent.AgentSettings{}, nil
}

func (f *stubFactory) DetermineAgentNameAndGoals(_ context.Context, _ string, _ *agent.AgentSettings, _ *slog.Logger) (agent.NameAndGoals, error) {
	f.log.add("determine_name_and_goals")
	if f.determineErr != nil {
		return agent.NameAndGoals{}, f.determineErr
	}
	return f.nameAndGoals, nil
}

func (f *stubFactory) UpdateAgentNameAndGoals(settings *agent.AgentSettings, ng agent.NameAndGoals) error {
	f.log.add("update_name_and_goals")
	if f.updateErr != nil {
		return f.updateErr
	}
	settings.UpdateAgentNameAndGoals(ng)
	f.mu.Lock()
	f.updated = settings
	f.mu.Unlock()
	return nil
}

func (f *stubFactory) ProvisionAgent(context.Context, *agent.AgentSettings, *slog.Logger) (string, error) {
	f.log.add("provision_agent")
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	return f.provisionRoot, nil
}

func (f *stubFactory) FromWorkspace(_ context.Context, root string, _ *slog.Logger) (agent.Agent, error) {
	f.log.add("from_workspace")
	f.mu.Lock()
	f.loadedRoots = append(f.loadedRoots, root)
	f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.agent, nil
}

func continueWith(objective, ability string) agent.Determination {
	return agent.Continue(
		agent.PlannedTask{Objective: objective, Type: agent.TaskTypeWrite, Priority: 1},
		agent.AbilityCall{Name: ability, Arguments: map[string]any{"filename": "haiku.txt"}},
	)
}

type recordingObserver struct {
	mu       sync.Mutex
	created  []string
	outcomes []string
	failures []string
}

func (o *recordingObserver) TaskCreated(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, path)
}

func (o *recordingObserver) StepCompleted(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) TaskFailed(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, code)
}
