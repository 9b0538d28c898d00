package simpleagent

import (
	"fmt"
	"strings"

	"AgentStep/internal/agent"
)

const nameAndGoalsSystemPrompt = "" +
	"Your job is to respond to a user-defined task by invoking the `create_agent` function " +
	"to generate an autonomous agent to complete the task. You should supply a role-based name " +
	"for the agent, an informative description for what the agent does, and 1 to 5 goals that " +
	"are optimally aligned with the successful completion of its assigned task.\n" +
	"Respond with a single JSON object: " +
	`{"agent_name": string, "agent_role": string, "agent_goals": [string]}.`

const planningSystemPrompt = "" +
	"You are an expert project planner. Break the agent's goals down into a list of concrete " +
	"tasks that can each be completed with the available abilities. Lower priority numbers run first.\n" +
	"Respond with a single JSON object: " +
	`{"task_list": [{"objective": string, "type": string, "priority": int, ` +
	`"ready_criteria": [string], "acceptance_criteria": [string]}]}. ` +
	"Valid types: research, write, edit, code, design, test, plan."

const abilitySystemPrompt = "" +
	"You are the execution loop of an autonomous agent. Choose exactly one ability that makes " +
	"progress on the current task. Call `finish` once the acceptance criteria are met.\n" +
	"Respond with a single JSON object: " +
	`{"next_ability": string, "ability_arguments": object, "motivation": string}.`

func nameAndGoalsPrompt(objective string) string {
	return fmt.Sprintf("User task: '%s'\nRespond only with the JSON object.", strings.TrimSpace(objective))
}

func planningPrompt(cfg agent.AgentConfiguration, abilities string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent name: %s\n", cfg.Name)
	fmt.Fprintf(&b, "Agent role: %s\n", cfg.Role)
	b.WriteString("Goals:\n")
	for i, goal := range cfg.Goals {
		fmt.Fprintf(&b, "%d. %s\n", i+1, goal)
	}
	b.WriteString("\nAvailable abilities:\n")
	b.WriteString(abilities)
	return b.String()
}

func abilityPrompt(cfg agent.AgentConfiguration, plan agent.Plan, task agent.PlannedTask, abilities string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", cfg.Name, cfg.Role)
	if len(plan.Tasks) > 0 {
		b.WriteString("\nOverall plan:\n")
		for i, planned := range plan.Tasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, planned.Objective)
		}
	}
	fmt.Fprintf(&b, "\nCurrent task: %s (type: %s)\n", task.Objective, task.Type)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, criterion := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", criterion)
		}
	}
	actions := task.Context.PriorActions
	if len(actions) > 5 {
		actions = actions[len(actions)-5:]
	}
	if len(actions) > 0 {
		b.WriteString("\nPrevious actions on this task:\n")
		for _, action := range actions {
			status := "succeeded"
			if !action.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s %s: %s\n", action.AbilityName, status, truncate(action.Message, 200))
		}
	}
	b.WriteString("\nAvailable abilities:\n")
	b.WriteString(abilities)
	return b.String()
}

func truncate(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return string(runes)
}
