package agent

import (
	"fmt"
	"strings"
)

// DescribeNameAndGoals 生成名称与目标的可读描述，用于引导阶段的进度提示。
func DescribeNameAndGoals(ng NameAndGoals) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent Name: %s\n", ng.AgentName)
	fmt.Fprintf(&b, "Agent Role: %s\n", ng.AgentRole)
	b.WriteString("Agent Goals:\n")
	for i, goal := range ng.AgentGoals {
		fmt.Fprintf(&b, "%d. %s\n", i+1, goal)
	}
	return b.String()
}

// DescribePlan 生成计划的可读描述。
func DescribePlan(plan Plan) string {
	var b strings.Builder
	b.WriteString("Agent Plan:\n")
	for i, task := range plan.Tasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, task.Objective)
		fmt.Fprintf(&b, "   Type: %s\n", task.Type)
		fmt.Fprintf(&b, "   Priority: %d\n", task.Priority)
		writeCriteria(&b, "Ready Criteria", task.ReadyCriteria)
		writeCriteria(&b, "Acceptance Criteria", task.AcceptanceCriteria)
	}
	return b.String()
}

func writeCriteria(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "   %s:\n", title)
	for j, item := range items {
		fmt.Fprintf(b, "     %d. %s\n", j+1, item)
	}
}
