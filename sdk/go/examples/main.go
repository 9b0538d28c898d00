package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"AgentStep/sdk/go/agentstep"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "AgentStep API 地址")
	objective := flag.String("objective", "Write the word 'Washington' to a .txt file", "用户目标")
	maxSteps := flag.Int("max-steps", 20, "最多执行的步数")
	flag.Parse()

	client, err := agentstep.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	task, err := client.CreateTask(ctx, agentstep.TaskRequest{UserObjective: *objective})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("created task %s (agent=%s, workspace=%s)\n", task.TaskID, task.AgentName, task.WorkspaceRoot)
	for i, planned := range task.Plan.Tasks {
		fmt.Printf("  %d. %s [%s]\n", i+1, planned.Objective, planned.Type)
	}

	last, err := client.RunUntilDone(ctx, task.TaskID, *maxSteps)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("task finished after %d steps: %v\n", last.Sequence, last.Output)
}
