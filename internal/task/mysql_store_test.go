package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"AgentStep/internal/agent"
	"AgentStep/internal/testutil/sqlmock"
)

func taskRow(id string, status Status, version int64, state string, output any) []driver.Value {
	return []driver.Value{
		id,
		"write a haiku",
		`{"workspace":{"configuration":{"root":"/ws/1"}}}`,
		"/ws/1",
		"PoetGPT",
		`{"task_list":[{"objective":"write haiku","type":"write","priority":1}]}`,
		state,
		string(status),
		int64(1),
		nil,
		"",
		output,
		version,
		int64(1700000000),
		int64(1700000100),
	}
}

var taskRowColumns = []string{
	"id", "objective", "user_configuration", "workspace_root", "agent_name", "plan", "state", "status",
	"steps", "last_error", "error_code", "output", "version", "created_at", "updated_at",
}

func fixedClock() time.Time { return time.Unix(1700000200, 0) }

func TestMySQLStoreCreateAndGet(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Exec("", sqlmock.Result{Affected: 1}),
		sqlmock.Query("SELECT "+taskColumns+" FROM agent_tasks WHERE id = ?", sqlmock.Rows{
			Columns: taskRowColumns,
			Values:  [][]driver.Value{taskRow("t1", StatusRunning, 2, `{"phase":"stepping","step_count":1}`, nil)},
		}),
	)
	store := NewMySQLStore(db)
	store.now = fixedClock
	ctx := context.Background()

	task := &Task{ID: "t1", Objective: "write a haiku", State: NewContinuationState(), Status: StatusCreated}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Version != 1 || task.CreatedAt != fixedClock().Unix() {
		t.Fatalf("unexpected task metadata: %+v", task)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State.Phase != PhaseStepping || got.State.StepCount != 1 {
		t.Fatalf("unexpected state: %+v", got.State)
	}
	if len(got.Plan.Tasks) != 1 || got.Plan.Tasks[0].Type != agent.TaskTypeWrite {
		t.Fatalf("unexpected plan: %+v", got.Plan)
	}
	if got.Version != 2 || got.Status != StatusRunning || got.Output != nil {
		t.Fatalf("unexpected task: %+v", got)
	}
	if root := agent.ParseUserConfiguration(got.UserConfiguration).WorkspaceRoot(); root != "/ws/1" {
		t.Fatalf("unexpected user configuration root %q", root)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Exec("", sqlmock.Result{}).WithError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	store := NewMySQLStore(db)

	if err := store.Create(context.Background(), &Task{ID: "t1"}); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreGetNotFound(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Query("", sqlmock.Rows{Columns: taskRowColumns}),
	)
	store := NewMySQLStore(db)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreSave(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Exec("", sqlmock.Result{Affected: 1}),
		// 版本不一致：更新零行，任务仍存在。
		sqlmock.Exec("", sqlmock.Result{Affected: 0}),
		sqlmock.Query("", sqlmock.Rows{
			Columns: taskRowColumns,
			Values:  [][]driver.Value{taskRow("t1", StatusRunning, 3, `{"phase":"stepping"}`, nil)},
		}),
		// 任务不存在。
		sqlmock.Exec("", sqlmock.Result{Affected: 0}),
		sqlmock.Query("", sqlmock.Rows{Columns: taskRowColumns}),
	)
	store := NewMySQLStore(db)
	store.now = fixedClock
	ctx := context.Background()

	task := &Task{ID: "t1", Status: StatusCompleted, Version: 2, Output: map[string]any{"response": "done"}}
	if err := store.Save(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	if task.Version != 3 || task.UpdatedAt != fixedClock().Unix() {
		t.Fatalf("expected version bump, got %+v", task)
	}

	stale := &Task{ID: "t1", Version: 2}
	if err := store.Save(ctx, stale); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.Save(ctx, &Task{ID: "missing", Version: 1}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreSaveStep(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Begin(),
		sqlmock.Exec("", sqlmock.Result{Affected: 1}),
		sqlmock.Exec("INSERT INTO agent_steps (id, task_id, sequence, input, confirmation, output, is_last, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", sqlmock.Result{Affected: 1}),
		sqlmock.Commit(),
		// 版本不一致：回滚后确认任务仍存在。
		sqlmock.Begin(),
		sqlmock.Exec("", sqlmock.Result{Affected: 0}),
		sqlmock.Rollback(),
		sqlmock.Query("", sqlmock.Rows{
			Columns: taskRowColumns,
			Values:  [][]driver.Value{taskRow("t1", StatusRunning, 4, `{"phase":"stepping"}`, nil)},
		}),
		// 步骤写入失败时任务更新一并回滚。
		sqlmock.Begin(),
		sqlmock.Exec("", sqlmock.Result{Affected: 1}),
		sqlmock.Exec("", sqlmock.Result{}).WithError(errors.New("connection reset")),
		sqlmock.Rollback(),
		sqlmock.Query("", sqlmock.Rows{
			Columns: taskRowColumns,
			Values:  [][]driver.Value{taskRow("t1", StatusCompleted, 3, `{"phase":"done"}`, `{"response":"done"}`)},
		}),
		sqlmock.Query("", sqlmock.Rows{
			Columns: []string{"id", "task_id", "sequence", "input", "confirmation", "output", "is_last", "created_at"},
			Values: [][]driver.Value{
				{"s1", "t1", int64(1), nil, "", `{"result":null}`, false, int64(1700000100)},
				{"s2", "t1", int64(2), `"go on"`, "y", `{"response":"done"}`, true, int64(1700000150)},
			},
		}),
	)
	store := NewMySQLStore(db)
	store.now = fixedClock
	ctx := context.Background()

	task := &Task{ID: "t1", Status: StatusCompleted, Steps: 2, Version: 2}
	step := &Step{ID: "s2", TaskID: "t1", Sequence: 2, Input: "go on", IsLast: true}
	if err := store.SaveStep(ctx, task, step); err != nil {
		t.Fatalf("save step: %v", err)
	}
	if task.Version != 3 || step.CreatedAt != fixedClock().Unix() {
		t.Fatalf("unexpected metadata: %+v %+v", task, step)
	}

	stale := &Task{ID: "t1", Steps: 3, Version: 2}
	if err := store.SaveStep(ctx, stale, &Step{ID: "s3", TaskID: "t1", Sequence: 3}); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	next := &Task{ID: "t1", Steps: 3, Version: 3}
	err := store.SaveStep(ctx, next, &Step{ID: "s3", TaskID: "t1", Sequence: 3})
	if err == nil || next.Version != 3 {
		t.Fatalf("expected failed save without version bump, got %v %+v", err, next)
	}

	steps, err := store.ListSteps(ctx, "t1")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Input != nil || !steps[1].IsLast || steps[1].Input != "go on" {
		t.Fatalf("unexpected steps: %+v %+v", steps[0], steps[1])
	}
	if steps[1].Confirmation != agent.ConfirmationApprove || steps[1].Output["response"] != "done" {
		t.Fatalf("unexpected step payload: %+v", steps[1])
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreListAndStats(t *testing.T) {
	db, drv := sqlmock.Open(t,
		sqlmock.Query(
			"SELECT "+taskColumns+" FROM agent_tasks WHERE status IN (?) AND (objective LIKE ? OR agent_name LIKE ? OR last_error LIKE ?)"+
				" ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT ? OFFSET ?",
			sqlmock.Rows{
				Columns: taskRowColumns,
				Values:  [][]driver.Value{taskRow("t1", StatusFailed, 2, `{"phase":"stepping"}`, nil)},
			}),
		sqlmock.Query("", sqlmock.Rows{
			Columns: []string{"total", "created", "running", "completed", "failed", "steps", "oldest", "newest"},
			Values:  [][]driver.Value{{int64(4), int64(1), int64(1), int64(1), int64(1), int64(9), int64(100), int64(200)}},
		}),
	)
	store := NewMySQLStore(db)
	ctx := context.Background()

	tasks, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed), WithQuery("haiku")))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != StatusFailed {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Steps != 9 || stats.OldestUpdatedAt != 100 || stats.NewestUpdatedAt != 200 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	drv.AssertConsumed(t)
}

func TestBuildFilterClause(t *testing.T) {
	opts := BuildListOptions(WithOutputPresence(false), WithUpdatedSince(time.Unix(10, 0)))
	clause, args := buildFilterClause(opts)
	want := "updated_at >= ? AND (output IS NULL OR output = '' OR output = '{}')"
	if clause != want {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 1 || args[0] != int64(10) {
		t.Fatalf("unexpected args: %+v", args)
	}
}
