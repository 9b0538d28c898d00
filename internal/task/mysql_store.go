package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"AgentStep/internal/agent"
	xerrors "AgentStep/internal/errors"
	storagemysql "AgentStep/internal/storage/mysql"
)

const taskColumns = `id, objective, user_configuration, workspace_root, agent_name, plan, state, status, steps,
        last_error, error_code, output, version, created_at, updated_at`

// MySQLStore 使用 MySQL 记录任务会话与步骤。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenMySQLStore 建立连接、执行迁移并返回存储。
func OpenMySQLStore(ctx context.Context, cfg storagemysql.Config) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 任务存储失败")
	}
	return NewMySQLStore(db), nil
}

// NewMySQLStore 基于已迁移的连接池创建存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := s.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.Version = 1

	cols, err := encodeTaskColumns(task)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO agent_tasks (` + taskColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Objective,
		cols.userConfiguration,
		task.WorkspaceRoot,
		task.AgentName,
		cols.plan,
		cols.state,
		string(task.Status),
		task.Steps,
		task.LastError,
		task.ErrorCode,
		cols.output,
		task.Version,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if storagemysql.IsDuplicateEntry(err) {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	const stmt = `SELECT ` + taskColumns + ` FROM agent_tasks WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Save 在版本号一致时覆盖任务。
func (s *MySQLStore) Save(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	now := s.now().Unix()
	affected, err := s.updateTask(ctx, s.db, task, now)
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, task.ID)
	}
	task.Version++
	task.UpdatedAt = now
	return nil
}

// SaveStep 在一个事务内完成带版本校验的任务更新与步骤插入。
func (s *MySQLStore) SaveStep(ctx context.Context, task *Task, step *Step) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if step == nil || step.TaskID != task.ID {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤与任务不匹配")
	}
	now := s.now().Unix()
	if step.CreatedAt == 0 {
		step.CreatedAt = now
	}
	input, err := marshalJSON(step.Input)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码步骤输入失败")
	}
	output, err := marshalJSON(step.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码步骤输出失败")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	affected, err := s.updateTask(ctx, tx, task, now)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return s.missingOrConflict(ctx, task.ID)
	}

	const stmt = `INSERT INTO agent_steps (id, task_id, sequence, input, confirmation, output, is_last, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, stmt,
		step.ID,
		step.TaskID,
		step.Sequence,
		input,
		string(step.Confirmation),
		output,
		step.IsLast,
		step.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if storagemysql.IsDuplicateEntry(err) {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入步骤失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	task.Version++
	task.UpdatedAt = now
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *MySQLStore) updateTask(ctx context.Context, db execer, task *Task, now int64) (int64, error) {
	cols, err := encodeTaskColumns(task)
	if err != nil {
		return 0, err
	}

	const stmt = `UPDATE agent_tasks SET objective = ?, user_configuration = ?, workspace_root = ?, agent_name = ?,
        plan = ?, state = ?, status = ?, steps = ?, last_error = ?, error_code = ?, output = ?,
        version = version + 1, updated_at = ? WHERE id = ? AND version = ?`

	res, err := db.ExecContext(ctx, stmt,
		task.Objective,
		cols.userConfiguration,
		task.WorkspaceRoot,
		task.AgentName,
		cols.plan,
		cols.state,
		string(task.Status),
		task.Steps,
		task.LastError,
		task.ErrorCode,
		cols.output,
		now,
		task.ID,
		task.Version,
	)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected, nil
}

// missingOrConflict 区分更新零行的两种原因。
func (s *MySQLStore) missingOrConflict(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTaskConflict
}

// ListSteps 按序返回任务的步骤。
func (s *MySQLStore) ListSteps(ctx context.Context, taskID string) ([]*Step, error) {
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}

	const stmt = `SELECT id, task_id, sequence, input, confirmation, output, is_last, created_at
        FROM agent_steps WHERE task_id = ? ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, stmt, taskID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询步骤失败")
	}
	defer rows.Close()

	steps := make([]*Step, 0)
	for rows.Next() {
		var step Step
		var input, output sql.NullString
		var confirmation string
		if err := rows.Scan(&step.ID, &step.TaskID, &step.Sequence, &input, &confirmation, &output, &step.IsLast, &step.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤记录失败")
		}
		step.Confirmation = agent.Confirmation(confirmation)
		if err := unmarshalJSON(input, &step.Input); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤输入失败")
		}
		if err := unmarshalJSON(output, &step.Output); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤输出失败")
		}
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历步骤失败")
	}
	return steps, nil
}

// List 返回符合条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := `SELECT ` + taskColumns + ` FROM agent_tasks`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS created,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(steps), 0) AS steps,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM agent_tasks`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusCreated), string(StatusRunning), string(StatusCompleted), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Created,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Steps,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type encodedTask struct {
	userConfiguration sql.NullString
	plan              sql.NullString
	state             sql.NullString
	output            sql.NullString
}

func encodeTaskColumns(task *Task) (encodedTask, error) {
	var cols encodedTask
	var err error
	if cols.userConfiguration, err = marshalJSON(task.UserConfiguration); err != nil {
		return cols, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码用户配置失败")
	}
	if cols.plan, err = marshalJSON(task.Plan); err != nil {
		return cols, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码计划失败")
	}
	if cols.state, err = marshalJSON(task.State); err != nil {
		return cols, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码续行状态失败")
	}
	if cols.output, err = marshalJSON(task.Output); err != nil {
		return cols, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务输出失败")
	}
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var userConfiguration, plan, state, output, lastError sql.NullString
	var status string
	if err := row.Scan(
		&task.ID,
		&task.Objective,
		&userConfiguration,
		&task.WorkspaceRoot,
		&task.AgentName,
		&plan,
		&state,
		&status,
		&task.Steps,
		&lastError,
		&task.ErrorCode,
		&output,
		&task.Version,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.LastError = lastError.String
	if err := unmarshalJSON(userConfiguration, &task.UserConfiguration); err != nil {
		return nil, fmt.Errorf("解析用户配置失败: %w", err)
	}
	if err := unmarshalJSON(plan, &task.Plan); err != nil {
		return nil, fmt.Errorf("解析计划失败: %w", err)
	}
	if err := unmarshalJSON(state, &task.State); err != nil {
		return nil, fmt.Errorf("解析续行状态失败: %w", err)
	}
	if err := unmarshalJSON(output, &task.Output); err != nil {
		return nil, fmt.Errorf("解析任务输出失败: %w", err)
	}
	return &task, nil
}

func marshalJSON(value any) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(bytes) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalJSON(raw sql.NullString, dest any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasOutput != nil {
		if *opts.HasOutput {
			conditions = append(conditions, "(output IS NOT NULL AND output <> '' AND output <> '{}')")
		} else {
			conditions = append(conditions, "(output IS NULL OR output = '' OR output = '{}')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(objective LIKE ? OR agent_name LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
