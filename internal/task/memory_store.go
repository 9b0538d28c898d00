package task

import (
	"context"
	"sync"
	"time"

	xerrors "AgentStep/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	steps map[string][]*Step
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
		steps: make(map[string][]*Step),
		now:   time.Now,
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.Version = 1
	m.tasks[task.ID] = task.Clone()
	return nil
}

// Get 返回任务的拷贝。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Save 以乐观并发方式覆盖任务。
func (m *MemoryStore) Save(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if current.Version != task.Version {
		return ErrTaskConflict
	}
	task.Version++
	task.UpdatedAt = m.now().Unix()
	m.tasks[task.ID] = task.Clone()
	return nil
}

// SaveStep 在同一把锁内完成版本校验、任务覆盖与步骤追加。
func (m *MemoryStore) SaveStep(_ context.Context, task *Task, step *Step) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if step == nil || step.TaskID != task.ID {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤与任务不匹配")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if current.Version != task.Version {
		return ErrTaskConflict
	}
	now := m.now().Unix()
	if step.CreatedAt == 0 {
		step.CreatedAt = now
	}
	task.Version++
	task.UpdatedAt = now
	m.tasks[task.ID] = task.Clone()
	m.steps[task.ID] = append(m.steps[task.ID], step.Clone())
	return nil
}

// ListSteps 按序返回任务的全部步骤。
func (m *MemoryStore) ListSteps(_ context.Context, taskID string) ([]*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, ErrTaskNotFound
	}
	steps := m.steps[taskID]
	out := make([]*Step, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.Clone())
	}
	return out, nil
}

// List 返回符合条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		results = append(results, task.Clone())
	}
	return sortAndPage(results, opts), nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := TaskStats{}
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		stats.add(task)
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
