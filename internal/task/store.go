package task

import "context"

// Store 抽象了任务会话与步骤记录的持久化接口。
//
// Save 采用乐观并发：传入任务的 Version 必须与存储中的一致，成功后版本号加一并回写到
// 传入的任务上；不一致时返回 ErrTaskConflict。SaveStep 以同样的版本校验保存任务，
// 并在同一次提交中追加步骤记录，二者要么都生效要么都不生效。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Save(ctx context.Context, task *Task) error
	SaveStep(ctx context.Context, task *Task, step *Step) error
	ListSteps(ctx context.Context, taskID string) ([]*Step, error)
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
