package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentStep/internal/errors"
)

// RedisStore 将任务以 JSON 形式保存在 Redis 中，并用有序集合维护索引。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore 基于共享客户端创建存储。
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agentstep"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) taskKey(id string) string  { return s.prefix + ":task:" + id }
func (s *RedisStore) stepsKey(id string) string { return s.prefix + ":steps:" + id }
func (s *RedisStore) indexKey() string          { return s.prefix + ":tasks" }

// Create 使用 SETNX 保证任务 ID 唯一。
func (s *RedisStore) Create(ctx context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	now := s.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.Version = 1

	payload, err := json.Marshal(task)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务失败")
	}
	ok, err := s.client.SetNX(ctx, s.taskKey(task.ID), payload, 0).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	if !ok {
		return ErrTaskConflict
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(task.UpdatedAt), Member: task.ID}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务索引失败")
	}
	return nil
}

// Get 读取任务。
func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	return s.load(ctx, s.client, id)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, getter redisGetter, id string) (*Task, error) {
	payload, err := getter.Get(ctx, s.taskKey(id)).Bytes()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
	}
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务失败")
	}
	return &task, nil
}

// Save 通过 WATCH 事务实现版本校验。
func (s *RedisStore) Save(ctx context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	return s.save(ctx, task, nil)
}

// SaveStep 在同一个 MULTI 中写入任务并追加步骤。
func (s *RedisStore) SaveStep(ctx context.Context, task *Task, step *Step) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if step == nil || step.TaskID != task.ID {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤与任务不匹配")
	}
	if step.CreatedAt == 0 {
		step.CreatedAt = s.now().Unix()
	}
	payload, err := json.Marshal(step)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码步骤失败")
	}
	return s.save(ctx, task, payload)
}

func (s *RedisStore) save(ctx context.Context, task *Task, stepPayload []byte) error {
	key := s.taskKey(task.ID)
	next := task.Clone()
	next.Version = task.Version + 1
	next.UpdatedAt = s.now().Unix()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if current.Version != task.Version {
			return ErrTaskConflict
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务失败")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(next.UpdatedAt), Member: task.ID})
			if stepPayload != nil {
				pipe.RPush(ctx, s.stepsKey(task.ID), stepPayload)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		if stdErrors.Is(err, redis.TxFailedErr) {
			return ErrTaskConflict
		}
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	task.Version = next.Version
	task.UpdatedAt = next.UpdatedAt
	return nil
}

// ListSteps 返回任务的全部步骤。
func (s *RedisStore) ListSteps(ctx context.Context, taskID string) ([]*Step, error) {
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}
	values, err := s.client.LRange(ctx, s.stepsKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取步骤失败")
	}
	steps := make([]*Step, 0, len(values))
	for _, value := range values {
		var step Step
		if err := json.Unmarshal([]byte(value), &step); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤失败")
		}
		steps = append(steps, &step)
	}
	return steps, nil
}

// List 读取索引中的全部任务后在内存中过滤与分页。
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()
	tasks, err := s.loadAll(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sortAndPage(tasks, opts), nil
}

// Stats 汇总符合条件的任务。
func (s *RedisStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()
	tasks, err := s.loadAll(ctx, opts)
	if err != nil {
		return TaskStats{}, err
	}
	stats := TaskStats{}
	for _, task := range tasks {
		stats.add(task)
	}
	return stats, nil
}

func (s *RedisStore) loadAll(ctx context.Context, opts ListOptions) ([]*Task, error) {
	lower, upper := "-inf", "+inf"
	if opts.UpdatedGTE > 0 {
		lower = strconv.FormatInt(opts.UpdatedGTE, 10)
	}
	if opts.UpdatedLTE > 0 {
		upper = strconv.FormatInt(opts.UpdatedLTE, 10)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: lower, Max: upper}).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务索引失败")
	}
	if len(ids) == 0 {
		return []*Task{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取任务失败")
	}
	tasks := make([]*Task, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务失败")
		}
		if !matchesListFilters(&task, opts) {
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// Close 不关闭共享客户端，由创建者负责。
func (s *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
