package task

import (
	"context"
	"sync"

	xerrors "AgentStep/internal/errors"
)

// MemoryQueue 使用 channel 模拟消息队列，用于测试与单机部署。
//
// 缓冲区满时 Publish 不阻塞调用方，消息交给后台协程等待投递。处理器的工作协程会
// 向同一队列重新发布任务，阻塞发布会在缓冲区写满后让所有工作协程互相等待。
type MemoryQueue struct {
	ch       chan string
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	overflow sync.WaitGroup
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- taskID:
		return nil
	default:
	}
	q.overflow.Add(1)
	go func() {
		defer q.overflow.Done()
		select {
		case q.ch <- taskID:
		case <-q.done:
		}
	}()
	return nil
}

// Consume 启动指定数量的工作协程消费队列中的任务。处理失败的消息被丢弃。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler MessageHandler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case taskID := <-q.ch:
					_ = handler(ctx, taskID)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列，等待中的溢出消息被丢弃。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.done)
		q.closed = true
	}
	q.mu.Unlock()
	q.overflow.Wait()
	return nil
}
