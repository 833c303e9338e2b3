package notary

import (
	"context"
	"sync"

	xerrors "LabNexus/internal/errors"
)

// MemoryQueue 基于 channel 的进程内队列，单机部署与测试使用。
type MemoryQueue struct {
	ch     chan string
	once   sync.Once
	closed chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建内存队列，capacity 为缓冲大小。
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{
		ch:     make(chan string, capacity),
		closed: make(chan struct{}),
	}
}

// Publish 将任务写入缓冲，队列已满时阻塞直至有空位或取消。
func (q *MemoryQueue) Publish(ctx context.Context, payload string) error {
	select {
	case <-q.closed:
		return xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeQueueFailure, ctx.Err(), "投递存证任务被取消")
	case q.ch <- payload:
		return nil
	}
}

// Consume 启动 workerCount 个工作协程消费队列，阻塞到 ctx 取消。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
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
				case <-q.closed:
					return
				case payload := <-q.ch:
					_ = handler(ctx, payload)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列，之后的 Publish 返回错误。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
