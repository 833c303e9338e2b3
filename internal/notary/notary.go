// Package notary 提供异步存证流水线：把"将实验写入账本"封装为任务，
// 经由内存、Redis 或 RabbitMQ 队列投递给后台工作协程执行。同步存证
// 走工具路径；批量或对延迟不敏感的存证走这里。
package notary

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "LabNexus/internal/errors"
)

// Job 是一个待执行的存证任务。
type Job struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`
	Attempts     int    `json:"attempts"`
	EnqueuedAt   int64  `json:"enqueued_at"`
}

// NewJob 为指定实验创建存证任务。
func NewJob(experimentID string) *Job {
	return &Job{
		ID:           "notary_" + uuid.NewString(),
		ExperimentID: experimentID,
		EnqueuedAt:   time.Now().Unix(),
	}
}

// Encode 把任务序列化为队列消息。
func (j *Job) Encode() (string, error) {
	encoded, err := json.Marshal(j)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeQueueFailure, err, "序列化存证任务失败")
	}
	return string(encoded), nil
}

// DecodeJob 从队列消息还原任务。
func DecodeJob(payload string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析存证任务失败")
	}
	if job.ExperimentID == "" {
		return nil, xerrors.New(xerrors.CodeQueueFailure, "存证任务缺少实验 ID")
	}
	return &job, nil
}

// Handler 处理一条队列消息（Job 的 JSON 编码）。
type Handler func(ctx context.Context, payload string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, payload string) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
