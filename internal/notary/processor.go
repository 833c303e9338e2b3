package notary

import (
	"context"
	"log/slog"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/labdata"
	"LabNexus/internal/ledger"
	"LabNexus/internal/observability/alerting"
	"LabNexus/internal/observability/metrics"
	"LabNexus/pkg/logger"
)

const (
	defaultWorkers     = 2
	defaultMaxAttempts = 3
)

// Processor 消费存证任务：读取实验数据，写入账本，回填交易 ID。
// 可重试的失败（网络不可达、确认超时）带着递增的尝试计数重新入队，
// 不可重试的失败或重试耗尽则丢弃并告警。
type Processor struct {
	queue       Queue
	lab         labdata.Store
	ledger      *ledger.Service
	alerts      *alerting.Dispatcher
	workers     int
	maxAttempts int
	log         *slog.Logger
}

// ProcessorOption 配置处理器。
type ProcessorOption func(*Processor)

// WithWorkers 设置消费协程数。
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMaxAttempts 设置单个任务的最大尝试次数。
func WithMaxAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithAlerting 设置终态失败的告警广播器。
func WithAlerting(d *alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerts = d
	}
}

// NewProcessor 创建存证任务处理器。
func NewProcessor(queue Queue, lab labdata.Store, ledgerSvc *ledger.Service, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:       queue,
		lab:         lab,
		ledger:      ledgerSvc,
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		log:         logger.Named("notary"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue 为实验投递一个异步存证任务。
func (p *Processor) Enqueue(ctx context.Context, experimentID string) (string, error) {
	if experimentID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "实验 ID 不能为空")
	}
	// 提前确认实验存在，让调用方立即拿到 NOT_FOUND 而非静默失败。
	if _, err := p.lab.GetExperiment(ctx, experimentID); err != nil {
		return "", err
	}

	job := NewJob(experimentID)
	payload, err := job.Encode()
	if err != nil {
		return "", err
	}
	if err := p.queue.Publish(ctx, payload); err != nil {
		return "", err
	}
	p.log.Info("存证任务已入队", "job_id", job.ID, "experiment_id", experimentID)
	return job.ID, nil
}

// Run 启动消费循环，阻塞到 ctx 取消。
func (p *Processor) Run(ctx context.Context) error {
	return p.queue.Consume(ctx, p.workers, p.handle)
}

// handle 总是返回 nil：重试通过带计数的重新入队实现，
// 避免与队列层的原样重投机制叠加。
func (p *Processor) handle(ctx context.Context, payload string) error {
	job, err := DecodeJob(payload)
	if err != nil {
		p.log.Warn("丢弃无法解析的存证任务", "error", err)
		return nil
	}
	job.Attempts++

	exp, err := p.lab.GetExperiment(ctx, job.ExperimentID)
	if err != nil {
		p.log.Warn("存证任务指向的实验不存在，任务丢弃",
			"job_id", job.ID, "experiment_id", job.ExperimentID)
		return nil
	}

	record, err := p.ledger.Store(ctx, exp.ID, exp.ProvenanceView(), map[string]any{
		"title":  exp.Title,
		"status": string(exp.Status),
		"job_id": job.ID,
	})
	if err != nil {
		p.retryOrDrop(ctx, job, err)
		return nil
	}

	exp.LedgerTxID = record.TxID
	if err := p.lab.UpdateExperiment(ctx, exp); err != nil {
		p.log.Warn("回填账本交易 ID 失败",
			"job_id", job.ID, "experiment_id", exp.ID, "tx_id", record.TxID, "error", err)
	}
	p.log.Info("异步存证完成",
		"job_id", job.ID, "experiment_id", exp.ID,
		"tx_id", record.TxID, "block_height", record.BlockHeight)
	metrics.CountEvent("notary_jobs", "completed")
	return nil
}

func (p *Processor) retryOrDrop(ctx context.Context, job *Job, cause error) {
	if xerrors.RetryableError(cause) && job.Attempts < p.maxAttempts {
		payload, err := job.Encode()
		if err == nil {
			if err := p.queue.Publish(ctx, payload); err == nil {
				p.log.Warn("存证失败，任务重新入队",
					"job_id", job.ID, "experiment_id", job.ExperimentID,
					"attempts", job.Attempts, "error", cause)
				metrics.CountEvent("notary_jobs", "requeued")
				return
			}
		}
	}

	p.log.Error("存证任务最终失败",
		"job_id", job.ID, "experiment_id", job.ExperimentID,
		"attempts", job.Attempts, "error", cause)
	metrics.CountEvent("notary_jobs", "failed")
	if xerrors.ShouldAlert(cause) {
		logger.Audit().Error("notary_job_failed",
			"job_id", job.ID, "experiment_id", job.ExperimentID,
			"attempts", job.Attempts, "code", string(xerrors.CodeOf(cause)))
		event := alerting.FromError(cause)
		event.ExperimentID = job.ExperimentID
		event.JobID = job.ID
		event.Attempts = job.Attempts
		event.MaxAttempts = p.maxAttempts
		if err := p.alerts.Notify(ctx, event); err != nil {
			p.log.Warn("终态失败告警投递不完整", "job_id", job.ID, "error", err)
		}
	}
}
