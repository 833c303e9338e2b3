package labdata

import (
	"context"

	"LabNexus/internal/ledger"
)

// Store 抽象实验室数据的持久化：实验、方案、试剂与存证记录缓存。
// 存证缓存仅供查询加速，账本才是可信来源。
type Store interface {
	CreateExperiment(ctx context.Context, exp *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	UpdateExperiment(ctx context.Context, exp *Experiment) error
	ListExperiments(ctx context.Context, status ExperimentStatus, limit int) ([]*Experiment, error)

	CreateProtocol(ctx context.Context, p *Protocol) error
	GetProtocol(ctx context.Context, id string) (*Protocol, error)
	UpdateProtocol(ctx context.Context, p *Protocol) error
	SearchProtocols(ctx context.Context, query string, limit int) ([]*Protocol, error)

	UpsertReagent(ctx context.Context, r *Reagent) error
	GetReagent(ctx context.Context, id string) (*Reagent, error)
	ListReagents(ctx context.Context, query string, limit int) ([]*Reagent, error)
	RecordUsage(ctx context.Context, usage *ReagentUsage) error
	ListUsage(ctx context.Context, reagentID string, limit int) ([]*ReagentUsage, error)

	SaveProvenance(ctx context.Context, record *ledger.ProvenanceRecord) error
	GetProvenance(ctx context.Context, experimentID string) (*ledger.ProvenanceRecord, error)

	Close() error
}
