package labdata

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
)

// MemoryStore 是开发与测试用的内存实现。
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	protocols   map[string]*Protocol
	reagents    map[string]*Reagent
	usage       []*ReagentUsage
	provenance  map[string]*ledger.ProvenanceRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*Experiment),
		protocols:   make(map[string]*Protocol),
		reagents:    make(map[string]*Reagent),
		provenance:  make(map[string]*ledger.ProvenanceRecord),
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateExperiment 保存新实验，自动补全 ID、状态与时间戳。
func (m *MemoryStore) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if exp == nil || strings.TrimSpace(exp.Title) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "实验标题不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp.ID == "" {
		exp.ID = NewExperimentID()
	}
	if _, ok := m.experiments[exp.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "实验 ID 已存在",
			xerrors.WithMetadata("experiment_id", exp.ID))
	}
	if exp.Status == "" {
		exp.Status = StatusPlanned
	}
	if exp.ReagentUsages == nil {
		exp.ReagentUsages = []ReagentUsage{}
	}
	if exp.Tags == nil {
		exp.Tags = []string{}
	}
	exp.CreatedAt = nowISO()
	exp.UpdatedAt = exp.CreatedAt

	clone := *exp
	m.experiments[exp.ID] = &clone
	return nil
}

// GetExperiment 按 ID 查询实验。
func (m *MemoryStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.experiments[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "实验不存在",
			xerrors.WithMetadata("experiment_id", id))
	}
	clone := *exp
	return &clone, nil
}

// UpdateExperiment 覆盖已有实验并刷新更新时间。
func (m *MemoryStore) UpdateExperiment(ctx context.Context, exp *Experiment) error {
	if exp == nil || exp.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "实验 ID 不能为空")
	}
	if exp.Status != "" && !ValidStatus(exp.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "实验状态非法",
			xerrors.WithMetadata("status", string(exp.Status)))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.experiments[exp.ID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "实验不存在",
			xerrors.WithMetadata("experiment_id", exp.ID))
	}
	exp.CreatedAt = existing.CreatedAt
	exp.UpdatedAt = nowISO()
	clone := *exp
	m.experiments[exp.ID] = &clone
	return nil
}

// ListExperiments 按创建时间倒序返回实验；status 为空表示不过滤。
func (m *MemoryStore) ListExperiments(ctx context.Context, status ExperimentStatus, limit int) ([]*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Experiment
	for _, exp := range m.experiments {
		if status != "" && exp.Status != status {
			continue
		}
		clone := *exp
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateProtocol 保存新方案。
func (m *MemoryStore) CreateProtocol(ctx context.Context, p *Protocol) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "方案名称不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = NewProtocolID()
	}
	if _, ok := m.protocols[p.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "方案 ID 已存在",
			xerrors.WithMetadata("protocol_id", p.ID))
	}
	if p.SourceType == "" {
		p.SourceType = "manual"
	}
	if p.Steps == nil {
		p.Steps = []ProtocolStep{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt = nowISO()
	p.UpdatedAt = p.CreatedAt

	clone := *p
	m.protocols[p.ID] = &clone
	return nil
}

// GetProtocol 按 ID 查询方案。
func (m *MemoryStore) GetProtocol(ctx context.Context, id string) (*Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.protocols[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "方案不存在",
			xerrors.WithMetadata("protocol_id", id))
	}
	clone := *p
	return &clone, nil
}

// UpdateProtocol 覆盖已有方案并刷新更新时间。
func (m *MemoryStore) UpdateProtocol(ctx context.Context, p *Protocol) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "方案 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.protocols[p.ID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "方案不存在",
			xerrors.WithMetadata("protocol_id", p.ID))
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = nowISO()
	clone := *p
	m.protocols[p.ID] = &clone
	return nil
}

// SearchProtocols 在名称、描述与标签上做大小写不敏感的子串匹配。
func (m *MemoryStore) SearchProtocols(ctx context.Context, query string, limit int) ([]*Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []*Protocol
	for _, p := range m.protocols {
		if needle != "" && !protocolMatches(p, needle) {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func protocolMatches(p *Protocol, needle string) bool {
	if strings.Contains(strings.ToLower(p.Name), needle) ||
		strings.Contains(strings.ToLower(p.Description), needle) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// UpsertReagent 新建试剂；同一 vendor + catalog_number 已存在时累加数量。
func (m *MemoryStore) UpsertReagent(ctx context.Context, r *Reagent) error {
	if r == nil || strings.TrimSpace(r.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "试剂名称不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reagents {
		if existing.Vendor == r.Vendor && existing.CatalogNumber == r.CatalogNumber &&
			r.CatalogNumber != "" {
			existing.Quantity += r.Quantity
			existing.UpdatedAt = nowISO()
			*r = *existing
			return nil
		}
	}

	if r.ID == "" {
		r.ID = NewReagentID()
	}
	r.CreatedAt = nowISO()
	r.UpdatedAt = r.CreatedAt
	clone := *r
	m.reagents[r.ID] = &clone
	return nil
}

// GetReagent 按 ID 查询试剂。
func (m *MemoryStore) GetReagent(ctx context.Context, id string) (*Reagent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reagents[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "试剂不存在",
			xerrors.WithMetadata("reagent_id", id))
	}
	clone := *r
	return &clone, nil
}

// ListReagents 按名称、供应商或货号做子串匹配；query 为空返回全部。
func (m *MemoryStore) ListReagents(ctx context.Context, query string, limit int) ([]*Reagent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []*Reagent
	for _, r := range m.reagents {
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Name), needle) &&
			!strings.Contains(strings.ToLower(r.Vendor), needle) &&
			!strings.Contains(strings.ToLower(r.CatalogNumber), needle) {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordUsage 登记一次试剂消耗并扣减库存。库存可以为负，
// 负值提示实际用量超过了登记入库量。
func (m *MemoryStore) RecordUsage(ctx context.Context, usage *ReagentUsage) error {
	if usage == nil || usage.ReagentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "reagent_id 不能为空")
	}
	if usage.Quantity <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "消耗数量必须为正数")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	reagent, ok := m.reagents[usage.ReagentID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "试剂不存在",
			xerrors.WithMetadata("reagent_id", usage.ReagentID))
	}
	if usage.ID == "" {
		usage.ID = NewUsageID()
	}
	if usage.Unit == "" {
		usage.Unit = reagent.Unit
	}
	usage.RecordedAt = nowISO()

	reagent.Quantity -= usage.Quantity
	reagent.UpdatedAt = usage.RecordedAt

	clone := *usage
	m.usage = append(m.usage, &clone)
	return nil
}

// ListUsage 返回指定试剂的消耗记录，时间倒序；reagentID 为空返回全部。
func (m *MemoryStore) ListUsage(ctx context.Context, reagentID string, limit int) ([]*ReagentUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ReagentUsage
	for i := len(m.usage) - 1; i >= 0; i-- {
		u := m.usage[i]
		if reagentID != "" && u.ReagentID != reagentID {
			continue
		}
		clone := *u
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveProvenance 缓存一条存证记录，按实验 ID 覆盖旧值。
func (m *MemoryStore) SaveProvenance(ctx context.Context, record *ledger.ProvenanceRecord) error {
	if record == nil || record.ExperimentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存证记录缺少实验 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.provenance[record.ExperimentID] = &clone
	return nil
}

// GetProvenance 返回实验的本地存证缓存。
func (m *MemoryStore) GetProvenance(ctx context.Context, experimentID string) (*ledger.ProvenanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.provenance[experimentID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "实验尚无存证记录",
			xerrors.WithMetadata("experiment_id", experimentID))
	}
	clone := *record
	return &clone, nil
}

// Close 实现 Store 接口；内存实现无需释放资源。
func (m *MemoryStore) Close() error { return nil }
