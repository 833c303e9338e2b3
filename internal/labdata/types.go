package labdata

import (
	"strings"

	"github.com/google/uuid"
)

// ExperimentStatus 表示实验生命周期状态。
type ExperimentStatus string

const (
	StatusPlanned    ExperimentStatus = "planned"
	StatusInProgress ExperimentStatus = "in_progress"
	StatusCompleted  ExperimentStatus = "completed"
	StatusFailed     ExperimentStatus = "failed"
)

// ValidStatus 判断状态值是否合法。
func ValidStatus(s ExperimentStatus) bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Experiment 是一条实验记录。LedgerTxID 在实验数据上链后回填。
type Experiment struct {
	ID                 string           `json:"id"`
	Title              string           `json:"title"`
	ScientificQuestion string           `json:"scientific_question"`
	Description        string           `json:"description"`
	Status             ExperimentStatus `json:"status"`
	ProtocolID         string           `json:"protocol_id,omitempty"`
	ReagentUsages      []ReagentUsage   `json:"reagent_usages"`
	Tags               []string         `json:"tags"`
	Notes              string           `json:"notes,omitempty"`
	ResultsSummary     string           `json:"results_summary,omitempty"`
	LedgerTxID         string           `json:"ledger_tx_id,omitempty"`
	CreatedAt          string           `json:"created_at"`
	UpdatedAt          string           `json:"updated_at"`
}

// ProvenanceView 返回参与账本摘要计算的字段投影。上链后仍会变化的
// 字段（更新时间、账本交易 ID）被排除，否则事后校验必然失配。
func (e *Experiment) ProvenanceView() map[string]any {
	return map[string]any{
		"id":                  e.ID,
		"title":               e.Title,
		"scientific_question": e.ScientificQuestion,
		"description":         e.Description,
		"protocol_id":         e.ProtocolID,
		"reagent_usages":      e.ReagentUsages,
		"results_summary":     e.ResultsSummary,
		"tags":                e.Tags,
	}
}

// ProtocolStep 是实验方案中的一步。
type ProtocolStep struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Protocol 是一条实验方案记录。SourceType 取值 manual、web、
// literature 或 derived。
type Protocol struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	SourceType      string         `json:"source_type"`
	SourceReference string         `json:"source_reference,omitempty"`
	Steps           []ProtocolStep `json:"steps"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// Reagent 是库存中的一种试剂。同一 vendor + catalog_number 视为同一试剂。
type Reagent struct {
	ID                string         `json:"reagent_id"`
	Name              string         `json:"name"`
	CatalogNumber     string         `json:"catalog_number"`
	Vendor            string         `json:"vendor"`
	StorageConditions string         `json:"storage_conditions"`
	Quantity          float64        `json:"current_quantity"`
	Unit              string         `json:"unit"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
}

// ReagentUsage 记录一次试剂消耗。
type ReagentUsage struct {
	ID           string  `json:"usage_id"`
	ReagentID    string  `json:"reagent_id"`
	ExperimentID string  `json:"experiment_id,omitempty"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	Note         string  `json:"note,omitempty"`
	RecordedAt   string  `json:"recorded_at"`
}

// 记录 ID 带类型前缀，便于在日志和会话状态中一眼识别。
func NewExperimentID() string { return "exp_" + uuidHex(12) }
func NewProtocolID() string   { return "protocol_" + uuidHex(8) }
func NewReagentID() string    { return "rgt_" + uuidHex(8) }
func NewUsageID() string      { return "usage_" + uuidHex(8) }

func uuidHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}
