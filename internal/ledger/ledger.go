package ledger

import (
	"context"
	"math/big"
)

// PayloadType 与 PayloadVersion 标识交易数据段中存证负载的格式。
const (
	PayloadType    = "lab_experiment"
	PayloadVersion = "1.0"
)

// Payload 是嵌入账本交易数据段的存证负载。
type Payload struct {
	Type         string         `json:"type"`
	Version      string         `json:"version"`
	ExperimentID string         `json:"id"`
	Hash         string         `json:"hash"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata"`
}

// ProvenanceRecord 是一次成功存证的结果。创建后不再修改；
// 账本是唯一可信来源，本地缓存仅作参考。
type ProvenanceRecord struct {
	ExperimentID string         `json:"experiment_id"`
	DataHash     string         `json:"canonical_data_hash"`
	TxID         string         `json:"ledger_tx_id"`
	BlockHeight  uint64         `json:"block_height"`
	NetworkID    string         `json:"network_id"`
	Sequence     uint64         `json:"sequence"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

// Transaction 是从账本取回的交易视图。BlockHeight 为 0 表示尚未确认。
type Transaction struct {
	TxID        string
	BlockHeight uint64
	Payload     *Payload
	Raw         []byte
}

// Verdict 是完整性校验的结论。
type Verdict string

const (
	VerdictMatch    Verdict = "MATCH"
	VerdictMismatch Verdict = "MISMATCH"
)

// Client defines the ledger access capability the provenance service is
// built on. Two implementations exist behind this contract: the Neo X
// EVM client and an in-memory substitute for development; callers are
// implementation-agnostic.
type Client interface {
	// NetworkID identifies the chain, e.g. "neox-testnet" or "mock".
	NetworkID() string
	// Account returns the signing account address.
	Account() string
	// ConnectionStatus reports whether the ledger network is reachable.
	ConnectionStatus(ctx context.Context) bool
	// GetBalance returns the spendable balance of the given account.
	GetBalance(ctx context.Context, account string) (*big.Int, error)
	// PendingSequence returns the sequence number the next submission
	// from the account must carry.
	PendingSequence(ctx context.Context, account string) (uint64, error)
	// EstimateStoreCost returns the cost of one store transaction.
	EstimateStoreCost(ctx context.Context) (*big.Int, error)
	// Submit signs and broadcasts a transaction embedding payload at the
	// given sequence number and returns the transaction id.
	Submit(ctx context.Context, sequence uint64, payload []byte) (string, error)
	// GetTransaction fetches a transaction by id, decoding its payload.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	Close()
}
