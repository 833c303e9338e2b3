package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "LabNexus/internal/errors"
	"LabNexus/pkg/logger"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 2 * time.Second
)

// Service is the provenance write/verify front of the ledger. All store
// submissions from the configured account pass through a single mutex so
// concurrent callers obtain strictly increasing sequence numbers; the
// throughput cost is accepted for a lab workload of a few writes per
// minute.
type Service struct {
	client         Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
	records        RecordSink
	log            *slog.Logger

	// seqMu serializes the reserve-submit window per service instance.
	seqMu   sync.Mutex
	nextSeq uint64
	seqInit bool
}

// RecordSink receives successful provenance records for advisory local
// caching. The ledger stays the source of truth; sink failures are
// logged and never fail the store.
type RecordSink interface {
	SaveProvenance(ctx context.Context, record *ProvenanceRecord) error
}

// Option configures the service.
type Option func(*Service)

// WithConfirmTimeout sets how long Store waits for block inclusion.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRecordSink attaches an advisory local cache for records.
func WithRecordSink(sink RecordSink) Option {
	return func(s *Service) {
		s.records = sink
	}
}

// NewService creates a provenance service on top of a ledger client.
func NewService(client Client, opts ...Option) *Service {
	s := &Service{
		client:         client,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
		log:            logger.Named("ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeHash exposes canonical hashing on the service for callers that
// hold a service handle.
func (s *Service) ComputeHash(data any) (string, error) {
	return ComputeHash(data)
}

// NetworkID reports the backing chain identifier.
func (s *Service) NetworkID() string {
	return s.client.NetworkID()
}

// Status describes the ledger connection for diagnostics.
type Status struct {
	Connected bool   `json:"connected"`
	NetworkID string `json:"network_id"`
	Account   string `json:"account"`
	Balance   string `json:"balance,omitempty"`
}

// Status reports connection state, account and balance. A balance fetch
// failure degrades to an empty balance rather than failing the call.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Connected: s.client.ConnectionStatus(ctx),
		NetworkID: s.client.NetworkID(),
		Account:   s.client.Account(),
	}
	if !st.Connected {
		return st
	}
	balance, err := s.client.GetBalance(ctx, s.client.Account())
	if err != nil {
		s.log.Warn("查询账户余额失败", "error", err)
		return st
	}
	st.Balance = balance.String()
	return st
}

// Store notarizes experiment data: canonical hash, payload build, signed
// self-transaction, then confirmation polling. No record is produced
// unless the transaction is accepted; a record missing only BlockHeight
// means the transaction was accepted but confirmation timed out.
func (s *Service) Store(ctx context.Context, experimentID string, data any, metadata map[string]any) (*ProvenanceRecord, error) {
	if experimentID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "实验 ID 不能为空")
	}

	hash, err := ComputeHash(data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "计算数据摘要失败")
	}

	payload := Payload{
		Type:         PayloadType,
		Version:      PayloadVersion,
		ExperimentID: experimentID,
		Hash:         hash,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Metadata:     metadata,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化存证负载失败")
	}

	if !s.client.ConnectionStatus(ctx) {
		return nil, xerrors.New(xerrors.CodeLedgerUnavailable, "账本网络不可达",
			xerrors.WithMetadata("network_id", s.client.NetworkID()))
	}

	if err := s.checkFunds(ctx); err != nil {
		return nil, err
	}

	txID, seq, err := s.submitSerialized(ctx, encoded)
	if err != nil {
		return nil, err
	}

	record := &ProvenanceRecord{
		ExperimentID: experimentID,
		DataHash:     hash,
		TxID:         txID,
		NetworkID:    s.client.NetworkID(),
		Sequence:     seq,
		Metadata:     metadata,
		CreatedAt:    time.Now().Unix(),
	}

	height, err := s.awaitConfirmation(ctx, txID)
	if err != nil {
		// 交易已被接受，仅确认超时；记录保留，区块高度未知。
		s.saveRecord(ctx, record)
		return record, err
	}
	record.BlockHeight = height

	s.saveRecord(ctx, record)
	s.log.Info("实验数据存证完成",
		"experiment_id", experimentID, "tx_id", txID, "block_height", height)
	logger.Audit().Info("provenance_stored",
		"experiment_id", experimentID, "tx_id", txID, "data_hash", hash,
		"network_id", record.NetworkID, "sequence", seq)
	return record, nil
}

// Verify recomputes the digest of data and compares it with the payload
// stored in the original transaction. A fetch failure is reported as
// VerificationUnavailable, never as a mismatch: network trouble must not
// look like tampering.
func (s *Service) Verify(ctx context.Context, record *ProvenanceRecord, data any) (Verdict, error) {
	if record == nil || record.TxID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "存证记录缺少交易 ID")
	}

	current, err := ComputeHash(data)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "计算数据摘要失败")
	}

	tx, err := s.client.GetTransaction(ctx, record.TxID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeVerificationUnavailable, err, "查询存证交易失败",
			xerrors.WithMetadata("tx_id", record.TxID))
	}
	if tx == nil || tx.Payload == nil {
		return "", xerrors.New(xerrors.CodeVerificationUnavailable, "存证交易负载缺失或无法解析",
			xerrors.WithMetadata("tx_id", record.TxID))
	}

	if tx.Payload.Hash == current {
		return VerdictMatch, nil
	}
	s.log.Warn("存证校验不一致",
		"experiment_id", record.ExperimentID, "tx_id", record.TxID,
		"stored_hash", tx.Payload.Hash, "current_hash", current)
	logger.Audit().Warn("provenance_mismatch",
		"experiment_id", record.ExperimentID, "tx_id", record.TxID,
		"stored_hash", tx.Payload.Hash, "current_hash", current)
	return VerdictMismatch, nil
}

func (s *Service) checkFunds(ctx context.Context) error {
	balance, err := s.client.GetBalance(ctx, s.client.Account())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "查询账户余额失败")
	}
	cost, err := s.client.EstimateStoreCost(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "估算交易费用失败")
	}
	if balance.Cmp(cost) < 0 {
		return xerrors.New(xerrors.CodeInsufficientFunds, "账户余额不足以支付存证交易",
			xerrors.WithMetadata("account", s.client.Account()),
			xerrors.WithMetadata("balance", balance.String()),
			xerrors.WithMetadata("cost", cost.String()))
	}
	return nil
}

// submitSerialized reserves the next sequence number and submits under a
// single mutex. A rejected submission does not consume the sequence.
func (s *Service) submitSerialized(ctx context.Context, payload []byte) (string, uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if !s.seqInit {
		pending, err := s.client.PendingSequence(ctx, s.client.Account())
		if err != nil {
			return "", 0, xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "查询账户序列号失败")
		}
		s.nextSeq = pending
		s.seqInit = true
	}

	seq := s.nextSeq
	txID, err := s.client.Submit(ctx, seq, payload)
	if err != nil {
		// 本地序列号可能与链上脱节，下次提交时重新同步。
		s.seqInit = false
		if _, typed := xerrors.From(err); typed {
			return "", 0, err
		}
		return "", 0, xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "提交存证交易失败")
	}
	s.nextSeq = seq + 1
	return txID, seq, nil
}

func (s *Service) awaitConfirmation(ctx context.Context, txID string) (uint64, error) {
	deadline := time.Now().Add(s.confirmTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		tx, err := s.client.GetTransaction(ctx, txID)
		if err == nil && tx != nil && tx.BlockHeight > 0 {
			return tx.BlockHeight, nil
		}

		if time.Now().After(deadline) {
			return 0, xerrors.New(xerrors.CodeConfirmationTimeout, "等待交易确认超时",
				xerrors.WithMetadata("tx_id", txID),
				xerrors.WithMetadata("timeout", s.confirmTimeout.String()))
		}
		select {
		case <-ctx.Done():
			return 0, xerrors.Wrap(xerrors.CodeConfirmationTimeout, ctx.Err(), "等待交易确认被取消",
				xerrors.WithMetadata("tx_id", txID))
		case <-ticker.C:
		}
	}
}

func (s *Service) saveRecord(ctx context.Context, record *ProvenanceRecord) {
	if s.records == nil {
		return
	}
	if err := s.records.SaveProvenance(ctx, record); err != nil {
		s.log.Warn("写入本地存证缓存失败", "tx_id", record.TxID, "error", err)
	}
}

// Close releases the underlying client.
func (s *Service) Close() {
	s.client.Close()
}

var _ fmt.Stringer = Verdict("")

// String implements fmt.Stringer for log fields.
func (v Verdict) String() string { return string(v) }
