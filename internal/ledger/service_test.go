package ledger_test

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
	ledgermem "LabNexus/internal/ledger/memory"
)

type sinkRecorder struct {
	mu      sync.Mutex
	records []*ledger.ProvenanceRecord
}

func (s *sinkRecorder) SaveProvenance(ctx context.Context, record *ledger.ProvenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func TestStoreSuccess(t *testing.T) {
	client := ledgermem.New()
	sink := &sinkRecorder{}
	svc := ledger.NewService(client, ledger.WithRecordSink(sink))

	data := map[string]any{"id": "exp_a1", "title": "Western blot", "status": "completed"}
	record, err := svc.Store(context.Background(), "exp_a1", data, map[string]any{"title": "Western blot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.TxID == "" || record.BlockHeight == 0 {
		t.Fatalf("expected confirmed record, got %+v", record)
	}
	if record.Sequence != 0 {
		t.Fatalf("first submission should use sequence 0, got %d", record.Sequence)
	}

	wantHash, err := ledger.ComputeHash(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.DataHash != wantHash {
		t.Fatalf("record hash %s != computed %s", record.DataHash, wantHash)
	}

	tx, err := client.GetTransaction(context.Background(), record.TxID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Payload == nil || tx.Payload.Hash != wantHash {
		t.Fatalf("on-ledger payload mismatch: %+v", tx.Payload)
	}
	if tx.Payload.Type != ledger.PayloadType || tx.Payload.Version != ledger.PayloadVersion {
		t.Fatalf("unexpected payload envelope: %+v", tx.Payload)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected record saved to sink, got %d", len(sink.records))
	}
}

func TestStoreDisconnected(t *testing.T) {
	client := ledgermem.New(ledgermem.WithConnected(false))
	sink := &sinkRecorder{}
	svc := ledger.NewService(client, ledger.WithRecordSink(sink))

	record, err := svc.Store(context.Background(), "exp_a1", map[string]any{"id": "exp_a1"}, nil)
	if err == nil {
		t.Fatalf("expected error when ledger is unreachable")
	}
	if xerrors.CodeOf(err) != xerrors.CodeLedgerUnavailable {
		t.Fatalf("expected LEDGER_UNAVAILABLE, got %v", err)
	}
	if record != nil {
		t.Fatalf("no record must be produced when submission never happened")
	}
	if len(sink.records) != 0 {
		t.Fatalf("sink must stay empty, got %d records", len(sink.records))
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("unreachable ledger should be retryable")
	}
}

func TestStoreInsufficientFunds(t *testing.T) {
	client := ledgermem.New(ledgermem.WithBalance(big.NewInt(1)))
	svc := ledger.NewService(client)

	_, err := svc.Store(context.Background(), "exp_a1", map[string]any{"id": "exp_a1"}, nil)
	if xerrors.CodeOf(err) != xerrors.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("insufficient funds is not retryable without manual action")
	}
}

func TestStoreConfirmationTimeout(t *testing.T) {
	client := ledgermem.New(ledgermem.WithHeldConfirmations())
	sink := &sinkRecorder{}
	svc := ledger.NewService(client,
		ledger.WithConfirmTimeout(30*time.Millisecond),
		ledger.WithPollInterval(10*time.Millisecond),
		ledger.WithRecordSink(sink),
	)

	record, err := svc.Store(context.Background(), "exp_a1", map[string]any{"id": "exp_a1"}, nil)
	if xerrors.CodeOf(err) != xerrors.CodeConfirmationTimeout {
		t.Fatalf("expected CONFIRMATION_TIMEOUT, got %v", err)
	}
	// 交易已被接受：记录仍然返回并写入本地缓存，仅缺少区块高度。
	if record == nil || record.TxID == "" {
		t.Fatalf("accepted transaction must still yield a record, got %+v", record)
	}
	if record.BlockHeight != 0 {
		t.Fatalf("unconfirmed record must not carry a block height")
	}
	if len(sink.records) != 1 {
		t.Fatalf("pending record should be cached, got %d", len(sink.records))
	}

	client.ReleaseConfirmations()
	tx, err := client.GetTransaction(context.Background(), record.TxID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.BlockHeight == 0 {
		t.Fatalf("released transaction should be confirmed")
	}
}

func TestVerifyMatchAndMismatch(t *testing.T) {
	client := ledgermem.New()
	svc := ledger.NewService(client)

	data := map[string]any{"id": "exp_a1", "status": "completed"}
	record, err := svc.Store(context.Background(), "exp_a1", data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verdict, err := svc.Verify(context.Background(), record, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != ledger.VerdictMatch {
		t.Fatalf("untouched data must match, got %s", verdict)
	}

	// 本地数据被改动后必须报告不一致。
	tampered := map[string]any{"id": "exp_a1", "status": "in_progress"}
	verdict, err = svc.Verify(context.Background(), record, tampered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != ledger.VerdictMismatch {
		t.Fatalf("modified data must mismatch, got %s", verdict)
	}

	// 链上摘要被篡改同样必须报告不一致。
	if !client.TamperPayloadHash(record.TxID, "0xdeadbeef") {
		t.Fatalf("tamper helper failed")
	}
	verdict, err = svc.Verify(context.Background(), record, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != ledger.VerdictMismatch {
		t.Fatalf("tampered ledger payload must mismatch, got %s", verdict)
	}
}

func TestVerifyUnavailableIsNotMismatch(t *testing.T) {
	client := ledgermem.New()
	svc := ledger.NewService(client)

	data := map[string]any{"id": "exp_a1"}
	record, err := svc.Store(context.Background(), "exp_a1", data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.SetConnected(false)
	verdict, err := svc.Verify(context.Background(), record, data)
	if err == nil {
		t.Fatalf("expected error when the ledger cannot be queried")
	}
	if xerrors.CodeOf(err) != xerrors.CodeVerificationUnavailable {
		t.Fatalf("expected VERIFICATION_UNAVAILABLE, got %v", err)
	}
	if verdict == ledger.VerdictMismatch {
		t.Fatalf("network trouble must never be reported as a mismatch")
	}
}

func TestStoreSerializesSequences(t *testing.T) {
	client := ledgermem.New()
	sink := &sinkRecorder{}
	svc := ledger.NewService(client, ledger.WithRecordSink(sink))

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Store(context.Background(), "exp_a1",
				map[string]any{"id": "exp_a1", "round": i}, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent store failed: %v", err)
		}
	}

	if len(sink.records) != n {
		t.Fatalf("expected %d records, got %d", n, len(sink.records))
	}
	seqs := make([]int, 0, n)
	for _, record := range sink.records {
		seqs = append(seqs, int(record.Sequence))
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		if seq != i {
			t.Fatalf("sequences must be distinct and gapless, got %v", seqs)
		}
	}
}

func TestStoreRejectsEmptyExperimentID(t *testing.T) {
	svc := ledger.NewService(ledgermem.New())
	_, err := svc.Store(context.Background(), "", map[string]any{}, nil)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestStatusDegradesWhenDisconnected(t *testing.T) {
	client := ledgermem.New()
	svc := ledger.NewService(client)

	st := svc.Status(context.Background())
	if !st.Connected || st.Balance == "" {
		t.Fatalf("connected status should include balance: %+v", st)
	}

	client.SetConnected(false)
	st = svc.Status(context.Background())
	if st.Connected {
		t.Fatalf("expected disconnected status")
	}
	if st.Account == "" || st.NetworkID == "" {
		t.Fatalf("account and network id should still be reported: %+v", st)
	}
}
