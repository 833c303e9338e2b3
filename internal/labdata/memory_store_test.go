package labdata

import (
	"context"
	"strings"
	"testing"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
)

func TestExperimentLifecycle(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	exp := &Experiment{
		Title:              "GAPDH western blot",
		ScientificQuestion: "Is GAPDH expression stable under oxidative stress?",
		Tags:               []string{"western-blot"},
	}
	if err := store.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(exp.ID, "exp_") {
		t.Fatalf("unexpected id: %s", exp.ID)
	}
	if exp.Status != StatusPlanned {
		t.Fatalf("new experiment should default to planned, got %s", exp.Status)
	}

	got, err := store.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != exp.Title {
		t.Fatalf("unexpected experiment: %+v", got)
	}

	got.Status = StatusCompleted
	got.ResultsSummary = "bands at expected molecular weight"
	if err := store.UpdateExperiment(ctx, got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, _ := store.GetExperiment(ctx, exp.ID)
	if updated.Status != StatusCompleted || updated.ResultsSummary == "" {
		t.Fatalf("update lost fields: %+v", updated)
	}
	if updated.CreatedAt != exp.CreatedAt {
		t.Fatalf("update must preserve created_at")
	}

	completed, err := store.ListExperiments(ctx, StatusCompleted, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed experiment, got %d", len(completed))
	}
	planned, _ := store.ListExperiments(ctx, StatusPlanned, 10)
	if len(planned) != 0 {
		t.Fatalf("status filter failed: %d", len(planned))
	}
}

func TestExperimentErrors(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateExperiment(ctx, &Experiment{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for missing title, got %v", err)
	}
	if _, err := store.GetExperiment(ctx, "exp_missing"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	err := store.UpdateExperiment(ctx, &Experiment{ID: "exp_x", Status: "bogus"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for bad status, got %v", err)
	}
}

func TestProtocolSearch(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	protocols := []*Protocol{
		{Name: "Western blot for HeLa lysates", Tags: []string{"western-blot"}},
		{Name: "RNA extraction", Description: "TRIzol based extraction", Tags: []string{"rna"}},
		{Name: "Immunostaining", Tags: []string{"imaging"}},
	}
	for _, p := range protocols {
		if err := store.CreateProtocol(ctx, p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	hits, err := store.SearchProtocols(ctx, "western", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "Western blot for HeLa lysates" {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	// 描述与标签同样参与匹配。
	hits, _ = store.SearchProtocols(ctx, "trizol", 10)
	if len(hits) != 1 {
		t.Fatalf("description should match, got %d hits", len(hits))
	}
	hits, _ = store.SearchProtocols(ctx, "imaging", 10)
	if len(hits) != 1 {
		t.Fatalf("tag should match, got %d hits", len(hits))
	}

	all, _ := store.SearchProtocols(ctx, "", 0)
	if len(all) != 3 {
		t.Fatalf("empty query should return everything, got %d", len(all))
	}
}

func TestReagentUpsertAccumulates(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	first := &Reagent{Name: "anti-GAPDH", Vendor: "Abcam", CatalogNumber: "ab8245", Quantity: 100, Unit: "uL"}
	if err := store.UpsertReagent(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := &Reagent{Name: "anti-GAPDH", Vendor: "Abcam", CatalogNumber: "ab8245", Quantity: 50, Unit: "uL"}
	if err := store.UpsertReagent(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same vendor+catalog must resolve to one reagent")
	}

	got, _ := store.GetReagent(ctx, first.ID)
	if got.Quantity != 150 {
		t.Fatalf("expected accumulated quantity 150, got %v", got.Quantity)
	}
}

func TestRecordUsageDeductsStock(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	reagent := &Reagent{Name: "anti-GAPDH", Vendor: "Abcam", CatalogNumber: "ab8245", Quantity: 100, Unit: "uL"}
	if err := store.UpsertReagent(ctx, reagent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	usage := &ReagentUsage{ReagentID: reagent.ID, Quantity: 30, ExperimentID: "exp_a1"}
	if err := store.RecordUsage(ctx, usage); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Unit != "uL" {
		t.Fatalf("usage should inherit reagent unit, got %q", usage.Unit)
	}

	got, _ := store.GetReagent(ctx, reagent.ID)
	if got.Quantity != 70 {
		t.Fatalf("expected 70 remaining, got %v", got.Quantity)
	}

	// 超量消耗允许库存为负，作为登记遗漏的信号。
	if err := store.RecordUsage(ctx, &ReagentUsage{ReagentID: reagent.ID, Quantity: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = store.GetReagent(ctx, reagent.ID)
	if got.Quantity != -30 {
		t.Fatalf("expected -30 remaining, got %v", got.Quantity)
	}

	history, _ := store.ListUsage(ctx, reagent.ID, 10)
	if len(history) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(history))
	}

	if err := store.RecordUsage(ctx, &ReagentUsage{ReagentID: reagent.ID, Quantity: 0}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for non-positive quantity, got %v", err)
	}
	if err := store.RecordUsage(ctx, &ReagentUsage{ReagentID: "rgt_missing", Quantity: 1}); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND for unknown reagent, got %v", err)
	}
}

func TestProvenanceCache(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	record := &ledger.ProvenanceRecord{
		ExperimentID: "exp_a1",
		DataHash:     "0xabc",
		TxID:         "0xmock1",
		NetworkID:    "mock",
	}
	if err := store.SaveProvenance(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetProvenance(ctx, "exp_a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TxID != "0xmock1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// 重新存证时按实验 ID 覆盖旧记录。
	record.TxID = "0xmock2"
	if err := store.SaveProvenance(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = store.GetProvenance(ctx, "exp_a1")
	if got.TxID != "0xmock2" {
		t.Fatalf("expected overwrite, got %+v", got)
	}

	if _, err := store.GetProvenance(ctx, "exp_other"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestProvenanceViewExcludesMutableFields(t *testing.T) {
	exp := &Experiment{
		ID:         "exp_a1",
		Title:      "Western blot",
		LedgerTxID: "0xmockdeadbeef",
		UpdatedAt:  "2026-01-01T00:00:00Z",
	}
	view := exp.ProvenanceView()
	if _, ok := view["ledger_tx_id"]; ok {
		t.Fatalf("ledger tx id must not feed the digest")
	}
	if _, ok := view["updated_at"]; ok {
		t.Fatalf("updated_at must not feed the digest")
	}
	if view["id"] != "exp_a1" || view["title"] != "Western blot" {
		t.Fatalf("scientific content missing from view: %+v", view)
	}
}
