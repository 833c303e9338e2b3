package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/labdata"
)

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return encoded
}

func TestExperimentToolsLifecycle(t *testing.T) {
	lab := labdata.NewMemoryStore()
	defer lab.Close()
	ctx := context.Background()

	createTool := &CreateExperimentTool{lab: lab}
	result := createTool.Execute(ctx, mustParams(t, map[string]any{
		"title":               "GAPDH western blot",
		"scientific_question": "Is GAPDH stable under oxidative stress?",
		"tags":                []string{"western-blot"},
	}))
	if !result.OK {
		t.Fatalf("create failed: %+v", result)
	}
	expID, _ := result.Details["experiment_id"].(string)
	if expID == "" {
		t.Fatalf("missing experiment id in details: %+v", result.Details)
	}

	// 关联方案前方案必须存在。
	attachTool := &AttachProtocolTool{lab: lab}
	result = attachTool.Execute(ctx, mustParams(t, map[string]string{
		"experiment_id": expID, "protocol_id": "protocol_missing",
	}))
	if result.OK || result.ErrKind != xerrors.CodeNotFound {
		t.Fatalf("dangling protocol must be rejected: %+v", result)
	}

	protocol := &labdata.Protocol{Name: "Western blot v2"}
	if err := lab.CreateProtocol(ctx, protocol); err != nil {
		t.Fatalf("seed protocol: %v", err)
	}
	result = attachTool.Execute(ctx, mustParams(t, map[string]string{
		"experiment_id": expID, "protocol_id": protocol.ID,
	}))
	if !result.OK {
		t.Fatalf("attach failed: %+v", result)
	}

	reagent := &labdata.Reagent{Name: "anti-GAPDH", Vendor: "Abcam", CatalogNumber: "ab8245", Quantity: 100, Unit: "uL"}
	if err := lab.UpsertReagent(ctx, reagent); err != nil {
		t.Fatalf("seed reagent: %v", err)
	}
	usageTool := &AddReagentUsageTool{lab: lab}
	result = usageTool.Execute(ctx, mustParams(t, map[string]any{
		"experiment_id": expID, "reagent_id": reagent.ID, "quantity": 10,
	}))
	if !result.OK {
		t.Fatalf("usage failed: %+v", result)
	}

	statusTool := &MarkExperimentStatusTool{lab: lab}
	result = statusTool.Execute(ctx, mustParams(t, map[string]any{
		"experiment_id":   expID,
		"status":          "completed",
		"results_summary": "single band at 36 kDa",
	}))
	if !result.OK {
		t.Fatalf("status update failed: %+v", result)
	}

	exp, err := lab.GetExperiment(ctx, expID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Status != labdata.StatusCompleted || exp.ProtocolID != protocol.ID {
		t.Fatalf("lifecycle state wrong: %+v", exp)
	}
	if len(exp.ReagentUsages) != 1 || exp.ReagentUsages[0].ReagentID != reagent.ID {
		t.Fatalf("usage not appended: %+v", exp.ReagentUsages)
	}
	remaining, _ := lab.GetReagent(ctx, reagent.ID)
	if remaining.Quantity != 90 {
		t.Fatalf("inventory not deducted: %v", remaining.Quantity)
	}
}

func TestListExperimentsTool(t *testing.T) {
	lab := labdata.NewMemoryStore()
	defer lab.Close()
	ctx := context.Background()
	listTool := &ListExperimentsTool{lab: lab}

	result := listTool.Execute(ctx, nil)
	if !result.OK || !strings.Contains(result.Payload, "No experiments") {
		t.Fatalf("unexpected empty-list result: %+v", result)
	}

	for _, title := range []string{"first", "second"} {
		if err := lab.CreateExperiment(ctx, &labdata.Experiment{Title: title}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	result = listTool.Execute(ctx, mustParams(t, map[string]any{"status": "planned"}))
	if !result.OK || !strings.Contains(result.Payload, "2 experiment(s)") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReagentTools(t *testing.T) {
	lab := labdata.NewMemoryStore()
	defer lab.Close()
	ctx := context.Background()

	addTool := &AddReagentTool{lab: lab}
	result := addTool.Execute(ctx, mustParams(t, map[string]any{
		"name": "anti-GAPDH", "vendor": "Abcam", "catalog_number": "ab8245",
		"quantity": 100, "unit": "uL",
	}))
	if !result.OK {
		t.Fatalf("add failed: %+v", result)
	}
	reagentID, _ := result.Details["reagent_id"].(string)

	// 同一供应商与货号再次入库：数量累加而不是新建条目。
	result = addTool.Execute(ctx, mustParams(t, map[string]any{
		"name": "anti-GAPDH", "vendor": "Abcam", "catalog_number": "ab8245",
		"quantity": 50, "unit": "uL",
	}))
	if !result.OK || !strings.Contains(result.Payload, "150.00") {
		t.Fatalf("expected accumulated quantity: %+v", result)
	}

	useTool := &RecordReagentUsageTool{lab: lab}
	result = useTool.Execute(ctx, mustParams(t, map[string]any{
		"reagent_id": reagentID, "quantity": 200,
	}))
	if !result.OK || !strings.Contains(result.Payload, "negative") {
		t.Fatalf("overdraft should warn about negative stock: %+v", result)
	}

	lowTool := &ListLowInventoryTool{lab: lab}
	result = lowTool.Execute(ctx, mustParams(t, map[string]any{"threshold": 0}))
	if !result.OK || !strings.Contains(result.Payload, "anti-GAPDH") {
		t.Fatalf("negative stock should be listed as low: %+v", result)
	}
}
