package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"LabNexus/internal/labdata"
	"LabNexus/internal/tool"
)

// AddReagentTool 把试剂登记入库；同一供应商与货号的条目累加数量。
type AddReagentTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*AddReagentTool)(nil)

func (t *AddReagentTool) Name() string { return "add_reagent_to_inventory" }

func (t *AddReagentTool) Description() string {
	return "Add a reagent to the lab inventory. If a reagent with the same vendor and catalog " +
		"number already exists its quantity is increased."
}

func (t *AddReagentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"catalog_number": {"type": "string"},
			"vendor": {"type": "string"},
			"storage_conditions": {"type": "string"},
			"quantity": {"type": "number", "exclusiveMinimum": 0},
			"unit": {"type": "string"}
		},
		"required": ["name", "quantity", "unit"],
		"additionalProperties": false
	}`)
}

func (t *AddReagentTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *AddReagentTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Name              string  `json:"name"`
		CatalogNumber     string  `json:"catalog_number"`
		Vendor            string  `json:"vendor"`
		StorageConditions string  `json:"storage_conditions"`
		Quantity          float64 `json:"quantity"`
		Unit              string  `json:"unit"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	r := &labdata.Reagent{
		Name:              in.Name,
		CatalogNumber:     in.CatalogNumber,
		Vendor:            in.Vendor,
		StorageConditions: in.StorageConditions,
		Quantity:          in.Quantity,
		Unit:              in.Unit,
	}
	if err := t.lab.UpsertReagent(ctx, r); err != nil {
		return fail(err)
	}
	return tool.OkWithDetails(
		fmt.Sprintf("Reagent %s (%s) now holds %.2f %s.", r.ID, r.Name, r.Quantity, r.Unit),
		map[string]any{"reagent_id": r.ID},
	)
}

// RecordReagentUsageTool 登记一次独立的试剂消耗。
type RecordReagentUsageTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*RecordReagentUsageTool)(nil)

func (t *RecordReagentUsageTool) Name() string { return "record_reagent_usage" }

func (t *RecordReagentUsageTool) Description() string {
	return "Record reagent consumption and deduct it from the inventory. Use " +
		"add_manual_reagent_usage instead when the usage belongs to an experiment."
}

func (t *RecordReagentUsageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"reagent_id": {"type": "string", "minLength": 1},
			"quantity": {"type": "number", "exclusiveMinimum": 0},
			"unit": {"type": "string"},
			"note": {"type": "string"}
		},
		"required": ["reagent_id", "quantity"],
		"additionalProperties": false
	}`)
}

func (t *RecordReagentUsageTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *RecordReagentUsageTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ReagentID string  `json:"reagent_id"`
		Quantity  float64 `json:"quantity"`
		Unit      string  `json:"unit"`
		Note      string  `json:"note"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	usage := &labdata.ReagentUsage{
		ReagentID: in.ReagentID,
		Quantity:  in.Quantity,
		Unit:      in.Unit,
		Note:      in.Note,
	}
	if err := t.lab.RecordUsage(ctx, usage); err != nil {
		return fail(err)
	}

	reagent, err := t.lab.GetReagent(ctx, in.ReagentID)
	if err != nil {
		return fail(err)
	}
	summary := fmt.Sprintf("Recorded %.2f %s of %s. Remaining: %.2f %s.",
		usage.Quantity, usage.Unit, reagent.Name, reagent.Quantity, reagent.Unit)
	if reagent.Quantity < 0 {
		summary += " Inventory is negative, the stock count needs correcting."
	}
	return tool.Ok(summary)
}

// ListLowInventoryTool 列出库存低于阈值的试剂。
type ListLowInventoryTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*ListLowInventoryTool)(nil)

func (t *ListLowInventoryTool) Name() string { return "list_low_inventory_reagents" }

func (t *ListLowInventoryTool) Description() string {
	return "List reagents whose remaining quantity is at or below a threshold. " +
		"With no threshold every reagent is listed."
}

func (t *ListLowInventoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"threshold": {"type": "number", "minimum": 0},
			"query": {"type": "string"}
		},
		"additionalProperties": false
	}`)
}

func (t *ListLowInventoryTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *ListLowInventoryTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Threshold *float64 `json:"threshold"`
		Query     string   `json:"query"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	reagents, err := t.lab.ListReagents(ctx, in.Query, 0)
	if err != nil {
		return fail(err)
	}

	var matched []*labdata.Reagent
	for _, r := range reagents {
		if in.Threshold == nil || r.Quantity <= *in.Threshold {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return tool.Ok("No reagents matched.")
	}
	return tool.Ok(renderJSON(fmt.Sprintf("Found %d reagent(s):", len(matched)), matched))
}
