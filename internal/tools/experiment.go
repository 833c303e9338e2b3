package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"LabNexus/internal/labdata"
	"LabNexus/internal/tool"
)

// CreateExperimentTool 创建一条实验记录。
type CreateExperimentTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*CreateExperimentTool)(nil)

func (t *CreateExperimentTool) Name() string { return "create_experiment" }

func (t *CreateExperimentTool) Description() string {
	return "Create a new experiment record with a title, scientific question and description. " +
		"Returns the experiment id for later reference."
}

func (t *CreateExperimentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"scientific_question": {"type": "string"},
			"description": {"type": "string"},
			"protocol_id": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["title"],
		"additionalProperties": false
	}`)
}

func (t *CreateExperimentTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *CreateExperimentTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Title              string   `json:"title"`
		ScientificQuestion string   `json:"scientific_question"`
		Description        string   `json:"description"`
		ProtocolID         string   `json:"protocol_id"`
		Tags               []string `json:"tags"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	exp := &labdata.Experiment{
		Title:              in.Title,
		ScientificQuestion: in.ScientificQuestion,
		Description:        in.Description,
		ProtocolID:         in.ProtocolID,
		Tags:               in.Tags,
	}
	if err := t.lab.CreateExperiment(ctx, exp); err != nil {
		return fail(err)
	}
	return tool.OkWithDetails(
		renderJSON(fmt.Sprintf("Experiment %s created with status %s.", exp.ID, exp.Status), exp),
		map[string]any{"experiment_id": exp.ID},
	)
}

// GetExperimentTool 按 ID 查询实验详情。
type GetExperimentTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*GetExperimentTool)(nil)

func (t *GetExperimentTool) Name() string { return "get_experiment" }

func (t *GetExperimentTool) Description() string {
	return "Fetch the full record of an experiment by its id."
}

func (t *GetExperimentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"experiment_id": {"type": "string", "minLength": 1}
		},
		"required": ["experiment_id"],
		"additionalProperties": false
	}`)
}

func (t *GetExperimentTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *GetExperimentTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}
	exp, err := t.lab.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return fail(err)
	}
	return tool.Ok(renderJSON(fmt.Sprintf("Experiment %s (%s):", exp.ID, exp.Status), exp))
}

// ListExperimentsTool 列出实验，可按状态过滤。
type ListExperimentsTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*ListExperimentsTool)(nil)

func (t *ListExperimentsTool) Name() string { return "list_experiments" }

func (t *ListExperimentsTool) Description() string {
	return "List experiments, optionally filtered by status (planned, in_progress, completed, failed)."
}

func (t *ListExperimentsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["planned", "in_progress", "completed", "failed", ""]},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"additionalProperties": false
	}`)
}

func (t *ListExperimentsTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *ListExperimentsTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}
	experiments, err := t.lab.ListExperiments(ctx, labdata.ExperimentStatus(in.Status), in.Limit)
	if err != nil {
		return fail(err)
	}
	if len(experiments) == 0 {
		return tool.Ok("No experiments found.")
	}
	return tool.Ok(renderJSON(fmt.Sprintf("Found %d experiment(s):", len(experiments)), experiments))
}

// MarkExperimentStatusTool 更新实验状态，可附带结果摘要与备注。
type MarkExperimentStatusTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*MarkExperimentStatusTool)(nil)

func (t *MarkExperimentStatusTool) Name() string { return "mark_experiment_status" }

func (t *MarkExperimentStatusTool) Description() string {
	return "Update the status of an experiment. Optionally record a results summary and notes."
}

func (t *MarkExperimentStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"experiment_id": {"type": "string", "minLength": 1},
			"status": {"type": "string", "enum": ["planned", "in_progress", "completed", "failed"]},
			"results_summary": {"type": "string"},
			"notes": {"type": "string"}
		},
		"required": ["experiment_id", "status"],
		"additionalProperties": false
	}`)
}

func (t *MarkExperimentStatusTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *MarkExperimentStatusTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ExperimentID   string `json:"experiment_id"`
		Status         string `json:"status"`
		ResultsSummary string `json:"results_summary"`
		Notes          string `json:"notes"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	exp, err := t.lab.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return fail(err)
	}
	exp.Status = labdata.ExperimentStatus(in.Status)
	if in.ResultsSummary != "" {
		exp.ResultsSummary = in.ResultsSummary
	}
	if in.Notes != "" {
		exp.Notes = in.Notes
	}
	if err := t.lab.UpdateExperiment(ctx, exp); err != nil {
		return fail(err)
	}
	return tool.Ok(fmt.Sprintf("Experiment %s is now %s.", exp.ID, exp.Status))
}

// AttachProtocolTool 把实验方案关联到实验。
type AttachProtocolTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*AttachProtocolTool)(nil)

func (t *AttachProtocolTool) Name() string { return "attach_protocol_to_experiment" }

func (t *AttachProtocolTool) Description() string {
	return "Link an existing protocol to an experiment so the experiment records which procedure it follows."
}

func (t *AttachProtocolTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"experiment_id": {"type": "string", "minLength": 1},
			"protocol_id": {"type": "string", "minLength": 1}
		},
		"required": ["experiment_id", "protocol_id"],
		"additionalProperties": false
	}`)
}

func (t *AttachProtocolTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *AttachProtocolTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ExperimentID string `json:"experiment_id"`
		ProtocolID   string `json:"protocol_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	// 先确认方案存在，避免把悬空 ID 写进实验。
	protocol, err := t.lab.GetProtocol(ctx, in.ProtocolID)
	if err != nil {
		return fail(err)
	}
	exp, err := t.lab.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return fail(err)
	}
	exp.ProtocolID = protocol.ID
	if err := t.lab.UpdateExperiment(ctx, exp); err != nil {
		return fail(err)
	}
	return tool.Ok(fmt.Sprintf("Protocol %s (%s) attached to experiment %s.",
		protocol.ID, protocol.Name, exp.ID))
}

// AddReagentUsageTool 把一次试剂消耗登记到实验并扣减库存。
type AddReagentUsageTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*AddReagentUsageTool)(nil)

func (t *AddReagentUsageTool) Name() string { return "add_manual_reagent_usage" }

func (t *AddReagentUsageTool) Description() string {
	return "Record that a reagent was consumed by an experiment. Deducts inventory and " +
		"appends the usage to the experiment record."
}

func (t *AddReagentUsageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"experiment_id": {"type": "string", "minLength": 1},
			"reagent_id": {"type": "string", "minLength": 1},
			"quantity": {"type": "number", "exclusiveMinimum": 0},
			"unit": {"type": "string"},
			"note": {"type": "string"}
		},
		"required": ["experiment_id", "reagent_id", "quantity"],
		"additionalProperties": false
	}`)
}

func (t *AddReagentUsageTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *AddReagentUsageTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ExperimentID string  `json:"experiment_id"`
		ReagentID    string  `json:"reagent_id"`
		Quantity     float64 `json:"quantity"`
		Unit         string  `json:"unit"`
		Note         string  `json:"note"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	exp, err := t.lab.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return fail(err)
	}

	usage := &labdata.ReagentUsage{
		ReagentID:    in.ReagentID,
		ExperimentID: in.ExperimentID,
		Quantity:     in.Quantity,
		Unit:         in.Unit,
		Note:         in.Note,
	}
	if err := t.lab.RecordUsage(ctx, usage); err != nil {
		return fail(err)
	}

	exp.ReagentUsages = append(exp.ReagentUsages, *usage)
	if err := t.lab.UpdateExperiment(ctx, exp); err != nil {
		return fail(err)
	}
	return tool.Ok(fmt.Sprintf("Recorded %.2f %s of reagent %s for experiment %s.",
		usage.Quantity, usage.Unit, usage.ReagentID, exp.ID))
}
