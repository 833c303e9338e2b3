package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"LabNexus/internal/labdata"
	"LabNexus/internal/tool"
)

// CreateProtocolTool 创建一条实验方案。
type CreateProtocolTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*CreateProtocolTool)(nil)

func (t *CreateProtocolTool) Name() string { return "create_protocol" }

func (t *CreateProtocolTool) Description() string {
	return "Create a new lab protocol with ordered steps. Returns the protocol id."
}

func (t *CreateProtocolTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"source_type": {"type": "string", "enum": ["manual", "web", "literature", "derived"]},
			"source_reference": {"type": "string"},
			"steps": {
				"type": "array",
				"items": {"type": "string", "minLength": 1}
			},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["name"],
		"additionalProperties": false
	}`)
}

func (t *CreateProtocolTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *CreateProtocolTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Name            string   `json:"name"`
		Description     string   `json:"description"`
		SourceType      string   `json:"source_type"`
		SourceReference string   `json:"source_reference"`
		Steps           []string `json:"steps"`
		Tags            []string `json:"tags"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	steps := make([]labdata.ProtocolStep, 0, len(in.Steps))
	for i, text := range in.Steps {
		steps = append(steps, labdata.ProtocolStep{Index: i + 1, Text: text})
	}

	p := &labdata.Protocol{
		Name:            in.Name,
		Description:     in.Description,
		SourceType:      in.SourceType,
		SourceReference: in.SourceReference,
		Steps:           steps,
		Tags:            in.Tags,
	}
	if err := t.lab.CreateProtocol(ctx, p); err != nil {
		return fail(err)
	}
	return tool.OkWithDetails(
		fmt.Sprintf("Protocol %s (%s) created with %d step(s).", p.ID, p.Name, len(p.Steps)),
		map[string]any{"protocol_id": p.ID},
	)
}

// GetProtocolTool 按 ID 查询方案详情。
type GetProtocolTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*GetProtocolTool)(nil)

func (t *GetProtocolTool) Name() string { return "get_protocol" }

func (t *GetProtocolTool) Description() string {
	return "Fetch the full record of a protocol by its id, including all steps."
}

func (t *GetProtocolTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"protocol_id": {"type": "string", "minLength": 1}
		},
		"required": ["protocol_id"],
		"additionalProperties": false
	}`)
}

func (t *GetProtocolTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *GetProtocolTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ProtocolID string `json:"protocol_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}
	p, err := t.lab.GetProtocol(ctx, in.ProtocolID)
	if err != nil {
		return fail(err)
	}
	return tool.Ok(renderJSON(fmt.Sprintf("Protocol %s (%s):", p.ID, p.Name), p))
}

// UpdateProtocolTool 更新方案的步骤、描述或标签。
type UpdateProtocolTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*UpdateProtocolTool)(nil)

func (t *UpdateProtocolTool) Name() string { return "update_protocol" }

func (t *UpdateProtocolTool) Description() string {
	return "Update an existing protocol. Only the provided fields change; steps, when given, replace the old list."
}

func (t *UpdateProtocolTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"protocol_id": {"type": "string", "minLength": 1},
			"name": {"type": "string"},
			"description": {"type": "string"},
			"steps": {"type": "array", "items": {"type": "string", "minLength": 1}},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["protocol_id"],
		"additionalProperties": false
	}`)
}

func (t *UpdateProtocolTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *UpdateProtocolTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		ProtocolID  string    `json:"protocol_id"`
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		Steps       *[]string `json:"steps"`
		Tags        *[]string `json:"tags"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	p, err := t.lab.GetProtocol(ctx, in.ProtocolID)
	if err != nil {
		return fail(err)
	}
	if in.Name != nil && *in.Name != "" {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Steps != nil {
		steps := make([]labdata.ProtocolStep, 0, len(*in.Steps))
		for i, text := range *in.Steps {
			steps = append(steps, labdata.ProtocolStep{Index: i + 1, Text: text})
		}
		p.Steps = steps
	}
	if in.Tags != nil {
		p.Tags = *in.Tags
	}
	if err := t.lab.UpdateProtocol(ctx, p); err != nil {
		return fail(err)
	}
	return tool.Ok(fmt.Sprintf("Protocol %s updated.", p.ID))
}

// ListProtocolsTool 检索方案，支持按关键词匹配。
type ListProtocolsTool struct {
	lab labdata.Store
}

var _ tool.Tool = (*ListProtocolsTool)(nil)

func (t *ListProtocolsTool) Name() string { return "list_protocols" }

func (t *ListProtocolsTool) Description() string {
	return "List stored protocols. An optional query matches against name, description and tags."
}

func (t *ListProtocolsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"additionalProperties": false
	}`)
}

func (t *ListProtocolsTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *ListProtocolsTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}
	protocols, err := t.lab.SearchProtocols(ctx, in.Query, in.Limit)
	if err != nil {
		return fail(err)
	}
	if len(protocols) == 0 {
		return tool.Ok("No protocols found.")
	}
	return tool.Ok(renderJSON(fmt.Sprintf("Found %d protocol(s):", len(protocols)), protocols))
}
