package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"LabNexus/internal/convo"
	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/tool"
)

// 会话状态中约定的键。智能体通过这两个键记住"当前正在讨论的东西"，
// 使下一回合的 "store it on chain" 之类指代得以解析。
const (
	StateKeyProtocolID   = "current_protocol_id"
	StateKeyExperimentID = "current_experiment_id"
)

// SetContextTool 把当前方案或实验 ID 写入会话状态。
type SetContextTool struct {
	contexts convo.Store
}

var _ tool.Tool = (*SetContextTool)(nil)

func (t *SetContextTool) Name() string { return "set_conversation_context" }

func (t *SetContextTool) Description() string {
	return "Remember the protocol or experiment currently being discussed, so later turns can " +
		"refer to it without repeating the id."
}

func (t *SetContextTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"protocol_id": {"type": "string"},
			"experiment_id": {"type": "string"}
		},
		"additionalProperties": false
	}`)
}

func (t *SetContextTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *SetContextTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	conversationID := convo.ConversationIDFrom(ctx)
	if conversationID == "" {
		return tool.Errorf(xerrors.CodeInvalidArgument, "no conversation bound to this call")
	}

	var in struct {
		ProtocolID   string `json:"protocol_id"`
		ExperimentID string `json:"experiment_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	var remembered []string
	if strings.TrimSpace(in.ProtocolID) != "" {
		if err := t.contexts.Set(ctx, conversationID, StateKeyProtocolID, in.ProtocolID); err != nil {
			return fail(err)
		}
		remembered = append(remembered, "protocol "+in.ProtocolID)
	}
	if strings.TrimSpace(in.ExperimentID) != "" {
		if err := t.contexts.Set(ctx, conversationID, StateKeyExperimentID, in.ExperimentID); err != nil {
			return fail(err)
		}
		remembered = append(remembered, "experiment "+in.ExperimentID)
	}
	if len(remembered) == 0 {
		return tool.Errorf(xerrors.CodeInvalidToolInput,
			"provide protocol_id or experiment_id to remember")
	}
	return tool.Ok("Remembered " + strings.Join(remembered, " and ") + " for this conversation.")
}

// GetContextTool 读出会话状态中记住的方案与实验 ID。
type GetContextTool struct {
	contexts convo.Store
}

var _ tool.Tool = (*GetContextTool)(nil)

func (t *GetContextTool) Name() string { return "get_conversation_context" }

func (t *GetContextTool) Description() string {
	return "Recall which protocol and experiment this conversation is currently about."
}

func (t *GetContextTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {},
		"additionalProperties": false
	}`)
}

func (t *GetContextTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }

func (t *GetContextTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	conversationID := convo.ConversationIDFrom(ctx)
	if conversationID == "" {
		return tool.Errorf(xerrors.CodeInvalidArgument, "no conversation bound to this call")
	}

	state, err := t.contexts.Get(ctx, conversationID)
	if err != nil {
		return fail(err)
	}

	protocolID, _ := state.State[StateKeyProtocolID].(string)
	experimentID, _ := state.State[StateKeyExperimentID].(string)
	if protocolID == "" && experimentID == "" {
		return tool.Ok("Nothing is remembered for this conversation yet.")
	}

	var parts []string
	if protocolID != "" {
		parts = append(parts, fmt.Sprintf("current protocol: %s", protocolID))
	}
	if experimentID != "" {
		parts = append(parts, fmt.Sprintf("current experiment: %s", experimentID))
	}
	return tool.OkWithDetails(strings.Join(parts, "; "), map[string]any{
		StateKeyProtocolID:   protocolID,
		StateKeyExperimentID: experimentID,
	})
}
