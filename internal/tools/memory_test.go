package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"LabNexus/internal/convo"
	xerrors "LabNexus/internal/errors"
)

func TestConversationContextTools(t *testing.T) {
	contexts, err := convo.NewMemoryStore(8)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer contexts.Close()
	setTool := &SetContextTool{contexts: contexts}
	getTool := &GetContextTool{contexts: contexts}

	ctx := convo.WithConversationID(context.Background(), "conv-1")

	// 首回合还没有任何记忆。
	result := getTool.Execute(ctx, nil)
	if !result.OK || !strings.Contains(result.Payload, "Nothing") {
		t.Fatalf("unexpected result: %+v", result)
	}

	params, _ := json.Marshal(map[string]string{"protocol_id": "protocol_abc123"})
	result = setTool.Execute(ctx, params)
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}

	// 模拟下一回合：同一会话，新的请求上下文。
	nextTurn := convo.WithConversationID(context.Background(), "conv-1")
	result = getTool.Execute(nextTurn, nil)
	if !result.OK || !strings.Contains(result.Payload, "protocol_abc123") {
		t.Fatalf("state did not survive the turn: %+v", result)
	}
	if result.Details[StateKeyProtocolID] != "protocol_abc123" {
		t.Fatalf("unexpected details: %+v", result.Details)
	}

	// 其它会话看不到这份记忆。
	other := convo.WithConversationID(context.Background(), "conv-2")
	result = getTool.Execute(other, nil)
	if !result.OK || strings.Contains(result.Payload, "protocol_abc123") {
		t.Fatalf("state leaked across conversations: %+v", result)
	}
}

func TestSetContextToolRequiresSomething(t *testing.T) {
	contexts, err := convo.NewMemoryStore(8)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer contexts.Close()
	setTool := &SetContextTool{contexts: contexts}

	ctx := convo.WithConversationID(context.Background(), "conv-1")
	result := setTool.Execute(ctx, json.RawMessage(`{}`))
	if result.OK || result.ErrKind != xerrors.CodeInvalidToolInput {
		t.Fatalf("expected INVALID_TOOL_INPUT, got %+v", result)
	}
}

func TestContextToolsWithoutConversation(t *testing.T) {
	contexts, err := convo.NewMemoryStore(8)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer contexts.Close()
	setTool := &SetContextTool{contexts: contexts}
	getTool := &GetContextTool{contexts: contexts}

	// 未绑定会话的调用直接失败，绝不写进别人的会话。
	params, _ := json.Marshal(map[string]string{"protocol_id": "protocol_x"})
	if result := setTool.Execute(context.Background(), params); result.OK {
		t.Fatalf("expected failure without conversation id")
	}
	if result := getTool.Execute(context.Background(), nil); result.OK {
		t.Fatalf("expected failure without conversation id")
	}
}
