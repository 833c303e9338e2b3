package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"LabNexus/internal/convo"
	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/llm"
	"LabNexus/internal/router"
	"LabNexus/internal/tool"
)

// scriptedEngine 按脚本逐次返回预置的推理结果。
type scriptedEngine struct {
	decisions []*llm.Decision
	err       error
	requests  []llm.Request
}

func (s *scriptedEngine) Reason(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.decisions) == 0 {
		return &llm.Decision{Reply: "done"}, nil
	}
	next := s.decisions[0]
	s.decisions = s.decisions[1:]
	return next, nil
}

// echoTool 回显收到的参数，用于验证循环回灌。
type echoTool struct {
	calls []json.RawMessage
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Echo the given text back." }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"],
		"additionalProperties": false
	}`)
}
func (t *echoTool) SideEffect() tool.SideEffect { return tool.SideEffectNone }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	t.calls = append(t.calls, params)
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &in)
	return tool.Ok("echo: " + in.Text)
}

func newTestRuntime(t *testing.T, engine llm.Client, tools ...tool.Tool) (*Runtime, *convo.MemoryStore) {
	t.Helper()
	registry := tool.NewRegistry()
	registry.MustRegister(tools...)
	contexts, err := convo.NewMemoryStore(16)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	descriptors := []*Descriptor{{
		ID:           "test_agent",
		DisplayName:  "Test Agent",
		SystemPrompt: "test",
		AllowedTools: []string{"echo"},
	}}
	rt := router.New([]router.Rule{
		{Keywords: []string{"hello"}, AgentID: "test_agent", Intent: "test_intent"},
	}, "test_agent", "general_query")
	return NewRuntime(rt, engine, registry, contexts, descriptors, WithMaxIterations(3)), contexts
}

func TestHandleTurnDirectReply(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{{Reply: "hi there"}}}
	runtime, contexts := newTestRuntime(t, engine, &echoTool{})

	result, err := runtime.HandleTurn(context.Background(), "conv-1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "hi there" || result.Iterations != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.AgentID != "test_agent" || result.Intent != "test_intent" || result.Fallback {
		t.Fatalf("unexpected routing on result: %+v", result)
	}

	// 成功回合把用户消息与回复原子地落入历史。
	convoCtx, err := contexts.Get(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convoCtx.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(convoCtx.History))
	}
	if convoCtx.History[0].Role != convo.RoleUser || convoCtx.History[1].Role != convo.RoleAssistant {
		t.Fatalf("unexpected history roles: %+v", convoCtx.History)
	}
}

func TestHandleTurnToolLoop(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"ping"}`)}},
		{Reply: "tool said: echo: ping"},
	}}
	echo := &echoTool{}
	runtime, _ := newTestRuntime(t, engine, echo)

	result, err := runtime.HandleTurn(context.Background(), "conv-1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "echo" {
		t.Fatalf("unexpected tools used: %v", result.ToolsUsed)
	}
	if len(echo.calls) != 1 {
		t.Fatalf("tool should have run once, got %d", len(echo.calls))
	}

	// 第二次推理请求应能看到工具结果消息。
	second := engine.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || last.ToolName != "echo" || last.Content != "echo: ping" {
		t.Fatalf("tool result not fed back: %+v", last)
	}
}

func TestHandleTurnPersistsToolTrace(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"ping"}`)}},
		{Reply: "tool said: echo: ping"},
	}}
	runtime, contexts := newTestRuntime(t, engine, &echoTool{})

	if _, err := runtime.HandleTurn(context.Background(), "conv-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 回合历史包含完整轨迹：用户输入、工具调用、工具结果、最终回复。
	convoCtx, err := contexts.Get(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convoCtx.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d: %+v", len(convoCtx.History), convoCtx.History)
	}
	if convoCtx.History[0].Role != convo.RoleUser {
		t.Fatalf("first entry must be the user input: %+v", convoCtx.History[0])
	}
	if convoCtx.History[1].Role != convo.RoleAssistant || !strings.Contains(convoCtx.History[1].Content, "echo") {
		t.Fatalf("tool call note missing: %+v", convoCtx.History[1])
	}
	if convoCtx.History[2].Role != convo.RoleTool || convoCtx.History[2].ToolName != "echo" {
		t.Fatalf("tool result missing from history: %+v", convoCtx.History[2])
	}
	if convoCtx.History[3].Role != convo.RoleAssistant || convoCtx.History[3].Content != "tool said: echo: ping" {
		t.Fatalf("final reply missing: %+v", convoCtx.History[3])
	}

	// 下一回合的推理请求应当重放工具轨迹。
	engine.decisions = []*llm.Decision{{Reply: "ok"}}
	if _, err := runtime.HandleTurn(context.Background(), "conv-1", "hello again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	replayed := engine.requests[len(engine.requests)-1].Messages
	foundTool := false
	for _, msg := range replayed {
		if msg.Role == llm.RoleTool && msg.ToolName == "echo" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Fatalf("tool trace not replayed to the engine: %+v", replayed)
	}
}

func TestHandleTurnInvalidParamsFedBack(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{
		// text 缺失，参数校验失败；循环应回灌错误而不是终止回合。
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"wrong":1}`)}},
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"fixed"}`)}},
		{Reply: "recovered"},
	}}
	echo := &echoTool{}
	runtime, _ := newTestRuntime(t, engine, echo)

	result, err := runtime.HandleTurn(context.Background(), "conv-1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "recovered" {
		t.Fatalf("unexpected reply: %s", result.Reply)
	}
	// 非法调用不执行工具，也不计入 ToolsUsed。
	if len(echo.calls) != 1 {
		t.Fatalf("tool must only run for the corrected call, got %d", len(echo.calls))
	}
	if len(result.ToolsUsed) != 1 {
		t.Fatalf("unexpected tools used: %v", result.ToolsUsed)
	}

	second := engine.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool {
		t.Fatalf("validation failure should come back as a tool message: %+v", last)
	}
}

func TestHandleTurnDisallowedToolFailsTurn(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{
		{ToolCall: &llm.ToolCall{Name: "forbidden_tool", Params: json.RawMessage(`{}`)}},
	}}
	runtime, contexts := newTestRuntime(t, engine, &echoTool{})

	_, err := runtime.HandleTurn(context.Background(), "conv-1", "hello")
	if xerrors.CodeOf(err) != xerrors.CodeToolNotAllowed {
		t.Fatalf("expected TOOL_NOT_ALLOWED, got %v", err)
	}

	// 失败回合不得留下任何历史。
	convoCtx, _ := contexts.Get(context.Background(), "conv-1")
	if len(convoCtx.History) != 0 {
		t.Fatalf("failed turn must not commit history, got %d entries", len(convoCtx.History))
	}
}

func TestHandleTurnMaxIterationsDegrades(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"a"}`)}},
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"b"}`)}},
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"c"}`)}},
		{ToolCall: &llm.ToolCall{Name: "echo", Params: json.RawMessage(`{"text":"d"}`)}},
	}}
	runtime, contexts := newTestRuntime(t, engine, &echoTool{})

	// 上限为 3：回合不失败，而是带标记的降级回复。
	result, err := runtime.HandleTurn(context.Background(), "conv-1", "hello")
	if err != nil {
		t.Fatalf("exhausted turn must not fail: %v", err)
	}
	if !result.MaxIterationsExceeded {
		t.Fatalf("expected the exceeded flag on the result: %+v", result)
	}
	if result.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", result.Iterations)
	}
	// 尽力而为的回复携带最后一次工具输出。
	if result.Reply == "" || !strings.Contains(result.Reply, "echo: c") {
		t.Fatalf("degraded reply should carry the last tool output: %q", result.Reply)
	}
	if len(engine.decisions) != 1 {
		t.Fatalf("engine must not be consulted past the bound, %d decisions left", len(engine.decisions))
	}

	// 降级回合照常落入历史：用户输入 + 3 组工具轨迹 + 降级回复。
	convoCtx, err := contexts.Get(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convoCtx.History) != 8 {
		t.Fatalf("expected 8 history entries, got %d", len(convoCtx.History))
	}
	lastMsg := convoCtx.History[len(convoCtx.History)-1]
	if lastMsg.Role != convo.RoleAssistant || lastMsg.Content != result.Reply {
		t.Fatalf("degraded reply not committed: %+v", lastMsg)
	}
}

func TestHandleTurnAgentOverride(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{{Reply: "as aux"}}}
	registry := tool.NewRegistry()
	contexts, err := convo.NewMemoryStore(16)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	descriptors := []*Descriptor{
		{ID: "test_agent", DisplayName: "Test Agent"},
		{ID: "aux_agent", DisplayName: "Aux Agent"},
	}
	rt := router.New([]router.Rule{
		{Keywords: []string{"hello"}, AgentID: "test_agent", Intent: "test_intent"},
	}, "test_agent", "general_query")
	runtime := NewRuntime(rt, engine, registry, contexts, descriptors)

	// 路由本会命中 test_agent，override 把回合直接交给 aux_agent。
	result, err := runtime.HandleTurn(context.Background(), "conv-1", "hello",
		WithAgentOverride("aux_agent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AgentID != "aux_agent" || result.Intent != "agent_override" || result.Fallback {
		t.Fatalf("override not honored: %+v", result)
	}

	// 未注册的智能体直接失败，不回退到路由。
	_, err = runtime.HandleTurn(context.Background(), "conv-1", "hello",
		WithAgentOverride("ghost_agent"))
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND for unknown override, got %v", err)
	}
}

func TestHandleTurnSeedHistory(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{{Reply: "ok"}}}
	runtime, contexts := newTestRuntime(t, engine, &echoTool{})

	// 存储里已有历史，seed 历史本回合应取而代之。
	if err := contexts.AppendMessages(context.Background(), "conv-1",
		convo.NewMessage(convo.RoleUser, "stored question"),
	); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	_, err := runtime.HandleTurn(context.Background(), "conv-1", "hello",
		WithSeedHistory(
			convo.NewMessage(convo.RoleUser, "carried question"),
			convo.NewMessage(convo.RoleAssistant, "carried answer"),
		))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := engine.requests[0]
	if len(request.Messages) != 3 {
		t.Fatalf("expected seed history plus user message, got %d", len(request.Messages))
	}
	if request.Messages[0].Content != "carried question" || request.Messages[1].Content != "carried answer" {
		t.Fatalf("seed history not used: %+v", request.Messages)
	}
	for _, msg := range request.Messages {
		if msg.Content == "stored question" {
			t.Fatalf("stored history must be replaced by the seed: %+v", request.Messages)
		}
	}
}

func TestHandleTurnFallbackRouting(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{{Reply: "ok"}}}
	runtime, _ := newTestRuntime(t, engine, &echoTool{})

	result, err := runtime.HandleTurn(context.Background(), "conv-1", "completely unrelated")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Fallback || result.Intent != "general_query" {
		t.Fatalf("expected default routing, got %+v", result)
	}
}

func TestHandleTurnRejectsEmptyInput(t *testing.T) {
	runtime, _ := newTestRuntime(t, &scriptedEngine{}, &echoTool{})

	if _, err := runtime.HandleTurn(context.Background(), "", "hello"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for empty conversation id, got %v", err)
	}
	if _, err := runtime.HandleTurn(context.Background(), "conv-1", "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for empty message, got %v", err)
	}
}

func TestHandleTurnReasoningFailure(t *testing.T) {
	engine := &scriptedEngine{err: context.DeadlineExceeded}
	runtime, _ := newTestRuntime(t, engine, &echoTool{})

	_, err := runtime.HandleTurn(context.Background(), "conv-1", "hello")
	if xerrors.CodeOf(err) != xerrors.CodeReasoningFailure {
		t.Fatalf("expected REASONING_FAILURE, got %v", err)
	}
}

func TestHandleTurnTrimsHistory(t *testing.T) {
	engine := &scriptedEngine{decisions: []*llm.Decision{{Reply: "ok"}}}
	registry := tool.NewRegistry()
	contexts, err := convo.NewMemoryStore(16)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := contexts.AppendMessages(context.Background(), "conv-1",
			convo.NewMessage(convo.RoleUser, "old"),
			convo.NewMessage(convo.RoleAssistant, "old reply"),
		); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}
	rt := router.New(nil, "test_agent", "general_query")
	runtime := NewRuntime(rt, engine, registry, contexts,
		[]*Descriptor{{ID: "test_agent", DisplayName: "Test Agent"}},
		WithHistoryLimit(4),
	)

	if _, err := runtime.HandleTurn(context.Background(), "conv-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 历史 4 条 + 本回合用户消息。
	if got := len(engine.requests[0].Messages); got != 5 {
		t.Fatalf("expected trimmed history of 5 messages, got %d", got)
	}
}
