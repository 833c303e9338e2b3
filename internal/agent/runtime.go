package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LabNexus/internal/convo"
	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/llm"
	"LabNexus/internal/observability/metrics"
	"LabNexus/internal/router"
	"LabNexus/internal/tool"
	"LabNexus/pkg/logger"
)

const (
	defaultMaxIterations = 8
	defaultHistoryLimit  = 20

	// overrideIntent 标记绕过路由、由调用方直接指定智能体的回合。
	overrideIntent = "agent_override"
)

// Runtime 驱动单个会话回合：路由到智能体，运行推理-工具循环，
// 最后把本回合落入会话历史。工具循环最多执行 maxIterations 次推理，
// 超出时以最后一次工具输出构造降级回复收尾，保证任何回合都在有限步内终止。
type Runtime struct {
	router        *router.Router
	engine        llm.Client
	registry      *tool.Registry
	contexts      convo.Store
	agents        map[string]*Descriptor
	maxIterations int
	historyLimit  int
	log           *slog.Logger
}

// Option 定义运行时的可选配置。
type Option func(*Runtime)

// WithMaxIterations 覆盖工具循环的推理次数上限。
func WithMaxIterations(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithHistoryLimit 限制送入推理引擎的历史消息条数。
func WithHistoryLimit(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// NewRuntime 构造回合运行时。descriptors 为空时使用内置智能体。
func NewRuntime(rt *router.Router, engine llm.Client, registry *tool.Registry,
	contexts convo.Store, descriptors []*Descriptor, opts ...Option) *Runtime {

	if len(descriptors) == 0 {
		descriptors = DefaultDescriptors()
	}
	agents := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		agents[d.ID] = d
	}

	r := &Runtime{
		router:        rt,
		engine:        engine,
		registry:      registry,
		contexts:      contexts,
		agents:        agents,
		maxIterations: defaultMaxIterations,
		historyLimit:  defaultHistoryLimit,
		log:           logger.Named("agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TurnResult 是一个回合的结果。
type TurnResult struct {
	ConversationID string   `json:"conversation_id"`
	Reply          string   `json:"reply"`
	AgentID        string   `json:"agent_id"`
	AgentName      string   `json:"agent_name"`
	Intent         string   `json:"intent"`
	Fallback       bool     `json:"fallback"`
	Iterations     int      `json:"iterations"`
	ToolsUsed      []string `json:"tools_used,omitempty"`
	// MaxIterationsExceeded 表示回合在推理次数耗尽后降级收尾，
	// Reply 是尽力而为的部分答案而非引擎给出的最终回复。
	MaxIterationsExceeded bool  `json:"max_iterations_exceeded,omitempty"`
	ElapsedMS             int64 `json:"elapsed_ms"`
}

// turnOptions 收集单个回合的调用方参数。
type turnOptions struct {
	agentOverride string
	seedHistory   []convo.Message
	seedProvided  bool
}

// TurnOption 配置单个回合。
type TurnOption func(*turnOptions)

// WithAgentOverride 绕过意图路由，把回合直接交给指定智能体。
// 指定的智能体必须已注册，否则回合以 NOT_FOUND 失败。
func WithAgentOverride(agentID string) TurnOption {
	return func(o *turnOptions) {
		o.agentOverride = strings.TrimSpace(agentID)
	}
}

// WithSeedHistory 用调用方提供的历史替代存储中的历史来构造本回合的
// 推理上下文，供无状态客户端携带既有对话记录。回合结束后消息仍然
// 追加到存储的历史中。
func WithSeedHistory(msgs ...convo.Message) TurnOption {
	return func(o *turnOptions) {
		o.seedHistory = msgs
		o.seedProvided = true
	}
}

// HandleTurn 处理一条用户消息并返回智能体回复。
// 回合成功结束时，用户消息、工具调用轨迹与最终回复作为一个原子批次
// 追加进会话历史；回合失败则不写入任何状态，对话停留在上一回合结束
// 时的样子。推理次数耗尽不算失败：回合以降级回复收尾并照常落入历史。
func (r *Runtime) HandleTurn(ctx context.Context, conversationID, message string, opts ...TurnOption) (*TurnResult, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "conversation_id 不能为空")
	}
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	var turnOpts turnOptions
	for _, opt := range opts {
		opt(&turnOpts)
	}
	started := time.Now()

	decision := r.resolveAgent(conversationID, message, &turnOpts)
	descriptor, ok := r.agents[decision.AgentID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "回合指向未注册的智能体",
			xerrors.WithMetadata("agent_id", decision.AgentID))
	}

	convoCtx, err := r.contexts.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	history := convoCtx.History
	if turnOpts.seedProvided {
		history = turnOpts.seedHistory
	}
	messages := r.buildHistory(history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	request := llm.Request{
		SystemPrompt: descriptor.SystemPrompt,
		Messages:     messages,
		Tools:        r.toolSpecs(descriptor),
	}

	toolCtx := convo.WithConversationID(ctx, conversationID)
	result := &TurnResult{
		ConversationID: conversationID,
		AgentID:        descriptor.ID,
		AgentName:      descriptor.DisplayName,
		Intent:         decision.Intent,
		Fallback:       decision.Fallback,
	}

	// turn 积累本回合要落入历史的消息：用户输入、工具轨迹、最终回复。
	turn := []convo.Message{convo.NewMessage(convo.RoleUser, message)}
	lastToolOutput := ""

	for iteration := 1; iteration <= r.maxIterations; iteration++ {
		result.Iterations = iteration

		engineDecision, err := r.engine.Reason(ctx, request)
		if err != nil {
			metrics.CountEvent("turns", "failed")
			return nil, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "推理引擎调用失败",
				xerrors.WithMetadata("agent_id", descriptor.ID))
		}

		if !engineDecision.IsToolCall() {
			result.Reply = engineDecision.Reply
			result.ElapsedMS = time.Since(started).Milliseconds()
			turn = append(turn, convo.NewMessage(convo.RoleAssistant, result.Reply))
			if err := r.commitTurn(ctx, conversationID, turn); err != nil {
				return nil, err
			}
			metrics.CountEvent("turns", "completed")
			r.auditTurn(result)
			return result, nil
		}

		call := engineDecision.ToolCall
		if !descriptor.Allows(call.Name) {
			metrics.CountEvent("turns", "failed")
			return nil, xerrors.New(xerrors.CodeToolNotAllowed,
				fmt.Sprintf("智能体 %s 请求了白名单之外的工具 %s", descriptor.ID, call.Name),
				xerrors.WithMetadata("agent_id", descriptor.ID),
				xerrors.WithMetadata("tool", call.Name))
		}
		selected, ok := r.registry.Lookup(call.Name)
		if !ok {
			metrics.CountEvent("turns", "failed")
			return nil, xerrors.New(xerrors.CodeToolNotAllowed,
				fmt.Sprintf("工具 %s 未注册", call.Name),
				xerrors.WithMetadata("tool", call.Name))
		}

		var toolResult tool.Result
		if invalid := tool.ValidateParams(selected, call.Params); invalid != nil {
			// 非法参数不终止回合，把校验信息回灌给推理引擎修正重试。
			toolResult = *invalid
			r.log.Info("工具参数校验失败",
				"conversation_id", conversationID, "tool", call.Name,
				"error", invalid.ErrMessage)
		} else {
			toolResult = selected.Execute(toolCtx, call.Params)
			r.log.Info("工具执行完成",
				"conversation_id", conversationID, "tool", call.Name,
				"ok", toolResult.OK, "iteration", iteration)
			result.ToolsUsed = append(result.ToolsUsed, call.Name)
			lastToolOutput = toolResult.Render()
		}

		callNote := fmt.Sprintf("Calling tool %s with arguments %s", call.Name, string(call.Params))
		rendered := toolResult.Render()
		request.Messages = append(request.Messages,
			llm.Message{Role: llm.RoleAssistant, Content: callNote},
			llm.Message{Role: llm.RoleTool, ToolName: call.Name, Content: rendered},
		)
		turn = append(turn,
			convo.NewMessage(convo.RoleAssistant, callNote),
			convo.NewToolMessage(call.Name, rendered),
		)
	}

	// 推理次数耗尽：用已有的工具输出构造降级回复，回合照常提交。
	result.Reply = degradedReply(lastToolOutput)
	result.MaxIterationsExceeded = true
	result.ElapsedMS = time.Since(started).Milliseconds()
	turn = append(turn, convo.NewMessage(convo.RoleAssistant, result.Reply))
	if err := r.commitTurn(ctx, conversationID, turn); err != nil {
		return nil, err
	}
	r.log.Warn("回合达到推理次数上限，降级收尾",
		"conversation_id", conversationID, "agent_id", descriptor.ID,
		"code", string(xerrors.CodeMaxIterationsExceeded),
		"max_iterations", r.maxIterations)
	metrics.CountEvent("turns", "degraded")
	r.auditTurn(result)
	return result, nil
}

// resolveAgent 决定本回合由哪个智能体接手：调用方指定优先，否则走路由。
func (r *Runtime) resolveAgent(conversationID, message string, opts *turnOptions) router.Decision {
	if opts.agentOverride != "" {
		return router.Decision{AgentID: opts.agentOverride, Intent: overrideIntent}
	}
	decision := r.router.Route(message)
	if decision.Fallback {
		r.log.Info("路由未命中，使用默认智能体",
			"conversation_id", conversationID, "agent", decision.AgentID)
	}
	return decision
}

// degradedReply 把最后一次工具输出包装成尽力而为的部分答案。
func degradedReply(lastToolOutput string) string {
	reply := "I couldn't finish reasoning about this request within the allowed number of steps."
	if lastToolOutput != "" {
		reply += " Here is the last information I gathered:\n" + lastToolOutput
	}
	return reply
}

// buildHistory 把会话历史裁剪为最近 historyLimit 条并转换为引擎消息。
func (r *Runtime) buildHistory(history []convo.Message) []llm.Message {
	if len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}
	messages := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, llm.Message{
			Role:     llm.Role(msg.Role),
			Content:  msg.Content,
			ToolName: msg.ToolName,
		})
	}
	return messages
}

// toolSpecs 返回白名单中已注册工具的声明。白名单里出现未注册的名字
// 属于配置错误，这里跳过并告警而不是让整个回合不可用。
func (r *Runtime) toolSpecs(d *Descriptor) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(d.AllowedTools))
	for _, name := range d.AllowedTools {
		t, ok := r.registry.Lookup(name)
		if !ok {
			r.log.Warn("白名单中的工具未注册", "agent_id", d.ID, "tool", name)
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return specs
}

func (r *Runtime) commitTurn(ctx context.Context, conversationID string, turn []convo.Message) error {
	return r.contexts.AppendMessages(ctx, conversationID, turn...)
}

func (r *Runtime) auditTurn(result *TurnResult) {
	logger.Audit().Info("turn_completed",
		"conversation_id", result.ConversationID,
		"agent_id", result.AgentID,
		"intent", result.Intent,
		"fallback", result.Fallback,
		"iterations", result.Iterations,
		"max_iterations_exceeded", result.MaxIterationsExceeded,
		"tools_used", strings.Join(result.ToolsUsed, ","),
		"elapsed_ms", result.ElapsedMS,
	)
}
