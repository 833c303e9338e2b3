package llm

import (
	"context"
	"encoding/json"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是推理引擎可见的一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolName 仅在 Role 为 tool 时填写，标记该消息是哪个工具的执行结果。
	ToolName string `json:"tool_name,omitempty"`
}

// ToolSpec 描述提供给推理引擎选择的一个工具。
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request 描述一次推理调用的完整上下文。
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
}

// ToolCall 表示推理引擎请求执行某个工具。
type ToolCall struct {
	Name   string
	Params json.RawMessage
}

// Decision 是推理引擎的结构化输出：要么给出最终回复，要么请求一次工具调用。
type Decision struct {
	Reply    string
	ToolCall *ToolCall
}

// IsToolCall 判断本次输出是否为工具调用请求。
func (d *Decision) IsToolCall() bool {
	return d != nil && d.ToolCall != nil
}

// Client 定义了调用推理引擎的统一接口。
type Client interface {
	Reason(ctx context.Context, req Request) (*Decision, error)
}
