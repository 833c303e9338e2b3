package convo

import (
	"context"
	"time"
)

// Role 表示会话历史中消息的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message 是会话历史中的一条不可变消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolName 仅在 Role 为 tool 时填写，记录该消息属于哪个工具的执行轨迹。
	ToolName  string `json:"tool_name,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage 构造带当前时间戳的消息。
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().Unix()}
}

// NewToolMessage 构造一条工具执行结果消息。
func NewToolMessage(toolName, content string) Message {
	return Message{Role: RoleTool, ToolName: toolName, Content: content, Timestamp: time.Now().Unix()}
}

// Context 保存单个会话的全部记忆：有序历史加键值状态。
// 智能体始终通过 Store 按 conversation_id 读写，不跨回合持有副本。
type Context struct {
	ConversationID string         `json:"conversation_id"`
	History        []Message      `json:"history"`
	State          map[string]any `json:"state"`
	LastUpdated    int64          `json:"last_updated"`
}

// Clone 返回深拷贝，避免调用方修改存储内部状态。
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := &Context{
		ConversationID: c.ConversationID,
		History:        make([]Message, len(c.History)),
		State:          make(map[string]any, len(c.State)),
		LastUpdated:    c.LastUpdated,
	}
	copy(clone.History, c.History)
	for k, v := range c.State {
		clone.State[k] = v
	}
	return clone
}

func newContext(conversationID string) *Context {
	return &Context{
		ConversationID: conversationID,
		History:        nil,
		State:          make(map[string]any),
		LastUpdated:    time.Now().Unix(),
	}
}

type conversationIDKey struct{}

// WithConversationID 把会话 ID 注入 context，供需要感知会话的工具读取。
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, conversationID)
}

// ConversationIDFrom 取出注入的会话 ID，未注入时返回空串。
func ConversationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey{}).(string)
	return id
}

// Store 抽象会话上下文的持久化。同一 conversation_id 上的操作是线性化的，
// 不同会话之间完全独立、可并行。
type Store interface {
	// Get 返回指定会话的上下文，首次访问时创建空上下文。
	Get(ctx context.Context, conversationID string) (*Context, error)
	// Set 更新会话状态中的一个键。
	Set(ctx context.Context, conversationID, key string, value any) error
	// AppendMessages 将一组消息原子地追加到会话历史末尾。
	AppendMessages(ctx context.Context, conversationID string, msgs ...Message) error
	Close() error
}
