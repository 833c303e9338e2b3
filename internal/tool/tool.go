package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	xerrors "LabNexus/internal/errors"
)

// SideEffect 标记工具执行对外部世界的影响，供审计与取消策略参考。
type SideEffect string

const (
	SideEffectNone           SideEffect = "none"
	SideEffectReadsExternal  SideEffect = "reads-external"
	SideEffectWritesExternal SideEffect = "writes-external"
)

// Result 是工具执行的统一返回值。工具永远不向循环抛出异常，
// 失败同样以 Result 形式返回，由推理引擎决定如何继续。
type Result struct {
	OK         bool           `json:"ok"`
	Payload    string         `json:"payload,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	ErrKind    xerrors.Code   `json:"err_kind,omitempty"`
	ErrMessage string         `json:"err_message,omitempty"`
}

// Ok 构造成功结果。
func Ok(payload string) Result {
	return Result{OK: true, Payload: payload}
}

// OkWithDetails 构造携带结构化附加信息的成功结果。
func OkWithDetails(payload string, details map[string]any) Result {
	return Result{OK: true, Payload: payload, Details: details}
}

// Errorf 构造失败结果。
func Errorf(kind xerrors.Code, format string, args ...any) Result {
	return Result{OK: false, ErrKind: kind, ErrMessage: fmt.Sprintf(format, args...)}
}

// Render 把结果转换为推理引擎可读的文本。
func (r Result) Render() string {
	if r.OK {
		return r.Payload
	}
	return fmt.Sprintf("工具执行失败 [%s]: %s", r.ErrKind, r.ErrMessage)
}

// Tool 定义了一个可被智能体调用的能力。Schema 返回 JSON Schema 文档，
// 在执行前用于参数校验。
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	SideEffect() SideEffect
	Execute(ctx context.Context, params json.RawMessage) Result
}

// Registry 维护名字到工具的映射。进程启动阶段注册完成后只读，
// 循环中的查找无需加锁，这里保留锁仅为注册阶段的并发安全。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register 注册一个工具，重名视为配置错误。
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool 不能为空")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 已注册", name))
	}
	r.tools[name] = t
	return nil
}

// MustRegister 与 Register 相同，注册失败直接 panic，用于启动阶段。
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names 返回已注册的工具名称，按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateParams 用工具声明的 JSON Schema 校验调用参数。
// 校验失败返回 INVALID_TOOL_INPUT 的失败结果，交由推理引擎修正重试。
func ValidateParams(t Tool, params json.RawMessage) *Result {
	schema := t.Schema()
	if len(schema) == 0 {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(params),
	)
	if err != nil {
		res := Errorf(xerrors.CodeInvalidToolInput, "参数不是合法的 JSON 对象: %v", err)
		return &res
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	res := Errorf(xerrors.CodeInvalidToolInput, "参数校验失败: %s", strings.Join(issues, "; "))
	return &res
}
