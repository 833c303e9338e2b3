package convo

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	xerrors "LabNexus/internal/errors"
)

// defaultCapacity 限制常驻内存的会话数量，防止长期运行的进程无限增长。
const defaultCapacity = 4096

// entry 把每个会话的互斥锁和上下文绑定在一起，
// 锁只在修改上下文时持有，不跨越工具执行等外部调用。
type entry struct {
	mu  sync.Mutex
	ctx *Context
}

// MemoryStore 以进程内 LRU 缓存保存会话上下文。
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
}

// NewMemoryStore 创建容量受限的内存会话存储。capacity 小于等于 0 时使用默认值。
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	cache, err := lru.New[string, *entry](capacity)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建会话缓存失败")
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) acquire(conversationID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache.Get(conversationID); ok {
		return e
	}
	e := &entry{ctx: newContext(conversationID)}
	s.cache.Add(conversationID, e)
	return e
}

// Get 实现 Store 接口。
func (s *MemoryStore) Get(_ context.Context, conversationID string) (*Context, error) {
	if conversationID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "conversation_id 不能为空")
	}
	e := s.acquire(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.Clone(), nil
}

// Set 实现 Store 接口。
func (s *MemoryStore) Set(_ context.Context, conversationID, key string, value any) error {
	if conversationID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation_id 不能为空")
	}
	if key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "状态键不能为空")
	}
	e := s.acquire(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx.State[key] = value
	e.ctx.LastUpdated = time.Now().Unix()
	return nil
}

// AppendMessages 实现 Store 接口。整组消息在同一次加锁内追加，
// 并发回合不会把各自的消息交错写入。
func (s *MemoryStore) AppendMessages(_ context.Context, conversationID string, msgs ...Message) error {
	if conversationID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation_id 不能为空")
	}
	if len(msgs) == 0 {
		return nil
	}
	e := s.acquire(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx.History = append(e.ctx.History, msgs...)
	e.ctx.LastUpdated = time.Now().Unix()
	return nil
}

// Len 返回当前缓存的会话数量，主要用于测试与指标。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Close 对内存存储无需操作。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
