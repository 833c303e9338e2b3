package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "LabNexus/internal/errors"
)

// RedisStoreConfig 描述 Redis 会话存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore 将会话上下文以 JSON 形式存入 Redis，供多副本部署共享。
// 单个会话上的读改写通过 WATCH/MULTI 乐观事务保证线性化。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 会话存储实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "nexus:convo"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(conversationID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, conversationID)
}

// Get 实现 Store 接口。
func (s *RedisStore) Get(ctx context.Context, conversationID string) (*Context, error) {
	if conversationID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "conversation_id 不能为空")
	}
	raw, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return newContext(conversationID), nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话上下文失败")
	}
	var stored Context
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话上下文失败")
	}
	if stored.State == nil {
		stored.State = make(map[string]any)
	}
	return &stored, nil
}

// Set 实现 Store 接口。
func (s *RedisStore) Set(ctx context.Context, conversationID, key string, value any) error {
	if key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "状态键不能为空")
	}
	return s.update(ctx, conversationID, func(c *Context) {
		c.State[key] = value
	})
}

// AppendMessages 实现 Store 接口。
func (s *RedisStore) AppendMessages(ctx context.Context, conversationID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.update(ctx, conversationID, func(c *Context) {
		c.History = append(c.History, msgs...)
	})
}

// update 在 WATCH 保护下执行读改写，键被并发修改时重试。
func (s *RedisStore) update(ctx context.Context, conversationID string, mutate func(*Context)) error {
	if conversationID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation_id 不能为空")
	}
	key := s.key(conversationID)

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			stored := newContext(conversationID)
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				if err := json.Unmarshal(raw, stored); err != nil {
					return err
				}
				if stored.State == nil {
					stored.State = make(map[string]any)
				}
			}

			mutate(stored)
			stored.LastUpdated = time.Now().Unix()

			encoded, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话上下文失败")
	}
	return xerrors.New(xerrors.CodeStorageFailure, "会话上下文更新竞争持续失败")
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
