// Package memory implements the ledger client against process memory.
// It exists for development and tests: no keys, no network, instant
// confirmation. Transaction ids carry a recognizable mock prefix so a
// record produced here is never mistaken for a real one.
package memory

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
)

const (
	networkID     = "mock"
	accountAddr   = "0x0000000000000000000000000000000000001ab0"
	startingBlock = 1000000
	txPrefix      = "0xmock"
)

// Client is an in-memory ledger. The zero value is not usable; call New.
type Client struct {
	mu        sync.Mutex
	txs       map[string]*ledger.Transaction
	nextBlock uint64
	sequence  uint64
	balance   *big.Int
	connected bool
	// holdConfirm keeps submitted transactions unconfirmed until
	// ReleaseConfirmations, for exercising timeout paths.
	holdConfirm bool
	pending     []string
}

// Option configures the mock client.
type Option func(*Client)

// WithBalance overrides the default funded balance.
func WithBalance(balance *big.Int) Option {
	return func(c *Client) {
		if balance != nil {
			c.balance = new(big.Int).Set(balance)
		}
	}
}

// WithConnected sets the initial connectivity state.
func WithConnected(connected bool) Option {
	return func(c *Client) { c.connected = connected }
}

// WithHeldConfirmations keeps submissions pending until released.
func WithHeldConfirmations() Option {
	return func(c *Client) { c.holdConfirm = true }
}

// New creates a connected mock ledger holding one unit of gas funds.
func New(opts ...Option) *Client {
	c := &Client{
		txs:       make(map[string]*ledger.Transaction),
		nextBlock: startingBlock,
		balance:   big.NewInt(1_000_000_000_000_000_000),
		connected: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ledger.Client = (*Client)(nil)

// NetworkID 返回模拟网络标识。
func (c *Client) NetworkID() string { return networkID }

// Account 返回固定的模拟账户地址。
func (c *Client) Account() string { return accountAddr }

// ConnectionStatus 返回当前连通状态，可由 SetConnected 切换。
func (c *Client) ConnectionStatus(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetConnected 切换连通状态，用于演练网络故障。
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// GetBalance 返回账户余额。
func (c *Client) GetBalance(ctx context.Context, account string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, xerrors.New(xerrors.CodeLedgerUnavailable, "模拟账本已断开")
	}
	return new(big.Int).Set(c.balance), nil
}

// PendingSequence 返回下一笔提交应使用的序列号。
func (c *Client) PendingSequence(ctx context.Context, account string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, xerrors.New(xerrors.CodeLedgerUnavailable, "模拟账本已断开")
	}
	return c.sequence, nil
}

// EstimateStoreCost 返回固定的模拟交易费用。
func (c *Client) EstimateStoreCost(ctx context.Context) (*big.Int, error) {
	return big.NewInt(21_000_000_000_000), nil
}

// Submit 接受负载并立即出块（除非配置了延迟确认）。
func (c *Client) Submit(ctx context.Context, sequence uint64, payload []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", xerrors.New(xerrors.CodeLedgerUnavailable, "模拟账本已断开")
	}
	if sequence != c.sequence {
		return "", xerrors.New(xerrors.CodeConflict, "交易序列号与账户状态不一致",
			xerrors.WithMetadata("want", formatSeq(c.sequence)),
			xerrors.WithMetadata("got", formatSeq(sequence)))
	}

	txID := txPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	tx := &ledger.Transaction{TxID: txID, Raw: append([]byte(nil), payload...)}
	var decoded ledger.Payload
	if err := json.Unmarshal(payload, &decoded); err == nil && decoded.Type != "" {
		tx.Payload = &decoded
	}

	if c.holdConfirm {
		c.pending = append(c.pending, txID)
	} else {
		c.nextBlock++
		tx.BlockHeight = c.nextBlock
	}
	c.txs[txID] = tx
	c.sequence++
	return txID, nil
}

// ReleaseConfirmations 将所有挂起的交易依次出块。
func (c *Client) ReleaseConfirmations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, txID := range c.pending {
		if tx, ok := c.txs[txID]; ok {
			c.nextBlock++
			tx.BlockHeight = c.nextBlock
		}
	}
	c.pending = nil
}

// GetTransaction 按 ID 查询交易。
func (c *Client) GetTransaction(ctx context.Context, txID string) (*ledger.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, xerrors.New(xerrors.CodeLedgerUnavailable, "模拟账本已断开")
	}
	tx, ok := c.txs[txID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "交易不存在",
			xerrors.WithMetadata("tx_id", txID))
	}
	clone := *tx
	return &clone, nil
}

// TamperPayloadHash 篡改指定交易负载中的摘要，供校验路径测试使用。
func (c *Client) TamperPayloadHash(txID, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[txID]
	if !ok || tx.Payload == nil {
		return false
	}
	tx.Payload.Hash = hash
	return true
}

// Close 释放资源；内存实现无事可做。
func (c *Client) Close() {}

func formatSeq(seq uint64) string {
	return new(big.Int).SetUint64(seq).String()
}
