// Package neox implements the ledger client against Neo X, an EVM
// compatible chain. Provenance payloads ride in the data field of a
// zero-value transaction from the service account to itself.
package neox

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
)

const (
	// fallbackGasLimit is used when the node refuses to estimate gas.
	fallbackGasLimit = uint64(120_000)
	statusProbeLimit = 5 * time.Second
)

// Config describes how to construct a Neo X client.
type Config struct {
	NetworkID  string
	RPCURL     string
	PrivateKey string
	ChainID    int64
}

// Client implements the ledger.Client interface for Neo X.
type Client struct {
	networkID string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
	key       *ecdsa.PrivateKey
	address   common.Address
}

var _ ledger.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint, loads the signing key and
// resolves the chain id (from config when set, otherwise from the node).
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 Neo X RPC 地址")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyHex == "" {
		return nil, errors.New("未配置签名私钥")
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 Neo X 节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	networkID := strings.TrimSpace(cfg.NetworkID)
	if networkID == "" {
		networkID = "neox-" + chainID.String()
	}

	return &Client{
		networkID: networkID,
		rpcClient: rpcClient,
		eth:       eth,
		chainID:   chainID,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NetworkID identifies the configured chain.
func (c *Client) NetworkID() string { return c.networkID }

// Account returns the signing account address in hex form.
func (c *Client) Account() string { return c.address.Hex() }

// ConnectionStatus probes the node with a block number call.
func (c *Client) ConnectionStatus(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, statusProbeLimit)
	defer cancel()
	_, err := c.eth.BlockNumber(probeCtx)
	return err == nil
}

// GetBalance returns the spendable balance of the given account.
func (c *Client) GetBalance(ctx context.Context, account string) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// PendingSequence returns the pending nonce of the account.
func (c *Client) PendingSequence(ctx context.Context, account string) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, common.HexToAddress(account))
	if err != nil {
		return 0, fmt.Errorf("查询账户 nonce 失败: %w", err)
	}
	return nonce, nil
}

// EstimateStoreCost prices one store transaction at the node's suggested
// gas price and the fallback gas limit.
func (c *Client) EstimateStoreCost(ctx context.Context) (*big.Int, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 gas 价格失败: %w", err)
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(fallbackGasLimit)), nil
}

// Submit signs a zero-value self-transaction carrying payload at the
// given nonce and broadcasts it.
func (c *Client) Submit(ctx context.Context, sequence uint64, payload []byte) (string, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("查询 gas 价格失败: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, gethcore.CallMsg{
		From:     c.address,
		To:       &c.address,
		GasPrice: gasPrice,
		Data:     payload,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    sequence,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		if strings.Contains(err.Error(), "insufficient funds") {
			return "", xerrors.Wrap(xerrors.CodeInsufficientFunds, err, "账户余额不足",
				xerrors.WithMetadata("account", c.address.Hex()))
		}
		return "", fmt.Errorf("广播交易失败: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// GetTransaction fetches a transaction, decoding the provenance payload
// from its data field. An unconfirmed transaction has BlockHeight zero.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*ledger.Transaction, error) {
	hash := common.HexToHash(txID)
	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return nil, xerrors.New(xerrors.CodeNotFound, "交易不存在",
				xerrors.WithMetadata("tx_id", txID))
		}
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}

	out := &ledger.Transaction{TxID: txID, Raw: tx.Data()}
	var payload ledger.Payload
	if err := json.Unmarshal(tx.Data(), &payload); err == nil && payload.Type != "" {
		out.Payload = &payload
	}

	if pending {
		return out, nil
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return out, nil
	}
	if receipt.BlockNumber != nil {
		out.BlockHeight = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}
