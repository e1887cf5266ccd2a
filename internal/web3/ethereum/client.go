package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"IntentLayer-Lite/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	expected  *big.Int
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return NewFromRPC(cfg, rpcClient), nil
}

// NewFromRPC wraps an existing RPC connection, e.g. an in-process server.
func NewFromRPC(cfg Config, rpcClient *gethrpc.Client) *Client {
	c := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}
	if cfg.ChainID > 0 {
		c.expected = big.NewInt(cfg.ChainID)
	}
	return c
}

// Name returns the chain name used in configuration.
func (c *Client) Name() string { return c.name }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.eth, nil
}

// ChainID returns the chain id, cached after the first successful call and
// checked against the configured value when one is set.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if c.expected != nil && c.expected.Cmp(id) != 0 {
		return nil, fmt.Errorf("链 %s 的 ID 为 %s，与配置的 %s 不一致", c.name, id, c.expected)
	}

	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	eth, err := c.backend()
	if err != nil {
		return 0, err
	}
	return eth.BlockNumber(ctx)
}

// PendingNonceAt returns the next nonce for account including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	eth, err := c.backend()
	if err != nil {
		return 0, err
	}
	return eth.PendingNonceAt(ctx, account)
}

// EstimateGas estimates the gas needed to execute msg.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	eth, err := c.backend()
	if err != nil {
		return 0, err
	}
	return eth.EstimateGas(ctx, msg)
}

// SuggestGasTipCap returns the node's suggested priority fee.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.SuggestGasTipCap(ctx)
}

// HeaderByNumber returns a block header; nil selects the latest block.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.HeaderByNumber(ctx, number)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	eth, err := c.backend()
	if err != nil {
		return err
	}
	return eth.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt of a mined transaction, or
// go-ethereum's NotFound error while it is pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.TransactionReceipt(ctx, hash)
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
