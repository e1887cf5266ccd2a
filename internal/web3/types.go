package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the chain operations the executor needs to sign, submit
// and track EIP-1559 transactions on an EVM network.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}

// Resolver returns the client serving a named network; an empty name selects
// the default chain.
type Resolver interface {
	Resolve(network string) (Client, string, error)
}
