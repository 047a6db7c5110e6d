// Package chain reads contract state over JSON-RPC: token allowances and
// balances, quoter probes and account facts.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller is the read-only subset of ethclient used by this package
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client wraps an ethclient connection
type Client struct {
	*ethclient.Client
	rpcURL string
}

// URL returns the endpoint the client is connected to
func (c *Client) URL() string {
	return c.rpcURL
}

// Dial connects to the RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return &Client{Client: client, rpcURL: rpcURL}, nil
}

func call(ctx context.Context, caller Caller, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}
	return caller.CallContract(ctx, msg, nil)
}
