// Package chain is the node-facing side of the bot: one RPC connection exposing the standard
// eth namespace plus the geth pending-transaction subscription.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client embeds *ethclient.Client, so it satisfies the backend interfaces of the fee estimator,
// the nonce sequencer, the submitter and the watcher.
type Client struct {
	*ethclient.Client
	rpc     *rpc.Client
	pending *gethclient.Client
}

// Dial connects to url. Subscriptions need a ws:// or ipc endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing %v: %w", redactURL(url), err)
	}
	log.Info("connected to node", "url", redactURL(url))
	return NewClient(rc), nil
}

func NewClient(rc *rpc.Client) *Client {
	return &Client{
		Client:  ethclient.NewClient(rc),
		rpc:     rc,
		pending: gethclient.New(rc),
	}
}

// SubscribePendingTransactions streams hashes of transactions entering the node's pool.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	sub, err := c.pending.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// BlockTransactions returns the transactions of block number (nil = latest).
func (c *Client) BlockTransactions(ctx context.Context, number *big.Int) (types.Transactions, error) {
	block, err := c.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return block.Transactions(), nil
}

// ResolveChainID returns configured when non-zero, otherwise asks the node.
func (c *Client) ResolveChainID(ctx context.Context, configured uint64) (*big.Int, error) {
	if configured != 0 {
		return new(big.Int).SetUint64(configured), nil
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	return id, nil
}

const methodNotFoundCode = -32601

// IsSubscriptionUnsupported reports whether err means the endpoint cannot push notifications
// (plain HTTP) or does not know the subscription.
func IsSubscriptionUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return true
	}
	// geth answers an unknown subscription name with the method-not-found code
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == methodNotFoundCode {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "notifications not supported") ||
		strings.Contains(s, "method not found") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "not supported")
}

// redactURL keeps scheme and host so API keys in paths or queries stay out of logs.
func redactURL(url string) string {
	i := strings.Index(url, "://")
	if i < 0 {
		return url
	}
	scheme, rest := url[:i+3], url[i+3:]
	if j := strings.IndexAny(rest, "/?"); j >= 0 {
		return scheme + rest[:j] + "/…"
	}
	return url
}
