package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const DefaultPollInterval = 2 * time.Second

type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// WaitMined waits until hash has a receipt, i.e. one confirmation. New heads wake it up
// when the endpoint supports subscriptions; otherwise it polls every pollInterval.
func WaitMined(ctx context.Context, backend ReceiptBackend, hash common.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	heads := make(chan *types.Header, 1)
	sub, subErr := backend.SubscribeNewHead(ctx, heads)
	if subErr != nil {
		log.Debug("head subscription unavailable, polling for receipt", "tx", hash, "err", subErr)
		return pollForReceipt(ctx, backend, hash, pollInterval)
	}
	defer sub.Unsubscribe()

	// heads can be missed between the receipt check and the select, so a slow ticker backs them up
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := receiptOf(ctx, backend, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-sub.Err():
			if err != nil {
				return nil, fmt.Errorf("head subscription error while waiting for tx: %w", err)
			}
			return nil, errors.New("head subscription closed unexpectedly")
		case <-heads:
		case <-ticker.C:
		}
	}
}

func pollForReceipt(ctx context.Context, backend ReceiptBackend, hash common.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := receiptOf(ctx, backend, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// receiptOf returns (nil, nil) while the transaction is not mined yet. Only context errors
// are fatal; anything else is treated as "not yet".
func receiptOf(ctx context.Context, backend ReceiptBackend, hash common.Hash) (*types.Receipt, error) {
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if err == nil {
		return receipt, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !errors.Is(err, ethereum.NotFound) {
		log.Debug("receipt lookup failed, retrying", "tx", hash, "err", err)
	}
	return nil, nil
}
