package submit

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
)

const (
	ReasonNonceTooLow  = "nonce too low"
	ReasonInsufficient = "insufficient funds"
	ReasonUnderpriced  = "replacement underpriced"
	ReasonFeeTooLow    = "fee below base fee"
	ReasonAlreadyKnown = "already known"
	ReasonRateLimited  = "rate limited"
	ReasonSigning      = "signing failed"
	ReasonRejected     = "rejected"
)

// classify maps a broadcast error to a short reason for logs.
func classify(err error) string {
	if err == nil {
		return ""
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "nonce too low"):
		return ReasonNonceTooLow
	case strings.Contains(s, "insufficient funds"):
		return ReasonInsufficient
	case strings.Contains(s, "underpriced"):
		return ReasonUnderpriced
	case strings.Contains(s, "less than block base fee"), strings.Contains(s, "fee cap less than"):
		return ReasonFeeTooLow
	case strings.Contains(s, "already known"):
		return ReasonAlreadyKnown
	case isRateLimitError(err):
		return ReasonRateLimited
	default:
		return ReasonRejected
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

func revertReason(e error) string {
	s := e.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}

type caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// callWithRetry performs eth_call with small exponential backoff. Reverts are not retried.
func callWithRetry(ctx context.Context, backend caller, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := backend.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, err
		}
		if attempt < maxAttempts {
			log.Debug("eth_call failed, retrying", "attempt", attempt, "err", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}
