// Package fees picks the priority fee for a mint attempt: the network suggestion clamped to a
// configured ceiling, and a deterministic bump for the single retry.
package fees

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	TipSourceSuggest = "suggest"
	TipSourceFeeHist = "feehist"
)

var ErrFeeUnavailable = errors.New("priority fee unavailable")

// Backend is the slice of the chain client the estimator reads from.
type Backend interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

type Config struct {
	Ceiling           *big.Int
	BumpMultiplier    float64
	BaseFeeMultiplier int64
	TipSource         string
	HistoryBlocks     uint64
	HistoryPercentile float64
}

type Estimator struct {
	backend Backend
	config  Config
	bump    *big.Rat
	baseFee atomic.Pointer[big.Int]
}

func NewEstimator(backend Backend, config Config) (*Estimator, error) {
	if config.Ceiling == nil || config.Ceiling.Sign() <= 0 {
		return nil, errors.New("fee ceiling must be positive")
	}
	bump, ok := new(big.Rat).SetString(trimFloat(config.BumpMultiplier))
	if !ok || config.BumpMultiplier <= 0 {
		return nil, fmt.Errorf("invalid bump multiplier %v", config.BumpMultiplier)
	}
	if config.BaseFeeMultiplier < 1 {
		config.BaseFeeMultiplier = 1
	}
	return &Estimator{backend: backend, config: config, bump: bump}, nil
}

// Estimate returns min(suggested priority fee, ceiling). It only reads the tip; the base fee
// used by FeeCap comes from RefreshBaseFee and ObserveHeader.
func (e *Estimator) Estimate(ctx context.Context) (*big.Int, error) {
	suggested, err := e.suggest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeeUnavailable, err)
	}
	if suggested.Cmp(e.config.Ceiling) > 0 {
		log.Debug("clamping priority fee to ceiling", "suggestedGwei", FormatGwei(suggested), "ceilingGwei", FormatGwei(e.config.Ceiling))
		return new(big.Int).Set(e.config.Ceiling), nil
	}
	return suggested, nil
}

func (e *Estimator) suggest(ctx context.Context) (*big.Int, error) {
	if e.config.TipSource == TipSourceFeeHist {
		tip, err := TipFromFeeHistory(ctx, e.backend, e.config.HistoryBlocks, e.config.HistoryPercentile)
		if err == nil {
			return tip, nil
		}
		log.Debug("fee history tip unavailable, falling back to node suggestion", "err", err)
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	if tip == nil || tip.Sign() < 0 {
		return nil, errors.New("node returned no priority fee")
	}
	return tip, nil
}

// RefreshBaseFee reads the latest head once, to seed the base fee before the block path has
// delivered any. On error the previous value is kept.
func (e *Estimator) RefreshBaseFee(ctx context.Context) error {
	h, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("reading latest header: %w", err)
	}
	e.ObserveHeader(h)
	return nil
}

// ObserveHeader records the base fee of a freshly seen head.
func (e *Estimator) ObserveHeader(h *types.Header) {
	if h == nil || h.BaseFee == nil {
		return
	}
	e.baseFee.Store(new(big.Int).Set(h.BaseFee))
}

// BaseFee is the last observed base fee, or nil if none was seen yet.
func (e *Estimator) BaseFee() *big.Int {
	bf := e.baseFee.Load()
	if bf == nil {
		return nil
	}
	return new(big.Int).Set(bf)
}

// Bump returns ceil(prev * multiplier) in wei, never less than prev.
func (e *Estimator) Bump(prev *big.Int) *big.Int {
	if prev == nil {
		return big.NewInt(0)
	}
	r := new(big.Rat).Mul(new(big.Rat).SetInt(prev), e.bump)
	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if q.Cmp(prev) < 0 {
		return new(big.Int).Set(prev)
	}
	return q
}

// FeeCap is the max fee per gas for a given tip: baseFee * multiplier + tip.
// Without an observed base fee it falls back to tip * multiplier.
func (e *Estimator) FeeCap(tip *big.Int) *big.Int {
	mul := big.NewInt(e.config.BaseFeeMultiplier)
	bf := e.baseFee.Load()
	if bf == nil {
		return new(big.Int).Mul(tip, mul)
	}
	feeCap := new(big.Int).Mul(bf, mul)
	return feeCap.Add(feeCap, tip)
}

// Ceiling is the configured priority fee ceiling.
func (e *Estimator) Ceiling() *big.Int {
	return new(big.Int).Set(e.config.Ceiling)
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
