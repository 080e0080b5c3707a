package watcher

import (
	"context"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// TipSummary holds simple stats over the priority fees competing calls paid.
type TipSummary struct {
	Count int
	Max   *big.Int
	P50   *big.Int
	P95   *big.Int
	P99   *big.Int
}

type BlockReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockTransactions(ctx context.Context, number *big.Int) (types.Transactions, error)
}

// ScanCompetition looks at the last N blocks for mined calls the matcher accepts and returns
// the effective priority fee each of them paid.
func ScanCompetition(ctx context.Context, backend BlockReader, m *Matcher, blocks int) ([]*big.Int, error) {
	if blocks <= 0 {
		blocks = 100
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	var out []*big.Int
	for i := 0; i < blocks; i++ {
		n := new(big.Int).Sub(head.Number, big.NewInt(int64(i)))
		if n.Sign() < 0 {
			break
		}
		h := head
		if i > 0 {
			if h, err = backend.HeaderByNumber(ctx, n); err != nil {
				log.Debug("competition scan: failed to fetch header", "number", n, "err", err)
				continue
			}
		}
		txs, err := backend.BlockTransactions(ctx, n)
		if err != nil {
			log.Debug("competition scan: failed to fetch block", "number", n, "err", err)
			continue
		}
		for _, tx := range txs {
			if _, ok := m.Match(tx); !ok {
				continue
			}
			tip, err := tx.EffectiveGasTip(h.BaseFee)
			if err != nil || tip.Sign() < 0 {
				continue
			}
			out = append(out, tip)
		}
	}
	return out, nil
}

func tipQuantile(vals []*big.Int, q float64) *big.Int {
	if len(vals) == 0 {
		return big.NewInt(0)
	}
	cp := make([]*big.Int, len(vals))
	for i, v := range vals {
		cp[i] = new(big.Int).Set(v)
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].Cmp(cp[j]) < 0 })
	idx := int(math.Ceil(q*float64(len(cp)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(cp) {
		idx = len(cp) - 1
	}
	return cp[idx]
}

// SummarizeTips aggregates stats over tip values.
func SummarizeTips(vals []*big.Int) TipSummary {
	s := TipSummary{Count: len(vals), Max: big.NewInt(0), P50: big.NewInt(0), P95: big.NewInt(0), P99: big.NewInt(0)}
	for _, v := range vals {
		if v.Cmp(s.Max) > 0 {
			s.Max = new(big.Int).Set(v)
		}
	}
	if len(vals) > 0 {
		s.P50 = tipQuantile(vals, 0.50)
		s.P95 = tipQuantile(vals, 0.95)
		s.P99 = tipQuantile(vals, 0.99)
	}
	return s
}
