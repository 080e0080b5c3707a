package fees

import (
	"context"
	"errors"
	"math/big"
)

// RewardStats aggregates min/avg/max for given percentiles.
type RewardStats struct {
	Min *big.Int
	Avg *big.Int
	Max *big.Int
}

// HistoryStats returns min/avg/max priority fee rewards over the last N blocks for given percentiles.
func HistoryStats(ctx context.Context, backend Backend, blocks int, percentiles []int) (map[int]RewardStats, error) {
	if blocks <= 0 {
		blocks = 100
	}
	if len(percentiles) == 0 {
		percentiles = []int{50, 95, 99}
	}
	pcts := make([]float64, len(percentiles))
	for i, p := range percentiles {
		pcts[i] = float64(p)
	}
	hist, err := backend.FeeHistory(ctx, uint64(blocks), nil, pcts)
	if err != nil {
		return nil, err
	}
	if hist == nil || len(hist.Reward) == 0 {
		return nil, errors.New("feeHistory: empty reward")
	}

	res := make(map[int]RewardStats, len(percentiles))
	for _, p := range percentiles {
		res[p] = RewardStats{Avg: big.NewInt(0), Max: big.NewInt(0)}
	}
	for _, row := range hist.Reward {
		for j := 0; j < len(percentiles) && j < len(row); j++ {
			v := row[j]
			if v == nil {
				continue
			}
			st := res[percentiles[j]]
			if st.Min == nil || v.Cmp(st.Min) < 0 {
				st.Min = new(big.Int).Set(v)
			}
			if v.Cmp(st.Max) > 0 {
				st.Max = new(big.Int).Set(v)
			}
			st.Avg.Add(st.Avg, v)
			res[percentiles[j]] = st
		}
	}
	rows := big.NewInt(int64(len(hist.Reward)))
	for p, st := range res {
		st.Avg.Div(st.Avg, rows)
		if st.Min == nil {
			st.Min = big.NewInt(0)
		}
		res[p] = st
	}
	return res, nil
}

// TipFromFeeHistory returns the max reward[percentile] over the last N blocks.
func TipFromFeeHistory(ctx context.Context, backend Backend, blocks uint64, percentile float64) (*big.Int, error) {
	if blocks == 0 {
		blocks = 20
	}
	if percentile <= 0 || percentile > 100 {
		percentile = 90
	}
	hist, err := backend.FeeHistory(ctx, blocks, nil, []float64{percentile})
	if err != nil {
		return nil, err
	}
	max := big.NewInt(0)
	if hist != nil {
		for _, row := range hist.Reward {
			if len(row) == 0 || row[0] == nil {
				continue
			}
			if row[0].Cmp(max) > 0 {
				max = row[0]
			}
		}
	}
	if max.Sign() == 0 {
		return nil, errors.New("feeHistory: empty reward")
	}
	return new(big.Int).Set(max), nil
}
