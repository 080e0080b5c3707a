package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/mint-racer/internal/fees"
	"github.com/ligun0805/mint-racer/internal/watcher"
)

var netcheckPercentiles = []int{50, 95, 99}

type netcheckBackend interface {
	fees.Backend
	watcher.BlockReader
}

// logNetworkState prints the fee environment and what competing mints paid recently.
func logNetworkState(ctx context.Context, client netcheckBackend, m *watcher.Matcher, blocks int, gasLimit uint64, baseMul int64, ceiling *big.Int) {
	baseFee := big.NewInt(0)
	if h, err := client.HeaderByNumber(ctx, nil); err == nil && h.BaseFee != nil {
		baseFee = new(big.Int).Set(h.BaseFee)
	}
	log.Info("netcheck: base fee", "gwei", fees.FormatGwei(baseFee))

	stats, err := fees.HistoryStats(ctx, client, blocks, netcheckPercentiles)
	if err != nil {
		log.Warn("netcheck: fee history unavailable", "err", err)
	} else {
		for _, p := range netcheckPercentiles {
			st := stats[p]
			log.Info("netcheck: priority fee rewards", "blocks", blocks, "percentile", p,
				"minGwei", fees.FormatGwei(st.Min), "avgGwei", fees.FormatGwei(st.Avg), "maxGwei", fees.FormatGwei(st.Max))
		}
	}

	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(baseMul)), ceiling)
	worst := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), feeCap)
	log.Info("netcheck: worst case gas cost at ceiling", "eth", fees.FormatEther(worst))

	tips, err := watcher.ScanCompetition(ctx, client, m, blocks)
	if err != nil {
		log.Warn("netcheck: competition scan failed", "err", err)
		return
	}
	s := watcher.SummarizeTips(tips)
	log.Info("netcheck: competing calls", "blocks", blocks, "count", s.Count, "maxGwei", fees.FormatGwei(s.Max),
		"p50Gwei", fees.FormatGwei(s.P50), "p95Gwei", fees.FormatGwei(s.P95), "p99Gwei", fees.FormatGwei(s.P99))
	if s.Count > 0 && s.P50.Cmp(ceiling) > 0 {
		log.Warn("netcheck: median competing tip is above the priority fee ceiling", "ceilingGwei", fees.FormatGwei(ceiling))
	}
}
