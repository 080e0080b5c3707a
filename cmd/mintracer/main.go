package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/ligun0805/mint-racer/internal/chain"
	"github.com/ligun0805/mint-racer/internal/config"
	"github.com/ligun0805/mint-racer/internal/fees"
	"github.com/ligun0805/mint-racer/internal/nonce"
	"github.com/ligun0805/mint-racer/internal/race"
	"github.com/ligun0805/mint-racer/internal/submit"
	"github.com/ligun0805/mint-racer/internal/target"
	"github.com/ligun0805/mint-racer/internal/watcher"
)

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg, k, err := config.Parse(os.Args[1:], true)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printSampleUsage(filepath.Base(os.Args[0]))
			return 0
		}
		fmt.Fprintf(os.Stderr, "error parsing config: %v\n", err)
		printSampleUsage(filepath.Base(os.Args[0]))
		return 1
	}
	if cfg.Conf.Dump {
		c, err := config.Dump(k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to dump config: %v\n", err)
			return 1
		}
		fmt.Println(string(c))
		return 0
	}
	if !cfg.DryRun && cfg.PrivateKey == "" && stdinIsTerminal() {
		if cfg.PrivateKey, err = readPassword("Private key of the minting account: "); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}
	if err := initLog(cfg.Log, os.Stderr, int(os.Stderr.Fd())); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing log: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigint
		log.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Error("fatal", "err", err)
		return 1
	}
	return 0
}

// node is what the pipeline needs from the chain connection.
type node interface {
	watcher.Backend
	fees.Backend
	nonce.Backend
	submit.Backend
}

// run dials the node and serves until ctx ends. Errors returned here are process-fatal.
func run(ctx context.Context, cfg *config.Config) error {
	dialCtx, cancelDial := context.WithTimeout(ctx, 30*time.Second)
	client, err := chain.Dial(dialCtx, cfg.RPCURL)
	cancelDial()
	if err != nil {
		return err
	}
	defer client.Close()
	chainID, err := client.ResolveChainID(ctx, cfg.ChainID)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, client, chainID)
}

// serve wires the components over an established connection and blocks until ctx ends.
func serve(ctx context.Context, cfg *config.Config, client node, chainID *big.Int) error {
	fn, err := target.Parse(cfg.Function)
	if err != nil {
		return err
	}
	calldata, err := fn.Calldata(cfg.Args)
	if err != nil {
		return err
	}
	selector := fn.Selector()
	if sel, ok := cfg.WatchSelector(); ok {
		selector = sel
	}
	value, err := cfg.Value()
	if err != nil {
		return err
	}
	key, from, err := cfg.Sender()
	if err != nil {
		return err
	}

	log.Info("configuration",
		"chainId", chainID,
		"contract", cfg.ContractAddress(),
		"function", fn.Sig(),
		"watchSelector", hexutil.Encode(selector),
		"calldata", hexutil.Encode(calldata),
		"valueEth", fees.FormatEther(value),
		"gasLimit", cfg.GasLimit,
		"maxPriorityGwei", fees.FormatGwei(cfg.MaxPriorityFee()),
		"bumpMultiplier", cfg.BumpMultiplier,
		"tipSource", cfg.TipSource,
		"sender", from,
		"privateKey", maskedKey(cfg.PrivateKey),
		"dryRun", cfg.DryRun,
		"dedupe", cfg.Dedupe,
		"workers", cfg.Workers,
	)

	nonces := nonce.NewSequencer(client, cfg.NonceStallWarning)
	if err := nonces.Init(ctx, from); err != nil {
		return err
	}

	estimator, err := fees.NewEstimator(client, fees.Config{
		Ceiling:           cfg.MaxPriorityFee(),
		BumpMultiplier:    cfg.BumpMultiplier,
		BaseFeeMultiplier: cfg.BaseFeeMultiplier,
		TipSource:         cfg.TipSource,
		HistoryBlocks:     cfg.FeeHistoryBlocks,
		HistoryPercentile: cfg.FeeHistoryPercentile,
	})
	if err != nil {
		return err
	}
	if err := estimator.RefreshBaseFee(ctx); err != nil {
		log.Warn("no base fee yet, fee cap falls back to tip multiple until the next head", "err", err)
	}

	submitter, err := submit.NewSubmitter(client, nonces, estimator, submit.Config{
		ChainID:        chainID,
		Key:            key,
		From:           from,
		To:             cfg.ContractAddress(),
		Calldata:       calldata,
		Value:          value,
		GasLimit:       cfg.GasLimit,
		DryRun:         cfg.DryRun,
		DryRunCall:     cfg.DryRunCall,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	if err != nil {
		return err
	}
	orchestrator := race.NewOrchestrator(estimator, nonces, submitter)

	matcher := watcher.NewMatcher(cfg.ContractAddress(), selector, from, chainID)
	if cfg.NetcheckBlocks > 0 {
		logNetworkState(ctx, client, matcher, cfg.NetcheckBlocks, cfg.GasLimit, cfg.BaseFeeMultiplier, cfg.MaxPriorityFee())
	}

	handler := func(ctx context.Context, call watcher.DetectedCall) {
		res := orchestrator.Run(ctx, call.Hash)
		logResult(call, res)
	}
	w, err := watcher.New(client, estimator, matcher, handler, watcher.Config{
		QueueSize:  cfg.QueueSize,
		Workers:    cfg.Workers,
		Dedupe:     cfg.Dedupe,
		DedupeSize: cfg.DedupeSize,
		Fetchers:   watcher.DefaultConfig.Fetchers,
		MinBackoff: watcher.DefaultConfig.MinBackoff,
		MaxBackoff: watcher.DefaultConfig.MaxBackoff,
	})
	if err != nil {
		return err
	}

	log.Info("ready", "contract", cfg.ContractAddress(), "selector", hexutil.Encode(selector), "nonce", nonces.Next(), "dryRun", cfg.DryRun)
	err = w.Run(ctx)
	s := w.Stats()
	log.Info("watcher stopped", "detected", s.Detected, "dropped", s.Dropped, "suppressed", s.Suppressed)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logResult(call watcher.DetectedCall, res race.Result) {
	attrs := []interface{}{"trigger", call.Hash, "origin", call.Origin, "attempts", len(res.Attempts)}
	for i, a := range res.Attempts {
		attrs = append(attrs, fmt.Sprintf("attempt%d", i+1), attemptString(a))
	}
	switch {
	case res.Aborted != nil:
		log.Warn("mint attempt aborted", append(attrs, "err", res.Aborted)...)
	case res.Succeeded():
		log.Info("mint attempt done", attrs...)
	default:
		log.Error("mint attempt failed", attrs...)
	}
}

func attemptString(o submit.Outcome) string {
	switch o.Kind {
	case submit.Failed:
		return fmt.Sprintf("failed(nonce=%d tip=%s gwei: %s)", o.Nonce, fees.FormatGwei(o.Tip), o.Reason)
	case submit.Sent:
		status := o.Confirmation.String()
		if o.Reverted() {
			status = "reverted"
		}
		return fmt.Sprintf("sent(%v nonce=%d tip=%s gwei, %s)", o.TxHash, o.Nonce, fees.FormatGwei(o.Tip), status)
	default:
		return fmt.Sprintf("simulated(nonce=%d tip=%s gwei)", o.Nonce, fees.FormatGwei(o.Tip))
	}
}

func maskedKey(k string) string {
	if k == "" {
		return ""
	}
	return config.MaskHex(k)
}
