// Package race drives one mint attempt per detected call: pick a fee, take a nonce, submit,
// and after a broadcast failure retry exactly once with a bumped fee and a fresh nonce.
package race

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/mint-racer/internal/fees"
	"github.com/ligun0805/mint-racer/internal/submit"
)

type State int

const (
	Idle State = iota
	FeeFetched
	NonceHeld
	FirstAttempted
	Bumping
	SecondAttempted
	Done
)

var stateNames = [...]string{"idle", "fee-fetched", "nonce-held", "first-attempted", "bumping", "second-attempted", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

type FeeSource interface {
	Estimate(ctx context.Context) (*big.Int, error)
	Bump(prev *big.Int) *big.Int
}

type NonceAllocator interface {
	Allocate(ctx context.Context) (uint64, error)
}

type Submitter interface {
	Submit(ctx context.Context, nonce uint64, tip *big.Int) submit.Outcome
}

// Result is the terminal Done state of one run.
type Result struct {
	Trigger  common.Hash
	Attempts []submit.Outcome
	// Aborted is set when the run ended before or between attempts (no fee, no nonce, panic).
	Aborted error
	// Trace lists the states the run went through, ending in Done.
	Trace []State
}

// Succeeded reports whether the last attempt was simulated or accepted by the node.
func (r Result) Succeeded() bool {
	if len(r.Attempts) == 0 {
		return false
	}
	return r.Attempts[len(r.Attempts)-1].Kind != submit.Failed
}

func (r Result) Retried() bool { return len(r.Attempts) > 1 }

type Orchestrator struct {
	fees      FeeSource
	nonces    NonceAllocator
	submitter Submitter
}

func NewOrchestrator(feeSource FeeSource, nonces NonceAllocator, submitter Submitter) *Orchestrator {
	return &Orchestrator{fees: feeSource, nonces: nonces, submitter: submitter}
}

// Run never returns an error and never panics; every failure ends in Done with the cause
// recorded in the Result.
func (o *Orchestrator) Run(ctx context.Context, trigger common.Hash) (res Result) {
	logger := log.New("trigger", trigger)
	res.Trigger = trigger
	res.Trace = []State{Idle}
	step := func(s State) { res.Trace = append(res.Trace, s) }
	defer func() {
		if r := recover(); r != nil {
			res.Aborted = fmt.Errorf("attempt panicked: %v", r)
			logger.Error("mint attempt panicked", "err", r)
		}
		step(Done)
	}()

	fee, err := o.fees.Estimate(ctx)
	if err != nil {
		res.Aborted = err
		logger.Warn("aborting mint attempt, no priority fee", "err", err)
		return res
	}
	step(FeeFetched)

	first, ok := o.attempt(ctx, logger, &res, fee, 1)
	if !ok {
		return res
	}
	step(FirstAttempted)
	if first.Kind != submit.Failed {
		return res
	}

	step(Bumping)
	bumped := o.fees.Bump(fee)
	logger.Info("retrying with bumped priority fee", "fromGwei", fees.FormatGwei(fee), "toGwei", fees.FormatGwei(bumped), "reason", first.Reason)
	second, ok := o.attempt(ctx, logger, &res, bumped, 2)
	if !ok {
		return res
	}
	step(SecondAttempted)
	if second.Kind == submit.Failed {
		logger.Error("mint attempt failed twice, giving up", "firstReason", first.Reason, "secondReason", second.Reason, "err", second.Err)
	}
	return res
}

// attempt allocates a fresh nonce and submits once. ok is false when no nonce could be taken.
func (o *Orchestrator) attempt(ctx context.Context, logger log.Logger, res *Result, fee *big.Int, n int) (submit.Outcome, bool) {
	nonce, err := o.nonces.Allocate(ctx)
	if err != nil {
		res.Aborted = fmt.Errorf("allocating nonce for attempt %d: %w", n, err)
		logger.Warn("aborting mint attempt, no nonce", "attempt", n, "err", err)
		return submit.Outcome{}, false
	}
	if n == 1 {
		res.Trace = append(res.Trace, NonceHeld)
	}
	out := o.submitter.Submit(ctx, nonce, fee)
	res.Attempts = append(res.Attempts, out)
	logger.Debug("attempt finished", "attempt", n, "nonce", nonce, "outcome", out.Kind, "confirmation", out.Confirmation)
	return out, true
}
