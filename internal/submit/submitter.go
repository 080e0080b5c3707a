// Package submit builds the mint call for a given nonce and priority fee and either simulates
// it or signs, broadcasts and waits for one confirmation.
package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/mint-racer/internal/chain"
	"github.com/ligun0805/mint-racer/internal/fees"
)

type Kind int

const (
	// Simulated: dry run, nothing left the process (except the optional eth_call).
	Simulated Kind = iota
	// Sent: the node accepted the transaction.
	Sent
	// Failed: building, signing or broadcasting failed.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Simulated:
		return "simulated"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Confirmation int

const (
	NotWaited Confirmation = iota
	Confirmed
	Unconfirmed
)

func (c Confirmation) String() string {
	switch c {
	case NotWaited:
		return "not waited"
	case Confirmed:
		return "confirmed"
	case Unconfirmed:
		return "unconfirmed"
	default:
		return fmt.Sprintf("confirmation(%d)", int(c))
	}
}

// Outcome is the result of one submission attempt.
type Outcome struct {
	Kind   Kind
	Nonce  uint64
	Tip    *big.Int
	FeeCap *big.Int
	TxHash common.Hash

	// Summary describes the built call (dry run only).
	Summary string
	// CallResult is the eth_call verdict of a dry run with preflight enabled.
	CallResult string

	// Reason and Err are set when Kind is Failed.
	Reason string
	Err    error

	Confirmation Confirmation
	Status       uint64
	BlockNumber  *big.Int
	WaitErr      error
}

// Reverted is true when the transaction was mined with a failed status.
func (o Outcome) Reverted() bool {
	return o.Confirmation == Confirmed && o.Status == types.ReceiptStatusFailed
}

type Backend interface {
	chain.ReceiptBackend
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Nonces is the part of the nonce sequencer the submitter drives.
type Nonces interface {
	Release()
	Resync(ctx context.Context, addr common.Address) (bool, error)
}

type FeeCapper interface {
	FeeCap(tip *big.Int) *big.Int
}

type Config struct {
	ChainID  *big.Int
	Key      *ecdsa.PrivateKey
	From     common.Address
	To       common.Address
	Calldata []byte
	Value    *big.Int
	GasLimit uint64

	DryRun     bool
	DryRunCall bool

	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

type Submitter struct {
	backend Backend
	nonces  Nonces
	fees    FeeCapper
	config  Config
}

func NewSubmitter(backend Backend, nonces Nonces, feeCapper FeeCapper, config Config) (*Submitter, error) {
	if config.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	if !config.DryRun && config.Key == nil {
		return nil, errors.New("signing key is required unless dry run")
	}
	if config.Value == nil {
		config.Value = big.NewInt(0)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = chain.DefaultPollInterval
	}
	return &Submitter{backend: backend, nonces: nonces, fees: feeCapper, config: config}, nil
}

// Submit runs one attempt with an already allocated nonce. The nonce slot is released exactly
// once on every path; for a sent transaction that happens before the confirmation wait.
func (s *Submitter) Submit(ctx context.Context, nonce uint64, tip *big.Int) Outcome {
	var once sync.Once
	release := func() { once.Do(s.nonces.Release) }
	defer release()

	out := Outcome{Nonce: nonce, Tip: new(big.Int).Set(tip)}
	out.FeeCap = s.fees.FeeCap(tip)
	if out.FeeCap.Cmp(tip) < 0 {
		out.FeeCap = new(big.Int).Set(tip)
	}
	to := s.config.To
	tx := buildDynamicTx(s.config.ChainID, nonce, &to, s.config.Value, s.config.GasLimit, out.Tip, out.FeeCap, s.config.Calldata)

	if s.config.DryRun {
		out.Kind = Simulated
		out.Summary = summarize(tx)
		if s.config.DryRunCall {
			out.CallResult = s.preflight(ctx, tx)
		}
		log.Info("dry run, not broadcasting", "nonce", nonce, "tipGwei", fees.FormatGwei(out.Tip), "call", out.Summary, "preflight", out.CallResult)
		return out
	}

	signed, err := signTx(tx, s.config.ChainID, s.config.Key)
	if err != nil {
		out.Kind, out.Reason, out.Err = Failed, ReasonSigning, err
		log.Error("failed to sign transaction", "nonce", nonce, "err", err)
		return out
	}
	log.Debug("signed transaction", "hash", signed.Hash(), "raw", txAsHex(signed))

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		out.Kind, out.Reason, out.Err = Failed, classify(err), err
		log.Warn("broadcast failed", "nonce", nonce, "tipGwei", fees.FormatGwei(out.Tip), "reason", out.Reason, "err", err)
		return out
	}
	out.Kind = Sent
	out.TxHash = signed.Hash()
	log.Info("transaction sent", "hash", out.TxHash, "nonce", nonce, "tipGwei", fees.FormatGwei(out.Tip), "feeCapGwei", fees.FormatGwei(out.FeeCap))
	release()

	s.awaitConfirmation(ctx, &out)
	return out
}

func (s *Submitter) awaitConfirmation(ctx context.Context, out *Outcome) {
	waitCtx := ctx
	if s.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.config.ConfirmTimeout)
		defer cancel()
	}
	receipt, err := chain.WaitMined(waitCtx, s.backend, out.TxHash, s.config.PollInterval)
	if err != nil {
		out.Confirmation, out.WaitErr = Unconfirmed, err
		log.Warn("transaction not confirmed", "hash", out.TxHash, "nonce", out.Nonce, "err", err)
		return
	}
	out.Confirmation = Confirmed
	out.Status = receipt.Status
	out.BlockNumber = receipt.BlockNumber
	if receipt.Status == types.ReceiptStatusSuccessful {
		log.Info("transaction confirmed", "hash", out.TxHash, "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
	} else {
		log.Warn("transaction reverted", "hash", out.TxHash, "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
	}
	if _, err := s.nonces.Resync(ctx, s.config.From); err != nil {
		log.Warn("nonce resync failed", "err", err)
	}
}

// preflight runs the built call through eth_call and reports "ok" or the revert reason.
func (s *Submitter) preflight(ctx context.Context, tx *types.Transaction) string {
	msg := ethereum.CallMsg{
		From:      s.config.From,
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasTipCap: tx.GasTipCap(),
		GasFeeCap: tx.GasFeeCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
	if _, err := callWithRetry(ctx, s.backend, msg); err != nil {
		return revertReason(err)
	}
	return "ok"
}
