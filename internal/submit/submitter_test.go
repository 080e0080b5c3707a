package submit

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/mint-racer/internal/fees"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	calldata = common.FromHex("0x1249c58b")
)

type fakeNonces struct {
	mutex    sync.Mutex
	releases int
	resyncs  int
}

func (f *fakeNonces) Release() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.releases++
}

func (f *fakeNonces) Resync(context.Context, common.Address) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.resyncs++
	return false, nil
}

func (f *fakeNonces) counts() (int, int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.releases, f.resyncs
}

type fixedFeeCap struct{ base *big.Int }

func (f fixedFeeCap) FeeCap(tip *big.Int) *big.Int {
	return new(big.Int).Add(f.base, tip)
}

type fakeBackend struct {
	nonces *fakeNonces

	mutex          sync.Mutex
	sendErr        error
	sent           []*types.Transaction
	callErr        error
	calls          int
	status         uint64
	neverMined     bool
	releasedAtWait int
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls++
	return nil, f.callErr
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	released, _ := f.nonces.counts()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.releasedAtWait = released
	if f.neverMined {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: f.status, BlockNumber: big.NewInt(42)}, nil
}

func (f *fakeBackend) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func newTestSubmitter(t *testing.T, dryRun bool, mutate func(*Config)) (*Submitter, *fakeBackend, *fakeNonces, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonces := &fakeNonces{}
	backend := &fakeBackend{nonces: nonces, status: types.ReceiptStatusSuccessful}
	config := Config{
		ChainID:        big.NewInt(1),
		Key:            key,
		From:           from,
		To:             contract,
		Calldata:       calldata,
		Value:          big.NewInt(0),
		GasLimit:       300_000,
		DryRun:         dryRun,
		ConfirmTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&config)
	}
	s, err := NewSubmitter(backend, nonces, fixedFeeCap{base: fees.GweiToWei(20)}, config)
	require.NoError(t, err)
	return s, backend, nonces, from
}

func TestSubmitDryRun(t *testing.T) {
	s, backend, nonces, _ := newTestSubmitter(t, true, nil)
	out := s.Submit(context.Background(), 7, fees.GweiToWei(50))

	require.Equal(t, Simulated, out.Kind)
	require.Equal(t, uint64(7), out.Nonce)
	require.Contains(t, out.Summary, "selector=0x1249c58b")
	require.Contains(t, out.Summary, "nonce=7")
	require.Contains(t, out.Summary, "tip=50.00 gwei")
	require.Contains(t, out.Summary, "feeCap=70.00 gwei")
	require.Empty(t, out.CallResult)
	require.Empty(t, backend.sent)
	require.Zero(t, backend.calls)

	releases, resyncs := nonces.counts()
	require.Equal(t, 1, releases)
	require.Zero(t, resyncs)
}

func TestSubmitDryRunWithoutKey(t *testing.T) {
	s, _, nonces, _ := newTestSubmitter(t, true, func(c *Config) { c.Key = nil })
	out := s.Submit(context.Background(), 0, big.NewInt(1))
	require.Equal(t, Simulated, out.Kind)
	releases, _ := nonces.counts()
	require.Equal(t, 1, releases)
}

func TestSubmitDryRunPreflight(t *testing.T) {
	s, backend, _, _ := newTestSubmitter(t, true, func(c *Config) { c.DryRunCall = true })
	out := s.Submit(context.Background(), 0, big.NewInt(1))
	require.Equal(t, "ok", out.CallResult)

	backend.callErr = errors.New("rpc error: execution reverted: sale not active")
	out = s.Submit(context.Background(), 1, big.NewInt(1))
	require.Equal(t, "execution reverted: sale not active", out.CallResult)
	require.Equal(t, 2, backend.calls, "reverts are not retried")
}

func TestSubmitSentAndConfirmed(t *testing.T) {
	s, backend, nonces, from := newTestSubmitter(t, false, nil)
	out := s.Submit(context.Background(), 3, fees.GweiToWei(50))

	require.Equal(t, Sent, out.Kind)
	require.Equal(t, Confirmed, out.Confirmation)
	require.False(t, out.Reverted())
	require.Equal(t, int64(42), out.BlockNumber.Int64())

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	require.Equal(t, out.TxHash, tx.Hash())
	require.Equal(t, uint64(3), tx.Nonce())
	require.Equal(t, contract, *tx.To())
	require.Equal(t, calldata, tx.Data())
	require.Zero(t, fees.GweiToWei(50).Cmp(tx.GasTipCap()))
	require.Zero(t, fees.GweiToWei(70).Cmp(tx.GasFeeCap()))
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	require.Equal(t, from, sender)

	releases, resyncs := nonces.counts()
	require.Equal(t, 1, releases)
	require.Equal(t, 1, resyncs)
	require.Equal(t, 1, backend.releasedAtWait, "slot must be free while waiting for confirmation")
}

func TestSubmitReverted(t *testing.T) {
	s, backend, _, _ := newTestSubmitter(t, false, nil)
	backend.status = types.ReceiptStatusFailed
	out := s.Submit(context.Background(), 0, big.NewInt(1))
	require.Equal(t, Sent, out.Kind)
	require.True(t, out.Reverted())
}

func TestSubmitUnconfirmed(t *testing.T) {
	s, backend, nonces, _ := newTestSubmitter(t, false, func(c *Config) { c.ConfirmTimeout = 30 * time.Millisecond })
	backend.neverMined = true
	out := s.Submit(context.Background(), 0, big.NewInt(1))

	require.Equal(t, Sent, out.Kind)
	require.Equal(t, Unconfirmed, out.Confirmation)
	require.ErrorIs(t, out.WaitErr, context.DeadlineExceeded)
	releases, resyncs := nonces.counts()
	require.Equal(t, 1, releases)
	require.Zero(t, resyncs)
}

func TestSubmitBroadcastFailure(t *testing.T) {
	s, backend, nonces, _ := newTestSubmitter(t, false, nil)
	backend.sendErr = errors.New("insufficient funds for gas * price + value")
	out := s.Submit(context.Background(), 0, big.NewInt(1))

	require.Equal(t, Failed, out.Kind)
	require.Equal(t, ReasonInsufficient, out.Reason)
	require.Error(t, out.Err)
	require.Equal(t, NotWaited, out.Confirmation)
	releases, resyncs := nonces.counts()
	require.Equal(t, 1, releases)
	require.Zero(t, resyncs)
}

func TestSubmitFeeCapNeverBelowTip(t *testing.T) {
	s, backend, _, _ := newTestSubmitter(t, false, nil)
	s.fees = fixedFeeCap{base: big.NewInt(-100)}
	out := s.Submit(context.Background(), 0, big.NewInt(10))
	require.Equal(t, Sent, out.Kind)
	require.Zero(t, big.NewInt(10).Cmp(backend.sent[0].GasFeeCap()))
}

func TestNewSubmitterRequiresKeyForLive(t *testing.T) {
	_, err := NewSubmitter(&fakeBackend{}, &fakeNonces{}, fixedFeeCap{base: big.NewInt(0)}, Config{ChainID: big.NewInt(1)})
	require.Error(t, err)
	_, err = NewSubmitter(&fakeBackend{}, &fakeNonces{}, fixedFeeCap{base: big.NewInt(0)}, Config{DryRun: true})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"nonce too low: next nonce 5, tx nonce 4":    ReasonNonceTooLow,
		"insufficient funds for gas * price + value": ReasonInsufficient,
		"replacement transaction underpriced":        ReasonUnderpriced,
		"max fee per gas less than block base fee":   ReasonFeeTooLow,
		"already known":                              ReasonAlreadyKnown,
		"429 Too Many Requests":                      ReasonRateLimited,
		"json-rpc error -32005 limit exceeded":       ReasonRateLimited,
		"transaction type not supported":             ReasonRejected,
	}
	for msg, want := range cases {
		require.Equal(t, want, classify(errors.New(msg)), msg)
	}
	require.Empty(t, classify(nil))
}
