package watcher

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/mint-racer/internal/target"
)

// Matcher recognises calls to the watched function of the target contract.
type Matcher struct {
	Contract common.Address
	Selector []byte
	// Self is our own sender; its transactions never match.
	Self   common.Address
	signer types.Signer
}

func NewMatcher(contract common.Address, selector []byte, self common.Address, chainID *big.Int) *Matcher {
	return &Matcher{
		Contract: contract,
		Selector: common.CopyBytes(selector),
		Self:     self,
		signer:   types.LatestSignerForChainID(chainID),
	}
}

// Match returns the sender of tx and whether tx is a call we race against.
func (m *Matcher) Match(tx *types.Transaction) (common.Address, bool) {
	if tx == nil || tx.To() == nil || *tx.To() != m.Contract {
		return common.Address{}, false
	}
	if !target.MatchSelector(tx.Data(), m.Selector) {
		return common.Address{}, false
	}
	from, err := types.Sender(m.signer, tx)
	if err != nil {
		// unknown sender still counts, it just cannot be ours
		return common.Address{}, true
	}
	if m.Self != (common.Address{}) && from == m.Self {
		return from, false
	}
	return from, true
}
