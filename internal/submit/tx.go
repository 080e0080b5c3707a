package submit

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/mint-racer/internal/fees"
)

// Build EIP-1559 transaction.
func buildDynamicTx(chain *big.Int, nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, tip, feeCap *big.Int, data []byte) *types.Transaction {
	df := &types.DynamicFeeTx{
		ChainID:   chain,
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: new(big.Int).Set(feeCap),
		To:        to,
		Value:     new(big.Int).Set(value),
		Data:      common.CopyBytes(data),
	}
	return types.NewTx(df)
}

// Sign transaction with latest signer for given chain ID.
func signTx(tx *types.Transaction, chain *big.Int, prv *ecdsa.PrivateKey) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chain)
	return types.SignTx(tx, signer, prv)
}

// Hex-encode transaction.
func txAsHex(tx *types.Transaction) string {
	b, _ := tx.MarshalBinary()
	return "0x" + hex.EncodeToString(b)
}

// summarize renders the call a dry run would have sent.
func summarize(tx *types.Transaction) string {
	sel := "none"
	if len(tx.Data()) >= 4 {
		sel = hexutil.Encode(tx.Data()[:4])
	}
	return fmt.Sprintf("to=%v selector=%s nonce=%d tip=%s gwei feeCap=%s gwei gas=%d value=%s ETH data=%s",
		tx.To().Hex(), sel, tx.Nonce(), fees.FormatGwei(tx.GasTipCap()), fees.FormatGwei(tx.GasFeeCap()),
		tx.Gas(), fees.FormatEther(tx.Value()), hexutil.Encode(tx.Data()))
}
