package fees

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var (
	gwei  = big.NewInt(params.GWei)
	ether = big.NewInt(params.Ether)
)

// GweiToWei converts a (possibly fractional) gwei amount to wei, truncating below 1 wei.
func GweiToWei(g float64) *big.Int {
	r, ok := new(big.Rat).SetString(trimFloat(g))
	if !ok {
		return big.NewInt(0)
	}
	r.Mul(r, new(big.Rat).SetInt(gwei))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// Human-readable helpers (ETH/gwei).
func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), gwei)
	return r.FloatString(2)
}

func FormatEther(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), ether)
	return r.FloatString(6)
}

// ParseEther parses a decimal ETH amount ("0.05", "1", "-0.1") into wei.
// Digits beyond 18 decimals are rejected rather than silently dropped.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	intPart, fracPart := parts[0], ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("bad ETH amount %q", s)
	}
	if len(fracPart) > 18 {
		return nil, fmt.Errorf("too many fractional digits in %q", s)
	}
	digits := intPart + fracPart + strings.Repeat("0", 18-len(fracPart))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return big.NewInt(0), nil
	}
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("bad ETH amount %q", s)
	}
	if neg {
		wei.Neg(wei)
	}
	return wei, nil
}
