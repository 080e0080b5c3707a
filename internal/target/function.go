// Package target describes the watched contract function: its selector and the call data
// of our own call to it.
package target

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Function is a parsed function signature or ABI fragment.
type Function struct {
	method abi.Method
}

// Parse accepts either a signature such as "mint(uint256,address)" or a JSON ABI fragment
// (a single function object or an array holding exactly one function).
func Parse(def string) (*Function, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil, errors.New("empty function definition")
	}
	if strings.HasPrefix(def, "{") || strings.HasPrefix(def, "[") {
		return parseFragment(def)
	}
	return parseSignature(def)
}

func parseFragment(def string) (*Function, error) {
	if strings.HasPrefix(def, "{") {
		def = "[" + def + "]"
	}
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		return nil, fmt.Errorf("parsing ABI fragment: %w", err)
	}
	if len(parsed.Methods) != 1 {
		return nil, fmt.Errorf("ABI fragment must contain exactly one function, got %d", len(parsed.Methods))
	}
	var f *Function
	for _, m := range parsed.Methods {
		f = &Function{method: m}
	}
	return f, nil
}

func parseSignature(def string) (*Function, error) {
	def = strings.TrimSpace(strings.TrimPrefix(def, "function "))
	open := strings.IndexByte(def, '(')
	if open <= 0 || !strings.HasSuffix(def, ")") {
		return nil, fmt.Errorf("invalid function signature %q", def)
	}
	name := strings.TrimSpace(def[:open])
	params, err := splitTopLevel(def[open+1 : len(def)-1])
	if err != nil {
		return nil, fmt.Errorf("invalid function signature %q: %w", def, err)
	}
	inputs := make(abi.Arguments, 0, len(params))
	for i, p := range params {
		// "uint256 amount" -> "uint256"
		fields := strings.Fields(p)
		typ, err := abi.NewType(canonicalType(fields[0]), "", nil)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %q: %w", i, def, err)
		}
		inputs = append(inputs, abi.Argument{Name: fmt.Sprintf("arg%d", i), Type: typ})
	}
	m := abi.NewMethod(name, name, abi.Function, "payable", false, true, inputs, nil)
	return &Function{method: m}, nil
}

func splitTopLevel(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.New("unbalanced parentheses")
	}
	out = append(out, strings.TrimSpace(s[start:]))
	for _, p := range out {
		if p == "" {
			return nil, errors.New("empty parameter")
		}
	}
	return out, nil
}

// canonicalType expands the uint/int/byte aliases the way selectors are computed.
func canonicalType(t string) string {
	base, suffix := t, ""
	if i := strings.IndexByte(t, '['); i >= 0 {
		base, suffix = t[:i], t[i:]
	}
	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	case "byte":
		base = "bytes1"
	}
	return base + suffix
}

func (f *Function) Name() string { return f.method.RawName }

// Sig is the canonical signature, e.g. mint(uint256).
func (f *Function) Sig() string { return f.method.Sig }

func (f *Function) Selector() []byte {
	return common.CopyBytes(f.method.ID)
}

func (f *Function) NumInputs() int { return len(f.method.Inputs) }

// Matches reports whether data is a call to this function.
func (f *Function) Matches(data []byte) bool {
	return MatchSelector(data, f.method.ID)
}

// MatchSelector reports whether data starts with the 4-byte selector.
func MatchSelector(data, selector []byte) bool {
	return len(selector) == 4 && len(data) >= 4 && bytes.Equal(data[:4], selector)
}

// Calldata encodes a call with the given textual arguments.
func (f *Function) Calldata(args []string) ([]byte, error) {
	if len(args) != len(f.method.Inputs) {
		return nil, fmt.Errorf("%v takes %d arguments, got %d", f.method.Sig, len(f.method.Inputs), len(args))
	}
	values := make([]interface{}, len(args))
	for i, in := range f.method.Inputs {
		v, err := coerce(in.Type, strings.TrimSpace(args[i]))
		if err != nil {
			return nil, fmt.Errorf("argument %d (%v): %w", i, in.Type, err)
		}
		values[i] = v
	}
	packed, err := f.method.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("encoding %v: %w", f.method.Sig, err)
	}
	return append(f.Selector(), packed...), nil
}

var bigIntType = reflect.TypeOf(&big.Int{})

// coerce turns a command line value into the Go value abi packing expects for t.
func coerce(t abi.Type, s string) (interface{}, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 0)
		if !ok {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		if err := checkIntRange(t, n); err != nil {
			return nil, err
		}
		gt := t.GetType()
		if gt == bigIntType {
			return n, nil
		}
		v := reflect.New(gt).Elem()
		if t.T == abi.UintTy {
			v.SetUint(n.Uint64())
		} else {
			v.SetInt(n.Int64())
		}
		return v.Interface(), nil
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%q is not an address", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		return b, nil
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit bytes%d", len(b), t.Size)
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported argument type %v", t)
	}
}

func checkIntRange(t abi.Type, n *big.Int) error {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return fmt.Errorf("%v out of range for %v", n, t)
		}
		return nil
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	minimum := new(big.Int).Neg(limit)
	if n.Cmp(minimum) < 0 || n.Cmp(limit) >= 0 {
		return fmt.Errorf("%v out of range for %v", n, t)
	}
	return nil
}
