package target

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func selectorOf(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestParseSignature(t *testing.T) {
	f, err := Parse("mint()")
	require.NoError(t, err)
	require.Equal(t, "mint", f.Name())
	require.Equal(t, "mint()", f.Sig())
	require.Equal(t, "0x1249c58b", hexutil.Encode(f.Selector()))
	require.Zero(t, f.NumInputs())

	f, err = Parse("deposit()")
	require.NoError(t, err)
	require.Equal(t, "0xd0e30db0", hexutil.Encode(f.Selector()))

	f, err = Parse("function mint(uint amount, address to)")
	require.NoError(t, err)
	require.Equal(t, "mint(uint256,address)", f.Sig())
	require.Equal(t, selectorOf("mint(uint256,address)"), f.Selector())
}

func TestParseFragment(t *testing.T) {
	frag := `{"type":"function","name":"publicMint","stateMutability":"payable","inputs":[{"name":"qty","type":"uint32"}],"outputs":[]}`
	f, err := Parse(frag)
	require.NoError(t, err)
	require.Equal(t, "publicMint(uint32)", f.Sig())
	require.Equal(t, selectorOf("publicMint(uint32)"), f.Selector())

	f, err = Parse("[" + frag + "]")
	require.NoError(t, err)
	require.Equal(t, "publicMint", f.Name())

	_, err = Parse(`[` + frag + `,{"type":"function","name":"other","inputs":[]}]`)
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "mint", "mint(", "(uint256)", "mint(foo)", "mint(uint256,)", "mint((uint256)"} {
		_, err := Parse(bad)
		require.Error(t, err, bad)
	}
}

func TestMatches(t *testing.T) {
	f, err := Parse("deposit()")
	require.NoError(t, err)
	require.True(t, f.Matches(hexutil.MustDecode("0xd0e30db0")))
	require.True(t, f.Matches(hexutil.MustDecode("0xd0e30db0000000000000000000000000000000000000000000000000000000000000002a")))
	require.False(t, f.Matches(hexutil.MustDecode("0xd0e30d")))
	require.False(t, f.Matches(nil))
	require.False(t, f.Matches(hexutil.MustDecode("0xa9059cbb")))
	require.False(t, MatchSelector(hexutil.MustDecode("0xd0e30db0"), nil))
}

func TestCalldataNoArgs(t *testing.T) {
	f, err := Parse("mint()")
	require.NoError(t, err)
	data, err := f.Calldata(nil)
	require.NoError(t, err)
	require.Equal(t, "0x1249c58b", hexutil.Encode(data))

	_, err = f.Calldata([]string{"1"})
	require.Error(t, err)
}

func TestCalldataCoercesArguments(t *testing.T) {
	f, err := Parse("mint(uint256,address,bool,uint8,int64,bytes4,string,bytes)")
	require.NoError(t, err)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := f.Calldata([]string{"0x10", to.Hex(), "true", "255", "-2", "0xdeadbeef", "hi", "0x0102"})
	require.NoError(t, err)
	require.Equal(t, f.Selector(), data[:4])

	words := data[4:]
	word := func(i int) []byte { return words[i*32 : (i+1)*32] }
	require.Equal(t, int64(16), new(big.Int).SetBytes(word(0)).Int64())
	require.Equal(t, to.Bytes(), word(1)[12:])
	require.Equal(t, byte(1), word(2)[31])
	require.Equal(t, byte(255), word(3)[31])
	require.Equal(t, common.Hex2Bytes("fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe"), word(4))
	require.Equal(t, common.Hex2Bytes("deadbeef"), word(5)[:4])
}

func TestCalldataRejectsBadValues(t *testing.T) {
	f, err := Parse("mint(uint8,address,bool,bytes2,int8)")
	require.NoError(t, err)
	good := []string{"1", "0x00000000000000000000000000000000000000aa", "false", "0x0102", "-128"}
	_, err = f.Calldata(good)
	require.NoError(t, err)

	for i, bad := range []string{"256", "0x1234", "maybe", "0x010203", "128"} {
		args := append([]string(nil), good...)
		args[i] = bad
		_, err := f.Calldata(args)
		require.Error(t, err, "arg %d = %q", i, bad)
	}
}

func TestCalldataUnsupportedType(t *testing.T) {
	f, err := Parse("mint(uint256[])")
	require.NoError(t, err)
	_, err = f.Calldata([]string{"1"})
	require.ErrorContains(t, err, "unsupported")
}
