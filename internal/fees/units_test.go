package fees

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGweiToWei(t *testing.T) {
	requireWei(t, big.NewInt(50_000_000_000), GweiToWei(50))
	requireWei(t, big.NewInt(1_100_000_000), GweiToWei(1.1))
	requireWei(t, big.NewInt(1), GweiToWei(0.000000001))
	requireWei(t, big.NewInt(0), GweiToWei(0))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "50.00", FormatGwei(GweiToWei(50)))
	require.Equal(t, "0", FormatGwei(nil))
	require.Equal(t, "0.050000", FormatEther(big.NewInt(50_000_000_000_000_000)))
}

func TestParseEther(t *testing.T) {
	cases := map[string]string{
		"":                     "0",
		"0":                    "0",
		"1":                    "1000000000000000000",
		"0.05":                 "50000000000000000",
		".5":                   "500000000000000000",
		"-0.1":                 "-100000000000000000",
		"+2.0":                 "2000000000000000000",
		"0.000000000000000001": "1",
	}
	for in, want := range cases {
		got, err := ParseEther(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got.String(), in)
	}
	for _, bad := range []string{"abc", "1.2.3", "0.0000000000000000001", "-", "1e18"} {
		_, err := ParseEther(bad)
		require.Error(t, err, bad)
	}
}

func TestHistoryStats(t *testing.T) {
	b := &fakeBackend{rewards: [][]*big.Int{
		{big.NewInt(1), big.NewInt(10)},
		{big.NewInt(3), big.NewInt(30)},
	}}
	stats, err := HistoryStats(context.Background(), b, 2, []int{50, 99})
	require.NoError(t, err)
	requireWei(t, big.NewInt(1), stats[50].Min)
	requireWei(t, big.NewInt(2), stats[50].Avg)
	requireWei(t, big.NewInt(3), stats[50].Max)
	requireWei(t, big.NewInt(30), stats[99].Max)

	_, err = HistoryStats(context.Background(), &fakeBackend{}, 2, nil)
	require.Error(t, err)
}
