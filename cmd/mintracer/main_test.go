package main

import (
	"bytes"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/mint-racer/internal/config"
	"github.com/ligun0805/mint-racer/internal/submit"
)

func TestToSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"crit":   log.LevelCrit,
		"ERROR":  log.LevelError,
		"warn":   log.LevelWarn,
		"info":   log.LevelInfo,
		" debug": log.LevelDebug,
		"trace":  log.LevelTrace,
	} {
		got, err := toSlogLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := toSlogLevel("loud")
	require.Error(t, err)
}

func TestInitLog(t *testing.T) {
	prev := log.Root()
	defer log.SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, initLog(config.LogConfig{Level: "warn", Type: "json"}, &buf, -1))
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)

	require.Error(t, initLog(config.LogConfig{Level: "info", Type: "xml"}, &buf, -1))
	require.Error(t, initLog(config.LogConfig{Level: "nope", Type: "json"}, &buf, -1))
}

func TestAttemptString(t *testing.T) {
	tip := big.NewInt(50_000_000_000)
	require.Equal(t, "simulated(nonce=3 tip=50.00 gwei)", attemptString(submit.Outcome{Kind: submit.Simulated, Nonce: 3, Tip: tip}))
	require.Equal(t, "failed(nonce=3 tip=50.00 gwei: nonce too low)",
		attemptString(submit.Outcome{Kind: submit.Failed, Nonce: 3, Tip: tip, Reason: submit.ReasonNonceTooLow, Err: errors.New("x")}))

	hash := common.HexToHash("0x01")
	sent := submit.Outcome{Kind: submit.Sent, Nonce: 4, Tip: tip, TxHash: hash, Confirmation: submit.Confirmed, Status: types.ReceiptStatusFailed}
	require.Contains(t, attemptString(sent), "reverted")
	sent.Confirmation = submit.Unconfirmed
	require.Contains(t, attemptString(sent), "unconfirmed")
}

func TestMaskedKey(t *testing.T) {
	require.Empty(t, maskedKey(""))
	require.Equal(t, "0x4c0a…9c2f", maskedKey("0x4c0a8d7bd8e5e3f1b0e3a3b6a0f0a1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e69c2f"))
}
