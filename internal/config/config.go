package config

import (
	"crypto/ecdsa"
	"encoding/csv"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	flag "github.com/spf13/pflag"

	"github.com/ligun0805/mint-racer/internal/fees"
)

// EnvPrefix is stripped from environment variables before they are mapped to option names:
// MINT_MAX_PRIORITY_GWEI -> max-priority-gwei, MINT_LOG__LEVEL -> log.level.
const EnvPrefix = "MINT_"

var (
	ErrMissingRPC        = errors.New("rpc-url is required")
	ErrRPCNotStreaming   = errors.New("rpc-url must be a ws://, wss:// or ipc endpoint, http cannot stream new blocks")
	ErrMissingContract   = errors.New("contract is required")
	ErrMissingPrivateKey = errors.New("private-key is required unless dry-run is enabled")
)

type ConfConfig struct {
	Dump bool `koanf:"dump"`
}

func ConfConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".dump", DefaultConfConfig.Dump, "print out currently active configuration (private key masked) and exit")
}

var DefaultConfConfig = ConfConfig{
	Dump: false,
}

type LogConfig struct {
	Level string `koanf:"level"`
	Type  string `koanf:"type"`
}

func LogConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".level", DefaultLogConfig.Level, "log level: crit, error, warn, info, debug or trace")
	f.String(prefix+".type", DefaultLogConfig.Type, "log type: plaintext or json")
}

var DefaultLogConfig = LogConfig{
	Level: "info",
	Type:  "plaintext",
}

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	Conf ConfConfig `koanf:"conf"`
	Log  LogConfig  `koanf:"log"`

	RPCURL     string `koanf:"rpc-url"`
	ChainID    uint64 `koanf:"chain-id"`
	PrivateKey string `koanf:"private-key"`
	From       string `koanf:"from"`

	Contract string   `koanf:"contract"`
	Function string   `koanf:"function"`
	Selector string   `koanf:"selector"`
	Args     []string `koanf:"args"`
	ValueEth string   `koanf:"value-eth"`
	GasLimit uint64   `koanf:"gas-limit"`

	MaxPriorityGwei      float64 `koanf:"max-priority-gwei"`
	BumpMultiplier       float64 `koanf:"bump-multiplier"`
	BaseFeeMultiplier    int64   `koanf:"base-fee-multiplier"`
	TipSource            string  `koanf:"tip-source"`
	FeeHistoryBlocks     uint64  `koanf:"fee-history-blocks"`
	FeeHistoryPercentile float64 `koanf:"fee-history-percentile"`

	DryRun     bool `koanf:"dry-run"`
	DryRunCall bool `koanf:"dry-run-call"`

	QueueSize  int  `koanf:"queue-size"`
	Workers    int  `koanf:"workers"`
	Dedupe     bool `koanf:"dedupe"`
	DedupeSize int  `koanf:"dedupe-size"`

	ConfirmTimeout    time.Duration `koanf:"confirm-timeout"`
	NonceStallWarning time.Duration `koanf:"nonce-stall-warning"`
	NetcheckBlocks    int           `koanf:"netcheck-blocks"`
}

var DefaultConfig = Config{
	Conf:                 DefaultConfConfig,
	Log:                  DefaultLogConfig,
	RPCURL:               "",
	ChainID:              0,
	PrivateKey:           "",
	From:                 "",
	Contract:             "",
	Function:             "mint()",
	Selector:             "",
	Args:                 nil,
	ValueEth:             "0",
	GasLimit:             300_000,
	MaxPriorityGwei:      50,
	BumpMultiplier:       1.5,
	BaseFeeMultiplier:    2,
	TipSource:            fees.TipSourceSuggest,
	FeeHistoryBlocks:     20,
	FeeHistoryPercentile: 90,
	DryRun:               true,
	DryRunCall:           false,
	QueueSize:            64,
	Workers:              4,
	Dedupe:               false,
	DedupeSize:           1024,
	ConfirmTimeout:       3 * time.Minute,
	NonceStallWarning:    30 * time.Second,
	NetcheckBlocks:       0,
}

func ConfigAddOptions(f *flag.FlagSet) {
	ConfConfigAddOptions("conf", f)
	LogConfigAddOptions("log", f)
	f.String("rpc-url", DefaultConfig.RPCURL, "streaming-capable RPC endpoint (ws:// or ipc)")
	f.Uint64("chain-id", DefaultConfig.ChainID, "chain ID used for signing (0 = ask the node)")
	f.String("private-key", DefaultConfig.PrivateKey, "hex private key of the sender (not needed in dry run)")
	f.String("from", DefaultConfig.From, "sender address to use for nonce tracking in dry run without a key")
	f.String("contract", DefaultConfig.Contract, "target contract address")
	f.String("function", DefaultConfig.Function, "watched function signature, e.g. mint(uint256), or a JSON ABI fragment")
	f.String("selector", DefaultConfig.Selector, "4-byte selector to watch for (defaults to the function's selector)")
	f.StringSlice("args", DefaultConfig.Args, "comma separated call arguments")
	f.String("value-eth", DefaultConfig.ValueEth, "value to attach to the call, in ETH")
	f.Uint64("gas-limit", DefaultConfig.GasLimit, "gas limit of the mint call")
	f.Float64("max-priority-gwei", DefaultConfig.MaxPriorityGwei, "ceiling for the priority fee of the first attempt, in gwei")
	f.Float64("bump-multiplier", DefaultConfig.BumpMultiplier, "priority fee multiplier for the retry after a failed broadcast")
	f.Int64("base-fee-multiplier", DefaultConfig.BaseFeeMultiplier, "max fee = base fee * multiplier + priority fee")
	f.String("tip-source", DefaultConfig.TipSource, "where the suggested priority fee comes from: suggest or feehist")
	f.Uint64("fee-history-blocks", DefaultConfig.FeeHistoryBlocks, "blocks of eth_feeHistory to look at when tip-source=feehist")
	f.Float64("fee-history-percentile", DefaultConfig.FeeHistoryPercentile, "reward percentile used when tip-source=feehist")
	f.Bool("dry-run", DefaultConfig.DryRun, "build transactions but never broadcast them")
	f.Bool("dry-run-call", DefaultConfig.DryRunCall, "in dry run, eth_call the built transaction and log the result")
	f.Int("queue-size", DefaultConfig.QueueSize, "detected calls buffered between the watcher and the workers")
	f.Int("workers", DefaultConfig.Workers, "number of concurrent submission workers")
	f.Bool("dedupe", DefaultConfig.Dedupe, "fire only once per underlying call seen on both the pending and block paths")
	f.Int("dedupe-size", DefaultConfig.DedupeSize, "number of recently attempted call hashes remembered for dedupe")
	f.Duration("confirm-timeout", DefaultConfig.ConfirmTimeout, "how long to wait for one confirmation of a sent transaction")
	f.Duration("nonce-stall-warning", DefaultConfig.NonceStallWarning, "warn when waiting on the nonce slot longer than this")
	f.Int("netcheck-blocks", DefaultConfig.NetcheckBlocks, "print fee statistics of the last N blocks at startup (0 = off)")
}

// Parse reads options from MINT_ environment variables (when useEnv is set) and then command
// line flags; flags win over the environment, which wins over defaults.
func Parse(args []string, useEnv bool) (*Config, *koanf.Koanf, error) {
	f := flag.NewFlagSet("mintracer", flag.ContinueOnError)
	ConfigAddOptions(f)
	if err := f.Parse(args); err != nil {
		return nil, nil, err
	}

	k := koanf.New(".")
	if useEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, nil, fmt.Errorf("error loading environment variables: %w", err)
		}
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, nil, fmt.Errorf("error loading flags: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if !f.Changed("args") {
		args, err := splitArgs(cfg.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("error parsing %sARGS: %w", EnvPrefix, err)
		}
		cfg.Args = args
	}
	return &cfg, k, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", ".")
	return strings.ReplaceAll(s, "_", "-")
}

// splitArgs re-reads an environment value as one CSV record, like --args, so a quoted field
// may hold a comma. The decoder has already cut the raw string at every comma; joining restores it.
func splitArgs(in []string) ([]string, error) {
	raw := strings.Join(in, ",")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(raw))
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fields))
	for _, p := range fields {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Dump renders the active configuration as JSON with the private key masked.
func Dump(k *koanf.Koanf) ([]byte, error) {
	masked := k.String("private-key")
	if masked != "" {
		masked = MaskHex(masked)
	}
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"conf.dump":   false,
		"private-key": masked,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("error masking config before dump: %w", err)
	}
	return k.Marshal(json.Parser())
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return ErrMissingRPC
	}
	if scheme, _, ok := strings.Cut(strings.TrimSpace(c.RPCURL), "://"); ok {
		if s := strings.ToLower(scheme); s == "http" || s == "https" {
			return ErrRPCNotStreaming
		}
	}
	if strings.TrimSpace(c.Contract) == "" {
		return ErrMissingContract
	}
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("contract %q is not a hex address", c.Contract)
	}
	if c.From != "" && !common.IsHexAddress(c.From) {
		return fmt.Errorf("from %q is not a hex address", c.From)
	}
	if !c.DryRun && strings.TrimSpace(c.PrivateKey) == "" {
		return ErrMissingPrivateKey
	}
	if c.PrivateKey != "" {
		if _, err := HexToECDSAPriv(c.PrivateKey); err != nil {
			return fmt.Errorf("private-key: %w", err)
		}
	}
	if c.Selector != "" {
		if b, err := hexutil.Decode(ensure0x(c.Selector)); err != nil || len(b) != 4 {
			return fmt.Errorf("selector %q must be 4 hex bytes", c.Selector)
		}
	}
	if _, err := c.Value(); err != nil {
		return err
	}
	if c.GasLimit == 0 {
		return errors.New("gas-limit must be > 0")
	}
	if c.MaxPriorityGwei <= 0 {
		return errors.New("max-priority-gwei must be > 0")
	}
	if c.BumpMultiplier < 1 {
		return fmt.Errorf("bump-multiplier %v must be >= 1", c.BumpMultiplier)
	}
	if c.BaseFeeMultiplier < 1 {
		return fmt.Errorf("base-fee-multiplier %v must be >= 1", c.BaseFeeMultiplier)
	}
	switch c.TipSource {
	case fees.TipSourceSuggest:
	case fees.TipSourceFeeHist:
		if c.FeeHistoryBlocks == 0 {
			return errors.New("fee-history-blocks must be > 0")
		}
		if c.FeeHistoryPercentile <= 0 || c.FeeHistoryPercentile > 100 {
			return fmt.Errorf("fee-history-percentile %v out of range (0,100]", c.FeeHistoryPercentile)
		}
	default:
		return fmt.Errorf("unknown tip-source %q", c.TipSource)
	}
	if c.QueueSize < 1 || c.Workers < 1 {
		return errors.New("queue-size and workers must be >= 1")
	}
	if c.Dedupe && c.DedupeSize < 1 {
		return errors.New("dedupe-size must be >= 1")
	}
	if c.ConfirmTimeout <= 0 {
		return errors.New("confirm-timeout must be > 0")
	}
	return nil
}

// Value is the call value in wei.
func (c *Config) Value() (*big.Int, error) {
	v, err := fees.ParseEther(c.ValueEth)
	if err != nil {
		return nil, fmt.Errorf("value-eth: %w", err)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("value-eth %q is negative", c.ValueEth)
	}
	return v, nil
}

// MaxPriorityFee is the priority fee ceiling in wei.
func (c *Config) MaxPriorityFee() *big.Int {
	return fees.GweiToWei(c.MaxPriorityGwei)
}

func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

// WatchSelector returns the selector override if one is configured.
func (c *Config) WatchSelector() ([]byte, bool) {
	if c.Selector == "" {
		return nil, false
	}
	b, err := hexutil.Decode(ensure0x(c.Selector))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Sender returns the signing key (nil in keyless dry run) and the address nonces are tracked for.
func (c *Config) Sender() (*ecdsa.PrivateKey, common.Address, error) {
	if strings.TrimSpace(c.PrivateKey) == "" {
		return nil, common.HexToAddress(c.From), nil
	}
	prv, err := HexToECDSAPriv(c.PrivateKey)
	if err != nil {
		return nil, common.Address{}, err
	}
	return prv, gethcrypto.PubkeyToAddress(prv.PublicKey), nil
}

// HexToECDSAPriv parses a hex ECDSA private key (with / without 0x).
func HexToECDSAPriv(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

func MaskHex(h string) string {
	h = strings.TrimSpace(h)
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}

func ensure0x(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
