package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"meridianchain/native/collateral"
	"meridianchain/native/trove"
)

// Config is the meridiand node configuration. Big-integer values are decimal
// strings so operators can express 1e18-scale amounts without float loss.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	DBBackend      string `toml:"DBBackend"`
	NetworkName    string `toml:"NetworkName"`
	RPCAuthToken   string `toml:"RPCAuthToken"`
	QuoteMaxAgeSec uint64 `toml:"QuoteMaxAgeSeconds"`
	DeployTime     uint64 `toml:"DeployTime"`
	Environment    string `toml:"Environment"`

	Params     ParamsConfig      `toml:"params"`
	Collateral []CollateralEntry `toml:"collateral"`
	Telemetry  TelemetryConfig   `toml:"telemetry"`
}

// ParamsConfig overrides the protocol thresholds. Empty fields keep defaults.
type ParamsConfig struct {
	MCR                 string `toml:"MCR"`
	CCR                 string `toml:"CCR"`
	LiquidationReserve  string `toml:"LiquidationReserve"`
	MinNetDebt          string `toml:"MinNetDebt"`
	BorrowingFeeFloor   string `toml:"BorrowingFeeFloor"`
	MaxBorrowingFee     string `toml:"MaxBorrowingFee"`
	RedemptionFeeFloor  string `toml:"RedemptionFeeFloor"`
	BootstrapWindowSec  uint64 `toml:"BootstrapWindowSeconds"`
	RedemptionTolerance string `toml:"RedemptionICRTolerance"`
}

// CollateralEntry declares a genesis collateral type with an optional initial
// price.
type CollateralEntry struct {
	Symbol       string `toml:"Symbol"`
	Name         string `toml:"Name"`
	Decimals     uint8  `toml:"Decimals"`
	SafetyRatio  string `toml:"SafetyRatio"`
	Active       bool   `toml:"Active"`
	Wrapped      bool   `toml:"Wrapped"`
	Underlying   string `toml:"Underlying"`
	ValueCap     string `toml:"ValueCap"`
	InitialPrice string `toml:"InitialPrice"`

	Slope1         string `toml:"Slope1"`
	Slope2         string `toml:"Slope2"`
	Slope3         string `toml:"Slope3"`
	Intercept1     string `toml:"Intercept1"`
	Cutoff1        string `toml:"Cutoff1"`
	Cutoff2        string `toml:"Cutoff2"`
	DecayWindowSec uint64 `toml:"DecayWindowSeconds"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:     "127.0.0.1:8645",
		DataDir:        "./meridian-data",
		DBBackend:      "leveldb",
		NetworkName:    "meridian-local",
		QuoteMaxAgeSec: 300,
	}
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./meridian-data"
	}
	if strings.TrimSpace(c.DBBackend) == "" {
		c.DBBackend = "leveldb"
	}
	c.DBBackend = strings.ToLower(strings.TrimSpace(c.DBBackend))
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "meridian-local"
	}
	if c.QuoteMaxAgeSec == 0 {
		c.QuoteMaxAgeSec = 300
	}
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unsupported DBBackend %q (want leveldb, bolt or memory)", c.DBBackend)
	}
	for i := range c.Collateral {
		if strings.TrimSpace(c.Collateral[i].Symbol) == "" {
			return fmt.Errorf("config: collateral entry %d missing Symbol", i)
		}
	}
	return nil
}

// QuoteMaxAge returns the oracle freshness window.
func (c *Config) QuoteMaxAge() time.Duration {
	return time.Duration(c.QuoteMaxAgeSec) * time.Second
}

// TroveParams materialises the protocol thresholds, starting from defaults.
func (c *Config) TroveParams() (trove.Params, error) {
	params := trove.DefaultParams()
	fields := []struct {
		raw  string
		dest **big.Int
		name string
	}{
		{c.Params.MCR, &params.MCR, "MCR"},
		{c.Params.CCR, &params.CCR, "CCR"},
		{c.Params.LiquidationReserve, &params.LiquidationReserve, "LiquidationReserve"},
		{c.Params.MinNetDebt, &params.MinNetDebt, "MinNetDebt"},
		{c.Params.BorrowingFeeFloor, &params.BorrowingFeeFloor, "BorrowingFeeFloor"},
		{c.Params.MaxBorrowingFee, &params.MaxBorrowingFee, "MaxBorrowingFee"},
		{c.Params.RedemptionFeeFloor, &params.RedemptionFeeFloor, "RedemptionFeeFloor"},
		{c.Params.RedemptionTolerance, &params.RedemptionICRTolerance, "RedemptionICRTolerance"},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		value, ok := new(big.Int).SetString(strings.TrimSpace(field.raw), 10)
		if !ok || value.Sign() < 0 {
			return trove.Params{}, fmt.Errorf("config: invalid %s %q", field.name, field.raw)
		}
		*field.dest = value
	}
	if c.Params.BootstrapWindowSec != 0 {
		params.BootstrapWindow = c.Params.BootstrapWindowSec
	}
	return params, nil
}

// Assets materialises the genesis collateral entries and their initial prices.
func (c *Config) Assets() ([]*collateral.Asset, map[string]*big.Int, error) {
	assets := make([]*collateral.Asset, 0, len(c.Collateral))
	prices := make(map[string]*big.Int)
	for i := range c.Collateral {
		entry := &c.Collateral[i]
		asset := &collateral.Asset{
			Symbol:     entry.Symbol,
			Name:       entry.Name,
			Decimals:   entry.Decimals,
			Active:     entry.Active,
			Wrapped:    entry.Wrapped,
			Underlying: entry.Underlying,
			Curve: collateral.CurveParams{
				DecayWindow: entry.DecayWindowSec,
			},
		}
		var err error
		if asset.SafetyRatio, err = parseBig(entry.SafetyRatio, "SafetyRatio", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.ValueCap, err = parseOptionalBig(entry.ValueCap, "ValueCap", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.Curve.Slope1, err = parseOptionalBig(entry.Slope1, "Slope1", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.Curve.Slope2, err = parseOptionalBig(entry.Slope2, "Slope2", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.Curve.Slope3, err = parseOptionalBig(entry.Slope3, "Slope3", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.Curve.Intercept1, err = parseOptionalBig(entry.Intercept1, "Intercept1", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.Curve.Cutoff1, err = parseOptionalBig(entry.Cutoff1, "Cutoff1", entry.Symbol); err != nil {
			return nil, nil, err
		}
		if asset.Curve.Cutoff2, err = parseOptionalBig(entry.Cutoff2, "Cutoff2", entry.Symbol); err != nil {
			return nil, nil, err
		}
		assets = append(assets, asset)
		if strings.TrimSpace(entry.InitialPrice) != "" {
			price, err := parseBig(entry.InitialPrice, "InitialPrice", entry.Symbol)
			if err != nil {
				return nil, nil, err
			}
			prices[collateral.NormalizeSymbol(entry.Symbol)] = price
		}
	}
	return assets, prices, nil
}

func parseBig(raw, field, symbol string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("config: collateral %s: invalid %s %q", symbol, field, raw)
	}
	return value, nil
}

func parseOptionalBig(raw, field, symbol string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return big.NewInt(0), nil
	}
	return parseBig(raw, field, symbol)
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
