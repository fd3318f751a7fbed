package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"clearport/crypto"
	nativecommon "clearport/native/common"
	"clearport/native/fees"
	"clearport/native/settlement"
)

// Config carries the operator-facing settlement parameters. Changing a value
// takes effect for subsequent calls only; calls already admitted are
// unaffected.
type Config struct {
	ChainID        uint64   `toml:"ChainID"`
	EngineAddress  string   `toml:"EngineAddress"`
	DataDir        string   `toml:"DataDir"`
	FeeBps         uint32   `toml:"FeeBps"`
	DailyVolumeCap string   `toml:"DailyVolumeCap"`
	PausedModules  []string `toml:"PausedModules"`

	Split      SplitConfig      `toml:"Split"`
	Recipients RecipientsConfig `toml:"Recipients"`
	Commit     CommitConfig     `toml:"Commit"`
}

// SplitConfig fixes the three-way fee distribution ratios.
type SplitConfig struct {
	LiquidityBps uint32 `toml:"LiquidityBps"`
	DaoBps       uint32 `toml:"DaoBps"`
	ValidatorBps uint32 `toml:"ValidatorBps"`
}

// RecipientsConfig holds the bech32 addresses behind the three split slots.
type RecipientsConfig struct {
	Liquidity string `toml:"Liquidity"`
	Dao       string `toml:"Dao"`
	Validator string `toml:"Validator"`
}

// CommitConfig configures commit-reveal enforcement.
type CommitConfig struct {
	Enabled    bool  `toml:"Enabled"`
	MinAgeSecs int64 `toml:"MinAgeSecs"`
	MaxAgeSecs int64 `toml:"MaxAgeSecs"`
}

const maxFeeBps = 1_000

// defaultConfigTemplate is written on first load. EngineAddress and the
// recipient set have no sensible defaults, so they ship as commented
// placeholders; the daemon refuses to start until the operator fills them in.
const defaultConfigTemplate = `# clearport settlement engine configuration.
#
# EngineAddress and the [Recipients] block must be filled in before clearportd
# can start: the engine address anchors the signature domain, and the three
# recipient addresses receive the fee split.

ChainID = 1
# EngineAddress = "clr1..."
DataDir = %q
FeeBps = 30
# DailyVolumeCap = "250000000000000000000"

[Split]
LiquidityBps = 5000
DaoBps = 3000
ValidatorBps = 2000

# [Recipients]
# Liquidity = "clr1..."
# Dao = "clr1..."
# Validator = "clr1..."

[Commit]
Enabled = false
MinAgeSecs = 10
MaxAgeSecs = 3600
`

// Load reads the configuration from the given path, writing defaults when the
// file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ChainID: 1,
		DataDir: filepath.Join(filepath.Dir(path), "data"),
		FeeBps:  30,
		Split: SplitConfig{
			LiquidityBps: 5_000,
			DaoBps:       3_000,
			ValidatorBps: 2_000,
		},
		Commit: CommitConfig{
			Enabled:    false,
			MinAgeSecs: 10,
			MaxAgeSecs: 3_600,
		},
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	rendered := fmt.Sprintf(defaultConfigTemplate, cfg.DataDir)
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks bounds on the configured parameters.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID required")
	}
	if c.FeeBps > maxFeeBps {
		return fmt.Errorf("config: FeeBps %d out of range (max %d)", c.FeeBps, maxFeeBps)
	}
	if err := c.FeeSplit().Validate(); err != nil {
		return err
	}
	if cap := strings.TrimSpace(c.DailyVolumeCap); cap != "" {
		if _, ok := new(big.Int).SetString(cap, 10); !ok {
			return fmt.Errorf("config: invalid DailyVolumeCap %q", c.DailyVolumeCap)
		}
	}
	if c.Commit.Enabled {
		if c.Commit.MinAgeSecs < 0 || c.Commit.MaxAgeSecs < 0 {
			return fmt.Errorf("config: commit window ages must be non-negative")
		}
		if c.Commit.MaxAgeSecs > 0 && c.Commit.MaxAgeSecs < c.Commit.MinAgeSecs {
			return fmt.Errorf("config: commit MaxAgeSecs below MinAgeSecs")
		}
	}
	return nil
}

// Domain resolves the signature domain for the configured deployment. An
// empty EngineAddress derives a deterministic identity from the chain id.
func (c *Config) Domain() (settlement.Domain, error) {
	domain := settlement.Domain{ChainID: c.ChainID}
	addr := strings.TrimSpace(c.EngineAddress)
	if addr == "" {
		return domain, fmt.Errorf("config: EngineAddress required; set it in the configuration file")
	}
	decoded, err := crypto.DecodeAddress(addr)
	if err != nil {
		return domain, fmt.Errorf("config: EngineAddress: %w", err)
	}
	domain.Engine = decoded.Bytes()
	return domain, nil
}

// VolumeCap parses the configured daily volume cap; nil disables the check.
func (c *Config) VolumeCap() *big.Int {
	cap := strings.TrimSpace(c.DailyVolumeCap)
	if cap == "" {
		return nil
	}
	value, ok := new(big.Int).SetString(cap, 10)
	if !ok {
		return nil
	}
	return value
}

// FeeSplit returns the configured distribution ratios.
func (c *Config) FeeSplit() fees.Split {
	return fees.Split{
		LiquidityBps: c.Split.LiquidityBps,
		DaoBps:       c.Split.DaoBps,
		ValidatorBps: c.Split.ValidatorBps,
	}
}

// FeeRecipients decodes the configured recipient addresses.
func (c *Config) FeeRecipients() (fees.Recipients, error) {
	var recipients fees.Recipients
	for _, slot := range []struct {
		name string
		raw  string
		dst  *[20]byte
	}{
		{"Liquidity", c.Recipients.Liquidity, &recipients.Liquidity},
		{"Dao", c.Recipients.Dao, &recipients.Dao},
		{"Validator", c.Recipients.Validator, &recipients.Validator},
	} {
		raw := strings.TrimSpace(slot.raw)
		if raw == "" {
			return recipients, fmt.Errorf("config: Recipients.%s required; set it in the configuration file", slot.name)
		}
		decoded, err := crypto.DecodeAddress(raw)
		if err != nil {
			return recipients, fmt.Errorf("config: Recipients.%s: %w", slot.name, err)
		}
		*slot.dst = decoded.Bytes()
	}
	return recipients, nil
}

// CommitWindow returns the configured commit-reveal enforcement window.
func (c *Config) CommitWindow() settlement.CommitWindow {
	return settlement.CommitWindow{
		Enabled: c.Commit.Enabled,
		MinAge:  c.Commit.MinAgeSecs,
		MaxAge:  c.Commit.MaxAgeSecs,
	}
}

// Pauses returns the pause view derived from the configured module list.
func (c *Config) Pauses() nativecommon.PauseView {
	return nativecommon.NewPauseSet(c.PausedModules)
}
