package strategy

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// ErrUnknownFormat is returned for strategy files with an unsupported extension.
var ErrUnknownFormat = fmt.Errorf("unknown strategy format")

// LoadFile reads a strategy from path. The format is chosen by extension:
// .yaml/.yml and .json go through viper, .toml through BurntSushi/toml.
// Keys missing from the file keep the values from Default.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open strategy %s: %w", path, err)
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	cfg, err := Parse(f, format)
	if err != nil {
		return Config{}, fmt.Errorf("strategy %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a strategy document in the given format ("yaml", "yml",
// "json" or "toml").
func Parse(r io.Reader, format string) (Config, error) {
	switch format {
	case "toml":
		cfg := Default()
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode toml: %w", err)
		}
		return cfg, nil
	case "yaml", "yml", "json":
		return parseViper(r, format)
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(data []byte, format string) (Config, error) {
	return Parse(bytes.NewReader(data), format)
}

func parseViper(r io.Reader, format string) (Config, error) {
	if format == "yml" {
		format = "yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", format, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal %s: %w", format, err)
	}
	return cfg, nil
}

// setDefaults mirrors Default for viper-decoded documents.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("strategy_name", d.Name)
	v.SetDefault("entry_rules.ai_weight", d.EntryRules.AIWeight)
	v.SetDefault("exit_rules.take_profit", d.ExitRules.TakeProfit)
	v.SetDefault("exit_rules.stop_loss", d.ExitRules.StopLoss)
	v.SetDefault("exit_rules.holding_days", d.ExitRules.HoldingDays)
	v.SetDefault("risk_control.max_positions", d.RiskControl.MaxPositions)
	v.SetDefault("risk_control.position_size", d.RiskControl.PositionSize)
	v.SetDefault("risk_control.max_drawdown", d.RiskControl.MaxDrawdown)
	v.SetDefault("risk_control.daily_loss_limit", d.RiskControl.DailyLossLimit)
	v.SetDefault("risk_control.sector_concentration", d.RiskControl.SectorConcentration)
}
