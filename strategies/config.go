package strategies

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"orb-backtest/services/engine"
)

// FileConfig is the YAML run configuration: a named preset plus overrides.
// Zero values leave the preset's defaults in place.
type FileConfig struct {
	Strategy string `yaml:"strategy"`
	Symbol   string `yaml:"symbol"`

	StartingCapital    float64 `yaml:"starting_capital"`
	RiskFraction       float64 `yaml:"risk_fraction"`
	StopATRFraction    float64 `yaml:"stop_atr_fraction"`
	ATRPeriod          int     `yaml:"atr_period"`
	TakeProfitMultiple float64 `yaml:"take_profit_multiple"`
	CommissionPerUnit  float64 `yaml:"commission_per_unit"`
	VolumeThreshold    float64 `yaml:"volume_threshold"`
	DisableVolumeGate  bool    `yaml:"disable_volume_gate"`
	Leverage           float64 `yaml:"leverage"`
	EnforceLeverage    bool    `yaml:"enforce_leverage"`
	Timezone           string  `yaml:"timezone"`
}

// Preset resolves a strategy name to its config. Unknown names error rather
// than silently falling back to the base variant.
func Preset(name, symbol string) (engine.Config, error) {
	switch name {
	case "orb_5min", "":
		return ORBFiveMinute(symbol), nil
	case "orb_take_profit":
		return ORBTakeProfit(symbol), nil
	case "orb_vwap":
		return ORBVWAP(symbol), nil
	case "orb_vwap_mnq":
		return ORBVWAPMNQ(), nil
	case "orb_confirmed_breakout":
		return ORBConfirmedBreakout(symbol), nil
	}
	return engine.Config{}, fmt.Errorf("unknown strategy %q", name)
}

// LoadConfig reads a YAML run file and applies its overrides on top of the
// named preset.
func LoadConfig(path string) (engine.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.Config{}, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return engine.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fc.Apply()
}

// Apply materializes the file config into an engine config.
func (fc FileConfig) Apply() (engine.Config, error) {
	symbol := fc.Symbol
	if symbol == "" {
		symbol = "QQQ"
	}
	cfg, err := Preset(fc.Strategy, symbol)
	if err != nil {
		return engine.Config{}, err
	}
	if fc.StartingCapital > 0 {
		cfg.StartingCapital = decimal.NewFromFloat(fc.StartingCapital)
	}
	if fc.RiskFraction > 0 {
		cfg.Sizer.RiskFraction = decimal.NewFromFloat(fc.RiskFraction)
	}
	if fc.StopATRFraction > 0 {
		cfg.StopATRFraction = decimal.NewFromFloat(fc.StopATRFraction)
	}
	if fc.ATRPeriod > 0 {
		cfg.ATRPeriod = fc.ATRPeriod
	}
	if fc.TakeProfitMultiple > 0 {
		cfg.TakeProfitMultiple = decimal.NewFromFloat(fc.TakeProfitMultiple)
	}
	if fc.CommissionPerUnit > 0 {
		cfg.CommissionPerUnit = decimal.NewFromFloat(fc.CommissionPerUnit)
	}
	if fc.VolumeThreshold > 0 {
		cfg.VolumeThreshold = decimal.NewFromFloat(fc.VolumeThreshold)
	}
	if fc.DisableVolumeGate {
		cfg.VolumeFilter = false
	}
	if fc.Leverage > 0 {
		cfg.Sizer.Leverage = decimal.NewFromFloat(fc.Leverage)
		cfg.Sizer.EnforceLeverageCap = fc.EnforceLeverage
	}
	if fc.Timezone != "" {
		cfg.Timezone = fc.Timezone
	}
	return cfg, nil
}
