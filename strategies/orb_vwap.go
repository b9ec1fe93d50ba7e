//! Opening Range Breakout over the 09:30-10:00 window with VWAP trailing
//!
//! One-minute bars, window-bias direction, fixed target at six times risk and
//! a VWAP ratchet that tightens the stop once price is through the entry.

package strategies

import (
	"github.com/shopspring/decimal"

	"orb-backtest/services/engine"
)

// ORBVWAP is the windowed variant. The 4x leverage bound is reported but not
// enforced, matching the reference runs where the risk size always wins.
func ORBVWAP(symbol string) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Instrument = engine.EquityInstrument(symbol)
	cfg.RangePolicy = engine.RangeFixedWindow
	cfg.Window = engine.ClockWindow{StartHour: 9, StartMinute: 30, EndHour: 10, EndMinute: 0}
	cfg.SignalMode = engine.SignalWindowBias
	cfg.ExitPolicy = engine.ExitStopTakeProfitTrailing
	cfg.TakeProfitMultiple = decimal.NewFromInt(6)
	cfg.Sizer.Leverage = decimal.NewFromInt(4)
	cfg.VolumeFilter = false
	return cfg
}

// ORBVWAPMNQ is the futures variant on micro Nasdaq contracts: point value 2,
// quarter-point ticks, and the forced close one bar before the session end so
// the exit order has a bar left to fill.
func ORBVWAPMNQ() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Instrument = engine.Instrument{
		Symbol:     "MNQ",
		PointValue: decimal.NewFromInt(2),
		TickSize:   decimal.NewFromFloat(0.25),
	}
	cfg.ExitPolicy = engine.ExitStopTakeProfitTrailing
	cfg.TakeProfitMultiple = decimal.NewFromInt(10)
	cfg.EODOffset = 1
	cfg.VolumeFilter = false
	return cfg
}
