//! Opening Range Breakout, 5-minute base variant
//!
//! First 5m bar defines the range, the bar's body picks the direction, a stop
//! order at the range edge enters, and the trade rides to the ATR stop or the
//! end of the session.

package strategies

import (
	"github.com/shopspring/decimal"

	"orb-backtest/services/engine"
)

// ORBFiveMinute is the base variant: first-bar range, directional candle,
// stop-only exits, relative-volume gate at 1.0.
func ORBFiveMinute(symbol string) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Instrument = engine.EquityInstrument(symbol)
	return cfg
}

// ORBTakeProfit adds a fixed profit target at ten times the risk distance.
func ORBTakeProfit(symbol string) engine.Config {
	cfg := ORBFiveMinute(symbol)
	cfg.ExitPolicy = engine.ExitStopTakeProfit
	cfg.TakeProfitMultiple = decimal.NewFromInt(10)
	return cfg
}
