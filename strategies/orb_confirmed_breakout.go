//! Opening Range Breakout with breakout confirmation
//!
//! The opening window sets the range, unconfirmed pierces extend it, the
//! first close beyond the edge is the breakout and a second closing bar
//! confirms it. The target projects one range size past the edge.

package strategies

import "orb-backtest/services/engine"

// ORBConfirmedBreakout is the two-stage entry variant.
func ORBConfirmedBreakout(symbol string) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Instrument = engine.EquityInstrument(symbol)
	cfg.RangePolicy = engine.RangeConfirmedBreakout
	cfg.Window = engine.ClockWindow{StartHour: 9, StartMinute: 30, EndHour: 10, EndMinute: 0}
	cfg.SignalMode = engine.SignalBreakoutConfirmation
	cfg.ExitPolicy = engine.ExitStopTakeProfit
	cfg.VolumeFilter = false
	return cfg
}
