package engine

import "github.com/shopspring/decimal"

// Instrument carries the contract economics: dollars per point and the
// minimum price increment. Shares use point value 1 and tick size 0.
type Instrument struct {
	Symbol     string
	PointValue decimal.Decimal
	TickSize   decimal.Decimal
}

// Equity returns a share-based instrument (point value 1, no tick grid).
func EquityInstrument(symbol string) Instrument {
	return Instrument{Symbol: symbol, PointValue: decimal.NewFromInt(1)}
}

// FloorToTick snaps a price down to the tick grid; no-op without a tick.
func (in Instrument) FloorToTick(p decimal.Decimal) decimal.Decimal {
	if in.TickSize.IsZero() {
		return p
	}
	return p.Div(in.TickSize).Floor().Mul(in.TickSize)
}

// CeilToTick snaps a price up to the tick grid; no-op without a tick.
func (in Instrument) CeilToTick(p decimal.Decimal) decimal.Decimal {
	if in.TickSize.IsZero() {
		return p
	}
	return p.Div(in.TickSize).Ceil().Mul(in.TickSize)
}

// QuantizeStop snaps a protective stop away from the position: down for a
// long stop, up for a short stop. Widening the stop keeps the sizing
// conservative.
func (in Instrument) QuantizeStop(side TradeSide, stop decimal.Decimal) decimal.Decimal {
	if side == Long {
		return in.FloorToTick(stop)
	}
	return in.CeilToTick(stop)
}

// QuantizeTrail snaps a ratcheted stop toward the position, so the trail
// never overstates the protection: down for long, up for short.
func (in Instrument) QuantizeTrail(side TradeSide, stop decimal.Decimal) decimal.Decimal {
	return in.QuantizeStop(side, stop)
}

// SizerConfig is the fractional-risk budget plus the optional leverage
// bound. When EnforceLeverageCap is false the cap is a diagnostic only and
// the risk-based size is used unconditionally.
type SizerConfig struct {
	RiskFraction       decimal.Decimal
	Leverage           decimal.Decimal
	EnforceLeverageCap bool
}

// PositionSize converts the entry/stop distance and account equity into a
// unit count: floor(equity*risk_fraction / risk_per_unit), with
// risk-per-unit scaled by the instrument's point value. Zero or negative
// risk yields zero (no trade). Flooring is deliberate on both bounds.
func PositionSize(entry, stop, equity decimal.Decimal, inst Instrument, cfg SizerConfig) int64 {
	riskPerUnit := entry.Sub(stop).Abs().Mul(inst.PointValue)
	if riskPerUnit.Sign() <= 0 {
		return 0
	}
	size := equity.Mul(cfg.RiskFraction).Div(riskPerUnit).Floor().IntPart()
	if size <= 0 {
		return 0
	}
	if cfg.EnforceLeverageCap && cfg.Leverage.Sign() > 0 && entry.Sign() > 0 {
		maxSize := equity.Mul(cfg.Leverage).Div(entry).Floor().IntPart()
		if maxSize < size {
			size = maxSize
		}
	}
	return size
}

// LeverageCap reports the leverage-bound size for diagnostics, whether or
// not the cap is enforced.
func LeverageCap(entry, equity decimal.Decimal, cfg SizerConfig) int64 {
	if cfg.Leverage.Sign() <= 0 || entry.Sign() <= 0 {
		return 0
	}
	return equity.Mul(cfg.Leverage).Div(entry).Floor().IntPart()
}
