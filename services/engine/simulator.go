package engine

import "github.com/shopspring/decimal"

// ExitPolicy selects which exit conditions the simulator evaluates.
type ExitPolicy int

const (
	ExitStopOnly              ExitPolicy = iota // stop loss or end-of-day
	ExitStopTakeProfit                          // stop loss, fixed take profit, end-of-day
	ExitStopTakeProfitTrailing                  // stop loss, take profit, VWAP trailing stop
)

// ExitReason tags how a trade was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "SL"
	ExitTakeProfit ExitReason = "TP"
	ExitTrailing   ExitReason = "TRAILING"
	ExitEndOfDay   ExitReason = "EOD"
)

// StopLossRewardRisk is the sentinel reward:risk recorded for stop-hit exits
// under the stop-only policy, marking a full loss rather than a measured
// ratio. Aggregate statistics filter it before averaging.
var StopLossRewardRisk = decimal.NewFromInt(-1)

// TradeRecord is one closed trade. At most one is produced per trading day.
type TradeRecord struct {
	Date           string
	Direction      TradeSide
	EntryPrice     decimal.Decimal
	ExitPrice      decimal.Decimal
	StopLoss       decimal.Decimal
	ExitReason     ExitReason
	PositionSize   int64
	Pnl            decimal.Decimal
	RewardRisk     decimal.Decimal
	Commission     decimal.Decimal
	EntryTimeMs    int64
	ExitTimeMs     int64
	ATR            decimal.Decimal
	RelativeVolume decimal.Decimal
}

// SimConfig parameterizes one simulation pass.
type SimConfig struct {
	ExitPolicy         ExitPolicy
	TakeProfitMultiple decimal.Decimal // target distance in risk multiples; unused when the signal carries its own target
	CommissionPerUnit  decimal.Decimal
	Instrument         Instrument
	EODOffset          int // bars back from the last bar for the forced close (0 = last bar)
}

// simState is the per-day state machine.
type simState int

const (
	awaitingEntry simState = iota
	inPosition
	closed
)

// Simulate walks the bars strictly after the signal bar in one forward
// pass: the first bar reaching the entry trigger opens the position at the
// trigger level (stop-order fill assumption), and each later bar is checked
// for the exit conditions with the stop always evaluated before the take
// profit, so a bar spanning both resolves as a stop. If the trigger never
// trades, the day produces no trade and that is not an error.
func Simulate(bars []Bar, sig Signal, size int64, cfg SimConfig) (TradeRecord, bool) {
	if len(bars) == 0 || size <= 0 {
		return TradeRecord{}, false
	}

	risk := sig.Entry.Sub(sig.Stop).Abs()
	takeProfit := sig.TakeProfit
	if !sig.HasTP && cfg.ExitPolicy != ExitStopOnly {
		if sig.Side == Long {
			takeProfit = sig.Entry.Add(risk.Mul(cfg.TakeProfitMultiple))
		} else {
			takeProfit = sig.Entry.Sub(risk.Mul(cfg.TakeProfitMultiple))
		}
	}

	state := awaitingEntry
	exitReason := ExitEndOfDay
	workingStop := sig.Stop
	stopRatcheted := false
	var entryBar, exitBar Bar
	var exitPrice decimal.Decimal
	entryIdx := -1

	for i, bar := range bars {
		if state == awaitingEntry {
			if sig.Side == Long && bar.High.GreaterThanOrEqual(sig.Entry) {
				entryBar, state, entryIdx = bar, inPosition, i
			} else if sig.Side == Short && bar.Low.LessThanOrEqual(sig.Entry) {
				entryBar, state, entryIdx = bar, inPosition, i
			}
			continue
		}

		// VWAP trailing: once price is past entry and the bar VWAP has
		// crossed the original stop in the favorable direction, ratchet the
		// working stop to the more favorable of {working stop, VWAP}. The
		// ratchet is monotonic.
		if cfg.ExitPolicy == ExitStopTakeProfitTrailing && bar.HasVWAP {
			if sig.Side == Long && bar.Close.GreaterThan(sig.Entry) && bar.VWAP.GreaterThan(sig.Stop) {
				candidate := cfg.Instrument.QuantizeTrail(Long, bar.VWAP)
				if candidate.GreaterThan(workingStop) {
					workingStop = candidate
					stopRatcheted = true
				}
			} else if sig.Side == Short && bar.Close.LessThan(sig.Entry) && bar.VWAP.LessThan(sig.Stop) {
				candidate := cfg.Instrument.QuantizeTrail(Short, bar.VWAP)
				if candidate.LessThan(workingStop) {
					workingStop = candidate
					stopRatcheted = true
				}
			}
		}

		hitStop := (sig.Side == Long && bar.Low.LessThanOrEqual(workingStop)) ||
			(sig.Side == Short && bar.High.GreaterThanOrEqual(workingStop))
		if hitStop {
			exitPrice = workingStop
			exitReason = ExitStopLoss
			if stopRatcheted {
				exitReason = ExitTrailing
			}
			exitBar, state = bar, closed
			break
		}

		if cfg.ExitPolicy != ExitStopOnly {
			hitTP := (sig.Side == Long && bar.High.GreaterThanOrEqual(takeProfit)) ||
				(sig.Side == Short && bar.Low.LessThanOrEqual(takeProfit))
			if hitTP {
				exitPrice = takeProfit
				exitReason = ExitTakeProfit
				exitBar, state = bar, closed
				break
			}
		}
	}

	if state == awaitingEntry {
		return TradeRecord{}, false
	}
	if state == inPosition {
		// forced end-of-day close, never earlier than the entry bar
		idx := len(bars) - 1 - cfg.EODOffset
		if idx < entryIdx {
			idx = entryIdx
		}
		exitBar = bars[idx]
		exitPrice = exitBar.Close
		exitReason = ExitEndOfDay
	}

	// reward:risk from the original, unratcheted stop; stop-only keeps the
	// -1 sentinel on stop hits
	var rr decimal.Decimal
	if risk.Sign() > 0 {
		rr = exitPrice.Sub(sig.Entry).Abs().Div(risk)
	}
	if cfg.ExitPolicy == ExitStopOnly && exitReason == ExitStopLoss {
		rr = StopLossRewardRisk
	}

	commission := decimal.NewFromInt(size).Mul(cfg.CommissionPerUnit)
	qty := decimal.NewFromInt(size).Mul(cfg.Instrument.PointValue)
	var pnl decimal.Decimal
	if sig.Side == Long {
		pnl = exitPrice.Sub(sig.Entry).Mul(qty).Sub(commission)
	} else {
		pnl = sig.Entry.Sub(exitPrice).Mul(qty).Sub(commission)
	}

	return TradeRecord{
		Direction:    sig.Side,
		EntryPrice:   sig.Entry,
		ExitPrice:    exitPrice,
		StopLoss:     sig.Stop,
		ExitReason:   exitReason,
		PositionSize: size,
		Pnl:          pnl,
		RewardRisk:   rr,
		Commission:   commission,
		EntryTimeMs:  entryBar.TimestampMs,
		ExitTimeMs:   exitBar.TimestampMs,
	}, true
}
