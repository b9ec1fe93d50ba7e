package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the trade direction, fixed once per day.
type TradeSide int

const (
	Long TradeSide = iota
	Short
)

func (s TradeSide) String() string {
	if s == Short {
		return "SHORT"
	}
	return "LONG"
}

// SignalMode selects how direction and entry are derived.
type SignalMode int

const (
	SignalDirectionalCandle SignalMode = iota // opening bar close vs open
	SignalWindowBias                          // window first open vs last close
	SignalBreakoutConfirmation                // direction from the confirmed-breakout scan
)

// Signal is a per-day trade intent: direction, stop-entry trigger and
// protective stop. TakeProfit is set only when the range policy projects a
// target itself (confirmed-breakout); otherwise the exit policy derives it
// from the risk multiple.
type Signal struct {
	Side       TradeSide
	Entry      decimal.Decimal
	Stop       decimal.Decimal
	TakeProfit decimal.Decimal
	HasTP      bool
	SignalIdx  int // index of the signal bar; simulation scans strictly after it
}

// stopOffset is the protective-stop distance: ATR scaled by the configured
// fraction (0.1 in every observed variant).
func stopOffset(atr, fraction decimal.Decimal) decimal.Decimal {
	return atr.Mul(fraction)
}

// DirectionalCandleSignal derives direction from the opening bar's body:
// bullish close>open goes long off DR.high, bearish goes short off DR.low.
// A doji produces no signal for the day.
func DirectionalCandleSignal(day TradingDay, dr DailyRange, signalIdx int, atr, stopFraction decimal.Decimal, inst Instrument) (Signal, bool) {
	if len(day.Bars) == 0 {
		return Signal{}, false
	}
	first := day.Bars[0]
	if first.Open.Equal(first.Close) {
		return Signal{}, false
	}
	if first.Close.GreaterThan(first.Open) {
		stop := inst.QuantizeStop(Long, dr.High.Sub(stopOffset(atr, stopFraction)))
		return Signal{Side: Long, Entry: dr.High, Stop: stop, SignalIdx: signalIdx}, true
	}
	stop := inst.QuantizeStop(Short, dr.Low.Add(stopOffset(atr, stopFraction)))
	return Signal{Side: Short, Entry: dr.Low, Stop: stop, SignalIdx: signalIdx}, true
}

// WindowBiasSignal derives direction by comparing the window's first bar
// open to its last bar close (equality reads as short, matching the
// reference behavior). Entry is the range edge in the bias direction.
func WindowBiasSignal(day TradingDay, loc *time.Location, w ClockWindow, dr DailyRange, lastIdx int, atr, stopFraction decimal.Decimal, inst Instrument) (Signal, bool) {
	firstIdx := -1
	for i, b := range day.Bars {
		if w.contains(b, loc) {
			firstIdx = i
			break
		}
	}
	if firstIdx == -1 || lastIdx < firstIdx {
		return Signal{}, false
	}
	first, last := day.Bars[firstIdx], day.Bars[lastIdx]
	if first.Open.LessThan(last.Close) {
		stop := inst.QuantizeStop(Long, dr.High.Sub(stopOffset(atr, stopFraction)))
		return Signal{Side: Long, Entry: dr.High, Stop: stop, SignalIdx: lastIdx}, true
	}
	stop := inst.QuantizeStop(Short, dr.Low.Add(stopOffset(atr, stopFraction)))
	return Signal{Side: Short, Entry: dr.Low, Stop: stop, SignalIdx: lastIdx}, true
}

// BreakoutSignal turns a confirmed breakout into a trade intent: entry at
// the confirmation bar's extreme, stop at the ATR offset, target at the
// range edge projected by one range size.
func BreakoutSignal(day TradingDay, bk Breakout, atr, stopFraction decimal.Decimal, inst Instrument) (Signal, bool) {
	confirm := day.Bars[bk.ConfirmIdx]
	size := bk.Range.Size()
	if bk.Side == Long {
		entry := confirm.High
		return Signal{
			Side:       Long,
			Entry:      entry,
			Stop:       inst.QuantizeStop(Long, entry.Sub(stopOffset(atr, stopFraction))),
			TakeProfit: bk.Range.High.Add(size),
			HasTP:      true,
			SignalIdx:  bk.ConfirmIdx,
		}, true
	}
	entry := confirm.Low
	return Signal{
		Side:       Short,
		Entry:      entry,
		Stop:       inst.QuantizeStop(Short, entry.Add(stopOffset(atr, stopFraction))),
		TakeProfit: bk.Range.Low.Sub(size),
		HasTP:      true,
		SignalIdx:  bk.ConfirmIdx,
	}, true
}

// RelativeVolume is the day's opening-bar volume over the mean opening-bar
// volume of up to the prior lookback distinct days. A zero or undefined
// mean yields 0, which fails any sensible threshold.
func RelativeVolume(days []TradingDay, dayIdx, lookback int) decimal.Decimal {
	if dayIdx <= 0 || dayIdx >= len(days) || len(days[dayIdx].Bars) == 0 {
		return decimal.Zero
	}
	start := dayIdx - lookback
	if start < 0 {
		start = 0
	}
	sum, n := decimal.Zero, 0
	for _, d := range days[start:dayIdx] {
		if len(d.Bars) == 0 {
			continue
		}
		sum = sum.Add(d.Bars[0].Volume)
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	if mean.IsZero() {
		return decimal.Zero
	}
	return days[dayIdx].Bars[0].Volume.Div(mean)
}
