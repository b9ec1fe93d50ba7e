package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// RangePolicy selects how the day's reference range is derived.
type RangePolicy int

const (
	RangeFirstBar          RangePolicy = iota // opening bar high/low
	RangeFixedWindow                          // max/min over a clock-time window
	RangeConfirmedBreakout                    // fixed window + extension scan until a close breaks out
)

// DailyRange is the day's reference high/low.
type DailyRange struct {
	High decimal.Decimal
	Low  decimal.Decimal
}

// Size returns high minus low.
func (r DailyRange) Size() decimal.Decimal { return r.High.Sub(r.Low) }

// ClockWindow is an inclusive clock-time window in the exchange time zone.
type ClockWindow struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

func (w ClockWindow) startMinute() int { return w.StartHour*60 + w.StartMinute }
func (w ClockWindow) endMinute() int   { return w.EndHour*60 + w.EndMinute }

func (w ClockWindow) contains(b Bar, loc *time.Location) bool {
	m := b.minuteOfDay(loc)
	return m >= w.startMinute() && m <= w.endMinute()
}

// FirstBarRange derives the range from the day's opening bar. The returned
// index is the last bar belonging to the range (the signal bar); simulation
// scans strictly after it.
func FirstBarRange(day TradingDay) (DailyRange, int, bool) {
	if len(day.Bars) == 0 {
		return DailyRange{}, 0, false
	}
	first := day.Bars[0]
	return DailyRange{High: first.High, Low: first.Low}, 0, true
}

// WindowRange derives the range over all bars whose clock time falls in the
// window, inclusive on both ends. Returns the index of the last window bar.
// An empty window yields no range and the day is skipped.
func WindowRange(day TradingDay, loc *time.Location, w ClockWindow) (DailyRange, int, bool) {
	var (
		dr      DailyRange
		lastIdx = -1
	)
	for i, b := range day.Bars {
		if !w.contains(b, loc) {
			continue
		}
		if lastIdx == -1 {
			dr = DailyRange{High: b.High, Low: b.Low}
		} else {
			if b.High.GreaterThan(dr.High) {
				dr.High = b.High
			}
			if b.Low.LessThan(dr.Low) {
				dr.Low = b.Low
			}
		}
		lastIdx = i
	}
	if lastIdx == -1 {
		return DailyRange{}, 0, false
	}
	return dr, lastIdx, true
}

// Breakout is the outcome of the confirmed-breakout scan: the locked range,
// the fixed direction, and the bar indices of the breakout bar and the later
// confirmation bar whose high/low becomes the entry trigger.
type Breakout struct {
	Range       DailyRange
	Side        TradeSide
	BreakoutIdx int
	ConfirmIdx  int
}

// ConfirmedBreakout starts from the fixed-window range and scans bars after
// the window. A bar piercing the range edge without closing beyond it
// extends the edge; the first bar closing strictly beyond the (possibly
// extended) edge is the breakout bar and freezes the range. A confirmation
// bar is then required: the first later bar closing beyond the breakout
// bar's high (long) or low (short).
func ConfirmedBreakout(day TradingDay, loc *time.Location, w ClockWindow) (Breakout, bool) {
	dr, lastIdx, ok := WindowRange(day, loc, w)
	if !ok {
		return Breakout{}, false
	}

	breakoutIdx := -1
	var side TradeSide
	for i := lastIdx + 1; i < len(day.Bars); i++ {
		b := day.Bars[i]
		if b.High.GreaterThan(dr.High) && b.Close.LessThanOrEqual(dr.High) {
			dr.High = b.High
			continue
		}
		if b.Low.LessThan(dr.Low) && b.Close.GreaterThanOrEqual(dr.Low) {
			dr.Low = b.Low
			continue
		}
		if b.Close.GreaterThan(dr.High) {
			breakoutIdx, side = i, Long
			break
		}
		if b.Close.LessThan(dr.Low) {
			breakoutIdx, side = i, Short
			break
		}
	}
	if breakoutIdx == -1 {
		return Breakout{}, false
	}

	breakoutBar := day.Bars[breakoutIdx]
	for i := breakoutIdx + 1; i < len(day.Bars); i++ {
		b := day.Bars[i]
		if side == Long && b.Close.GreaterThan(breakoutBar.High) {
			return Breakout{Range: dr, Side: side, BreakoutIdx: breakoutIdx, ConfirmIdx: i}, true
		}
		if side == Short && b.Close.LessThan(breakoutBar.Low) {
			return Breakout{Range: dr, Side: side, BreakoutIdx: breakoutIdx, ConfirmIdx: i}, true
		}
	}
	return Breakout{}, false
}
