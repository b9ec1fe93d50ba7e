package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultATRPeriod is the lookback in distinct trading days.
const DefaultATRPeriod = 14

// DailyOHLC is one day's aggregate: high=max, low=min, close=last.
type DailyOHLC struct {
	Date  string
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// AggregateDaily collapses each trading day to a single OHLC row.
func AggregateDaily(days []TradingDay) []DailyOHLC {
	out := make([]DailyOHLC, 0, len(days))
	for _, d := range days {
		if len(d.Bars) == 0 {
			continue
		}
		agg := DailyOHLC{Date: d.Date, High: d.Bars[0].High, Low: d.Bars[0].Low}
		for _, b := range d.Bars {
			if b.High.GreaterThan(agg.High) {
				agg.High = b.High
			}
			if b.Low.LessThan(agg.Low) {
				agg.Low = b.Low
			}
			agg.Close = b.Close
		}
		out = append(out, agg)
	}
	return out
}

// TrueRanges computes the per-day True Range over the aggregates:
// max(high-low, |high-prev_close|, |low-prev_close|). The first day has no
// previous close, so its TR degenerates to high-low.
func TrueRanges(daily []DailyOHLC) []decimal.Decimal {
	trs := make([]decimal.Decimal, 0, len(daily))
	for i, d := range daily {
		tr := d.High.Sub(d.Low)
		if i > 0 {
			prevClose := daily[i-1].Close
			if hpc := d.High.Sub(prevClose).Abs(); hpc.GreaterThan(tr) {
				tr = hpc
			}
			if lpc := d.Low.Sub(prevClose).Abs(); lpc.GreaterThan(tr) {
				tr = lpc
			}
		}
		trs = append(trs, tr)
	}
	return trs
}

// AverageTrueRange returns the arithmetic mean of the True Ranges over the
// given lookback days. The day count must equal period exactly; any other
// count is a data-shape violation and yields no value. Partial windows are
// never averaged.
func AverageTrueRange(days []TradingDay, period int) (decimal.Decimal, error) {
	daily := AggregateDaily(days)
	if len(daily) != period {
		return decimal.Zero, fmt.Errorf("wrong number of lookback days: %d instead of %d", len(daily), period)
	}
	sum := decimal.Zero
	for _, tr := range TrueRanges(daily) {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}
