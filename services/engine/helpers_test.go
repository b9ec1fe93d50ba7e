package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// mkBar builds a bar at the given New York clock time on 2024-03-04.
func mkBar(hour, minute int, open, high, low, close, volume float64) Bar {
	loc, _ := time.LoadLocation("America/New_York")
	ts := time.Date(2024, 3, 4, hour, minute, 0, 0, loc).UnixMilli()
	return Bar{
		TimestampMs: ts,
		Open:        d(open), High: d(high), Low: d(low), Close: d(close),
		Volume: d(volume),
	}
}

func withVWAP(b Bar, vwap float64) Bar {
	b.VWAP = d(vwap)
	b.HasVWAP = true
	return b
}

// mkDay builds a trading day of n five-minute bars from 09:30 with flat
// prices, handy as filler before overriding specific bars.
func mkDay(date string, n int, px, vol float64) TradingDay {
	day := TradingDay{Date: date}
	for i := 0; i < n; i++ {
		b := mkBar(9, 30+5*i, px, px+1, px-1, px, vol)
		day.Bars = append(day.Bars, b)
	}
	return day
}
