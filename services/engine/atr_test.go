package engine

import (
	"fmt"
	"testing"
)

func lookbackDays(n int) []TradingDay {
	days := make([]TradingDay, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, mkDay(fmt.Sprintf("2024-02-%02d", i+1), 3, 100, 1000))
	}
	return days
}

func TestAverageTrueRangeExactWindow(t *testing.T) {
	atr, err := AverageTrueRange(lookbackDays(14), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// every filler day spans exactly 2 points and closes where it opened
	if !atr.Equal(d(2)) {
		t.Fatalf("atr = %s, want 2", atr)
	}
}

func TestAverageTrueRangeRejectsShortWindow(t *testing.T) {
	if _, err := AverageTrueRange(lookbackDays(13), 14); err == nil {
		t.Fatal("13 days must be rejected")
	}
}

func TestAverageTrueRangeRejectsLongWindow(t *testing.T) {
	if _, err := AverageTrueRange(lookbackDays(15), 14); err == nil {
		t.Fatal("15 days must be rejected")
	}
}

func TestTrueRangeFirstDayHighLow(t *testing.T) {
	daily := AggregateDaily(lookbackDays(2))
	trs := TrueRanges(daily)
	// no previous close on day one: TR degenerates to high-low
	if !trs[0].Equal(daily[0].High.Sub(daily[0].Low)) {
		t.Fatalf("first TR = %s, want high-low", trs[0])
	}
}

func TestTrueRangeUsesGapToPrevClose(t *testing.T) {
	gapDay := TradingDay{Date: "2024-02-02", Bars: []Bar{mkBar(9, 30, 120, 121, 119, 120, 1000)}}
	daily := AggregateDaily([]TradingDay{mkDay("2024-02-01", 3, 100, 1000), gapDay})
	trs := TrueRanges(daily)
	// |high - prev close| = 21 dominates the 2-point intraday span
	if !trs[1].Equal(d(21)) {
		t.Fatalf("gap TR = %s, want 21", trs[1])
	}
}
