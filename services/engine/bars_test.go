package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

const sampleCSV = `timestamp,open,high,low,close,volume,vwap
1709562600000,100,104,98,102,1500,101.2
1709562900000,102,105,101,104,1200,102.8
garbage,not,a,row,at,all,0
1709563200000,104,107,103,106,900,104.1
`

func TestReadCSVSkipsMalformedRows(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(sampleCSV), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Bars) != 3 {
		t.Fatalf("got %d bars, want 3 (bad row skipped)", len(s.Bars))
	}
	if !s.Bars[0].HasVWAP || !s.Bars[0].VWAP.Equal(d(101.2)) {
		t.Fatalf("vwap not parsed: %v %s", s.Bars[0].HasVWAP, s.Bars[0].VWAP)
	}
}

func TestReadCSVStripsHeaderBOM(t *testing.T) {
	csv := "\uFEFFtimestamp,open,high,low,close,volume\n1709562600000,100,104,98,102,1500\n"
	s, err := ReadCSV(strings.NewReader(csv), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(s.Bars))
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("timestamp,open,high,low,close\n1,2,3,4,5\n"), time.UTC); err == nil {
		t.Fatal("missing volume column must fail")
	}
}

func TestReadCSVEpochSeconds(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n1709562600,100,104,98,102,1500\n"
	s, err := ReadCSV(strings.NewReader(csv), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if s.Bars[0].TimestampMs != 1709562600000 {
		t.Fatalf("ts = %d, want milliseconds", s.Bars[0].TimestampMs)
	}
}

func TestReadCSVExplicitTradingDay(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume,trading_day\n" +
		"1709562600000,100,104,98,102,1500,2024-03-04\n" +
		"1709649000000,102,105,101,104,1200,2024-03-05\n"
	s, err := ReadCSV(strings.NewReader(csv), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	days := s.Days()
	if len(days) != 2 || days[0].Date != "2024-03-04" || days[1].Date != "2024-03-05" {
		t.Fatalf("days = %+v", days)
	}
}

func TestNewSeriesSortsAndDeduplicates(t *testing.T) {
	bars := []Bar{
		{TimestampMs: 2000, Close: d(2)},
		{TimestampMs: 1000, Close: d(1)},
		{TimestampMs: 2000, Close: d(3)}, // duplicate timestamp, keep last
	}
	s := NewSeries(bars, time.UTC)
	if len(s.Bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(s.Bars))
	}
	if s.Bars[0].TimestampMs != 1000 {
		t.Fatal("bars not sorted")
	}
	if !s.Bars[1].Close.Equal(d(3)) {
		t.Fatal("duplicate must keep the later row")
	}
}

func TestDaysGroupByExchangeDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	bars := []Bar{
		mkBar(9, 30, 100, 101, 99, 100, 1000),
		mkBar(15, 55, 100, 101, 99, 100, 1000),
	}
	next := mkBar(9, 30, 100, 101, 99, 100, 1000)
	next.TimestampMs += 24 * 3600 * 1000
	bars = append(bars, next)

	days := NewSeries(bars, loc).Days()
	if len(days) != 2 {
		t.Fatalf("got %d days, want 2", len(days))
	}
	if len(days[0].Bars) != 2 {
		t.Fatalf("first day has %d bars, want 2", len(days[0].Bars))
	}
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	trades := []TradeRecord{{
		Date: "2024-03-04", Direction: Long,
		EntryPrice: d(104), ExitPrice: d(106), StopLoss: d(103.8),
		ExitReason: ExitEndOfDay, PositionSize: 2500,
		Pnl: d(4991.25), RewardRisk: d(10), Commission: d(8.75),
		ATR: d(2), RelativeVolume: d(2),
	}}
	if err := WriteTradesCSV(&buf, trades, time.UTC); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if !strings.Contains(lines[1], "LONG") || !strings.Contains(lines[1], "EOD") {
		t.Fatalf("row missing fields: %s", lines[1])
	}
}
