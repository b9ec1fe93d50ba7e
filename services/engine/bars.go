// Package engine implements a parameterized Opening-Range-Breakout backtest:
// range derivation, daily ATR, signal generation, risk-based sizing and a
// single-pass trade simulator folded over trading days.
package engine

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV bar. Prices are decimals; VWAP is zero when the feed
// has no vwap column (HasVWAP distinguishes a real zero from "absent").
type Bar struct {
	TimestampMs int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	VWAP        decimal.Decimal
	HasVWAP     bool
}

// Time returns the bar open time in UTC.
func (b Bar) Time() time.Time { return time.UnixMilli(b.TimestampMs).UTC() }

// minuteOfDay returns the bar's clock time in loc as minutes since midnight.
func (b Bar) minuteOfDay(loc *time.Location) int {
	t := time.UnixMilli(b.TimestampMs).In(loc)
	return t.Hour()*60 + t.Minute()
}

// TradingDay is one calendar session: the day key plus its bars in
// timestamp order.
type TradingDay struct {
	Date string // YYYY-MM-DD
	Bars []Bar
}

// Series is an immutable, sorted bar history with the exchange time zone
// used for day grouping and clock-time windows.
type Series struct {
	Bars []Bar
	Loc  *time.Location

	dayKeys map[int64]string // explicit trading_day column, when present
}

// NewSeries sorts and deduplicates bars (keep last on equal timestamps),
// matching the loader discipline used for exchange dumps.
func NewSeries(bars []Bar, loc *time.Location) *Series {
	if loc == nil {
		loc = time.UTC
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TimestampMs < bars[j].TimestampMs })
	uniq := make([]Bar, 0, len(bars))
	var lastTs int64 = -1
	for _, b := range bars {
		if b.TimestampMs == lastTs {
			uniq[len(uniq)-1] = b
			continue
		}
		uniq = append(uniq, b)
		lastTs = b.TimestampMs
	}
	return &Series{Bars: uniq, Loc: loc}
}

// DayKey derives the trading-day key for a bar: the explicit trading_day
// column when the input carried one, otherwise the calendar date in the
// exchange time zone.
func (s *Series) DayKey(b Bar) string {
	if s.dayKeys != nil {
		if d, ok := s.dayKeys[b.TimestampMs]; ok {
			return d
		}
	}
	return time.UnixMilli(b.TimestampMs).In(s.Loc).Format("2006-01-02")
}

// Days groups the series into trading days, chronological.
func (s *Series) Days() []TradingDay {
	var days []TradingDay
	for _, b := range s.Bars {
		key := s.DayKey(b)
		if n := len(days); n > 0 && days[n-1].Date == key {
			days[n-1].Bars = append(days[n-1].Bars, b)
			continue
		}
		days = append(days, TradingDay{Date: key, Bars: []Bar{b}})
	}
	return days
}

// LoadCSV reads OHLCV bars from a CSV file. The header row names the
// columns; timestamp, open, high, low, close and volume are required, vwap
// and trading_day are picked up when present. Timestamps may be epoch
// milliseconds or RFC3339. Malformed rows are skipped, as in raw exchange
// exports.
func LoadCSV(filename string, loc *time.Location) (*Series, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return ReadCSV(bufio.NewReader(f), loc)
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(r io.Reader, loc *time.Location) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		cols[name] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}
	vwapIdx, hasVWAP := cols["vwap"]
	dayIdx, hasDay := cols["trading_day"]

	var bars []Bar
	dayKeys := make(map[int64]string)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		ts, ok := parseTimestamp(field(rec, cols["timestamp"]))
		if !ok {
			continue
		}
		open, err1 := decimal.NewFromString(field(rec, cols["open"]))
		high, err2 := decimal.NewFromString(field(rec, cols["high"]))
		low, err3 := decimal.NewFromString(field(rec, cols["low"]))
		cls, err4 := decimal.NewFromString(field(rec, cols["close"]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		volume, err := decimal.NewFromString(field(rec, cols["volume"]))
		if err != nil {
			volume = decimal.Zero
		}
		b := Bar{TimestampMs: ts, Open: open, High: high, Low: low, Close: cls, Volume: volume}
		if hasVWAP {
			if v, err := decimal.NewFromString(field(rec, vwapIdx)); err == nil {
				b.VWAP = v
				b.HasVWAP = true
			}
		}
		if hasDay {
			if d := field(rec, dayIdx); d != "" {
				// keep the date part only; some exports store a full datetime
				if len(d) > 10 {
					d = d[:10]
				}
				dayKeys[ts] = d
			}
		}
		bars = append(bars, b)
	}

	s := NewSeries(bars, loc)
	if hasDay && len(dayKeys) > 0 {
		s.dayKeys = dayKeys
	}
	return s, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseTimestamp(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		// tolerate epoch seconds from older dumps
		if ms < 1e12 {
			ms *= 1000
		}
		return ms, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
