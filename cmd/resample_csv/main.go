// Resamples an OHLCV CSV to a coarser cadence, e.g. 1m source data down to
// the 5m bars the opening-range engine expects. VWAP is recombined
// volume-weighted when every source bar in a bucket carries one.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orb-backtest/services/engine"
)

func parseMinutes(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "in"), "m")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported cadence: %s", s)
	}
	return int64(n), nil
}

type bucket struct {
	bar      engine.Bar
	vwapVol  decimal.Decimal // volume with VWAP attached
	vwapFlow decimal.Decimal // sum of vwap*volume
}

func main() {
	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close,volume[,vwap])")
	out := flag.String("out", "", "Output CSV path")
	src := flag.String("src", "1m", "Source cadence")
	dst := flag.String("dst", "5m", "Target cadence")
	flag.Parse()

	if *in == "" || *out == "" {
		panic("-in and -out are required")
	}
	srcMin, err := parseMinutes(*src)
	if err != nil {
		panic(err)
	}
	dstMin, err := parseMinutes(*dst)
	if err != nil {
		panic(err)
	}
	if dstMin%srcMin != 0 {
		panic("dst must be a multiple of src")
	}

	series, err := engine.LoadCSV(*in, time.UTC)
	if err != nil {
		panic(err)
	}
	if len(series.Bars) == 0 {
		panic("no input bars parsed")
	}

	// buckets align to epoch in UTC milliseconds
	dstMs := dstMin * 60 * 1000
	buckets := make(map[int64]*bucket)
	order := make([]int64, 0)

	for _, b := range series.Bars {
		key := (b.TimestampMs / dstMs) * dstMs
		agg, ok := buckets[key]
		if !ok {
			agg = &bucket{bar: b}
			agg.bar.TimestampMs = key
			buckets[key] = agg
			order = append(order, key)
		} else {
			if b.High.GreaterThan(agg.bar.High) {
				agg.bar.High = b.High
			}
			if b.Low.LessThan(agg.bar.Low) {
				agg.bar.Low = b.Low
			}
			agg.bar.Close = b.Close
			agg.bar.Volume = agg.bar.Volume.Add(b.Volume)
		}
		if b.HasVWAP {
			agg.vwapVol = agg.vwapVol.Add(b.Volume)
			agg.vwapFlow = agg.vwapFlow.Add(b.VWAP.Mul(b.Volume))
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	of, err := os.Create(*out)
	if err != nil {
		panic(err)
	}
	defer of.Close()
	w := bufio.NewWriter(of)
	w.WriteString("timestamp,open,high,low,close,volume,vwap\n")
	for _, ts := range order {
		agg := buckets[ts]
		b := agg.bar
		vwap := ""
		// only emit a bucket VWAP when every contributing bar had one
		if agg.vwapVol.Equal(b.Volume) && !b.Volume.IsZero() {
			vwap = agg.vwapFlow.Div(agg.vwapVol).StringFixed(8)
		}
		fmt.Fprintf(w, "%d,%s,%s,%s,%s,%s,%s\n",
			b.TimestampMs, b.Open, b.High, b.Low, b.Close, b.Volume, vwap)
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}
	fmt.Printf("Resampled %d bars into %d %s buckets: %s\n",
		len(series.Bars), len(order), *dst, *out)
}
