package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	talib "github.com/markcheno/go-talib"

	"orb-backtest/services/engine"
)

// Compares the engine's arithmetic-mean daily ATR against talib's Wilder
// smoothed ATR over the same daily aggregates. The two definitions disagree
// on purpose; this tool quantifies by how much on real data.

type parityRow struct {
	Date      string
	MeanATR   float64
	WilderATR float64
	Diff      float64
}

func main() {
	csvPath := flag.String("csv", "", "OHLCV CSV input (required)")
	tz := flag.String("tz", "America/New_York", "Exchange time zone")
	period := flag.Int("period", engine.DefaultATRPeriod, "ATR period in trading days")
	outCSV := flag.String("out", "./atr_parity.csv", "Parity report output")
	tolerance := flag.Float64("tolerance", 0.05, "Relative difference to flag")
	flag.Parse()

	if *csvPath == "" {
		panic("missing -csv")
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		panic(err)
	}
	series, err := engine.LoadCSV(*csvPath, loc)
	if err != nil {
		panic(err)
	}
	days := series.Days()
	if len(days) <= *period {
		panic(fmt.Errorf("need more than %d trading days, have %d", *period, len(days)))
	}

	daily := engine.AggregateDaily(days)
	highs := make([]float64, len(daily))
	lows := make([]float64, len(daily))
	closes := make([]float64, len(daily))
	for i, d := range daily {
		highs[i] = d.High.InexactFloat64()
		lows[i] = d.Low.InexactFloat64()
		closes[i] = d.Close.InexactFloat64()
	}
	wilder := talib.Atr(highs, lows, closes, *period)

	var rows []parityRow
	flagged := 0
	for i := *period; i < len(days); i++ {
		meanATR, err := engine.AverageTrueRange(days[i-*period:i], *period)
		if err != nil {
			continue
		}
		m := meanATR.InexactFloat64()
		w := wilder[i-1] // talib value as of the previous completed day
		diff := math.Abs(m - w)
		rows = append(rows, parityRow{Date: days[i].Date, MeanATR: m, WilderATR: w, Diff: diff})
		if w != 0 && diff/w > *tolerance {
			flagged++
		}
	}

	f, err := os.Create(*outCSV)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"date", "mean_atr", "wilder_atr", "abs_diff"})
	for _, r := range rows {
		w.Write([]string{
			r.Date,
			fmt.Sprintf("%.6f", r.MeanATR),
			fmt.Sprintf("%.6f", r.WilderATR),
			fmt.Sprintf("%.6f", r.Diff),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		panic(err)
	}

	fmt.Printf("Compared %d days, %d beyond %.0f%% relative difference. Report: %s\n",
		len(rows), flagged, *tolerance*100, *outCSV)
}
