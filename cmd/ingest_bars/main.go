package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"orb-backtest/services/clickhouse"
	"orb-backtest/services/engine"
)

func main() {
	csvPath := flag.String("csv", "", "OHLCV CSV to ingest (required)")
	chURL := flag.String("ch-url", "http://localhost:18123", "ClickHouse HTTP URL")
	db := flag.String("db", "backtest", "ClickHouse database")
	user := flag.String("ch-user", "backtest", "ClickHouse user")
	pass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	symbol := flag.String("symbol", "QQQ", "Trading symbol")
	interval := flag.String("interval", "5m", "Bar interval")
	batchSize := flag.Int("batch", 10000, "Insert batch size")
	tz := flag.String("tz", "America/New_York", "Exchange time zone")
	flag.Parse()

	if *csvPath == "" {
		panic("missing -csv")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		panic(err)
	}
	series, err := engine.LoadCSV(*csvPath, loc)
	if err != nil {
		panic(err)
	}
	logger.Info("csv loaded", zap.String("path", *csvPath), zap.Int("bars", len(series.Bars)))

	client := clickhouse.NewBatchClient(*chURL, *db, *user, *pass, *batchSize)
	ctx := context.Background()

	bar := progressbar.NewOptions(len(series.Bars),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Ingesting"),
	)
	for _, b := range series.Bars {
		row := clickhouse.RawBar{
			Symbol:      *symbol,
			Interval:    *interval,
			TimestampMs: fmt.Sprintf("%d", b.TimestampMs),
			Open:        b.Open.String(),
			High:        b.High.String(),
			Low:         b.Low.String(),
			Close:       b.Close.String(),
			Volume:      b.Volume.String(),
		}
		if b.HasVWAP {
			row.VWAP = b.VWAP.String()
		}
		if err := client.Add(ctx, row); err != nil {
			panic(err)
		}
		bar.Add(1)
	}
	if err := client.Close(ctx); err != nil {
		panic(err)
	}
	bar.Finish()
	fmt.Printf("\nIngested %d bars for %s %s\n", len(series.Bars), *symbol, *interval)
}
