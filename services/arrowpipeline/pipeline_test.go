package arrowpipeline

import (
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"orb-backtest/services/engine"
)

func TestBarsRoundTrip(t *testing.T) {
	p := NewPipeline(nil)
	bars := []engine.Bar{
		{
			TimestampMs: 1709562600000,
			Open:        decimal.NewFromInt(100), High: decimal.NewFromInt(104),
			Low: decimal.NewFromInt(98), Close: decimal.NewFromInt(102),
			Volume: decimal.NewFromInt(1500),
			VWAP:   decimal.NewFromFloat(101.2), HasVWAP: true,
		},
		{
			TimestampMs: 1709562900000,
			Open:        decimal.NewFromInt(102), High: decimal.NewFromInt(105),
			Low: decimal.NewFromInt(101), Close: decimal.NewFromInt(104),
			Volume: decimal.NewFromInt(1200),
		},
	}

	data, err := p.BarsToArrow("QQQ", bars)
	require.NoError(t, err)

	records, err := p.ReadRecords(data)
	require.NoError(t, err)
	require.Len(t, records, 1)
	defer records[0].Release()

	rec := records[0]
	require.EqualValues(t, 2, rec.NumRows())
	ts := rec.Column(1).(*array.Int64)
	require.Equal(t, int64(1709562600000), ts.Value(0))
	vwap := rec.Column(7).(*array.Float64)
	require.True(t, vwap.IsValid(0))
	require.True(t, vwap.IsNull(1), "absent vwap must encode as null")
}

func TestTradesToArrowEmpty(t *testing.T) {
	p := NewPipeline(nil)
	_, err := p.TradesToArrow(nil)
	require.Error(t, err)
}

func TestTradesToArrowColumns(t *testing.T) {
	p := NewPipeline(nil)
	trades := []engine.TradeRecord{{
		Date: "2024-03-04", Direction: engine.Short,
		EntryPrice: decimal.NewFromInt(98), ExitPrice: decimal.NewFromInt(95),
		StopLoss: decimal.NewFromInt(99), ExitReason: engine.ExitEndOfDay,
		PositionSize: 500, Pnl: decimal.NewFromFloat(1498.25),
		RewardRisk: decimal.NewFromInt(3), Commission: decimal.NewFromFloat(1.75),
	}}

	data, err := p.TradesToArrow(trades)
	require.NoError(t, err)
	records, err := p.ReadRecords(data)
	require.NoError(t, err)
	defer records[0].Release()

	rec := records[0]
	require.Equal(t, "SHORT", rec.Column(1).(*array.String).Value(0))
	require.Equal(t, "EOD", rec.Column(7).(*array.String).Value(0))
	require.Equal(t, int64(500), rec.Column(8).(*array.Int64).Value(0))
}
