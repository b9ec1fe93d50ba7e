// Package arrowpipeline serializes bar series and trade lists to Apache
// Arrow IPC, the interchange format consumed by the analysis notebooks.
package arrowpipeline

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"orb-backtest/services/engine"
)

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	{Name: "vwap", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

var tradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "trading_day", Type: arrow.BinaryTypes.String},
	{Name: "direction", Type: arrow.BinaryTypes.String},
	{Name: "entry_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "stop_loss", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	{Name: "position_size", Type: arrow.PrimitiveTypes.Int64},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "reward_risk", Type: arrow.PrimitiveTypes.Float64},
	{Name: "commission", Type: arrow.PrimitiveTypes.Float64},
	{Name: "atr", Type: arrow.PrimitiveTypes.Float64},
	{Name: "relative_volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Pipeline owns the allocator shared by the builders.
type Pipeline struct {
	mem memory.Allocator
	log *zap.Logger
}

func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{mem: memory.NewGoAllocator(), log: logger}
}

// BarsToArrow encodes a bar slice as one IPC stream record. Decimal prices
// degrade to float64 here; the interchange format is for analysis, not for
// further sizing math.
func (p *Pipeline) BarsToArrow(symbol string, bars []engine.Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars to convert")
	}

	b := array.NewRecordBuilder(p.mem, barSchema)
	defer b.Release()

	for _, bar := range bars {
		b.Field(0).(*array.StringBuilder).Append(symbol)
		b.Field(1).(*array.Int64Builder).Append(bar.TimestampMs)
		b.Field(2).(*array.Float64Builder).Append(bar.Open.InexactFloat64())
		b.Field(3).(*array.Float64Builder).Append(bar.High.InexactFloat64())
		b.Field(4).(*array.Float64Builder).Append(bar.Low.InexactFloat64())
		b.Field(5).(*array.Float64Builder).Append(bar.Close.InexactFloat64())
		b.Field(6).(*array.Float64Builder).Append(bar.Volume.InexactFloat64())
		if bar.HasVWAP {
			b.Field(7).(*array.Float64Builder).Append(bar.VWAP.InexactFloat64())
		} else {
			b.Field(7).(*array.Float64Builder).AppendNull()
		}
	}

	record := b.NewRecord()
	defer record.Release()
	return p.encode(barSchema, record)
}

// TradesToArrow encodes a run's trade list.
func (p *Pipeline) TradesToArrow(trades []engine.TradeRecord) ([]byte, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("no trades to convert")
	}

	b := array.NewRecordBuilder(p.mem, tradeSchema)
	defer b.Release()

	for _, t := range trades {
		b.Field(0).(*array.StringBuilder).Append(t.Date)
		b.Field(1).(*array.StringBuilder).Append(t.Direction.String())
		b.Field(2).(*array.Int64Builder).Append(t.EntryTimeMs)
		b.Field(3).(*array.Int64Builder).Append(t.ExitTimeMs)
		b.Field(4).(*array.Float64Builder).Append(t.EntryPrice.InexactFloat64())
		b.Field(5).(*array.Float64Builder).Append(t.ExitPrice.InexactFloat64())
		b.Field(6).(*array.Float64Builder).Append(t.StopLoss.InexactFloat64())
		b.Field(7).(*array.StringBuilder).Append(string(t.ExitReason))
		b.Field(8).(*array.Int64Builder).Append(t.PositionSize)
		b.Field(9).(*array.Float64Builder).Append(t.Pnl.InexactFloat64())
		b.Field(10).(*array.Float64Builder).Append(t.RewardRisk.InexactFloat64())
		b.Field(11).(*array.Float64Builder).Append(t.Commission.InexactFloat64())
		b.Field(12).(*array.Float64Builder).Append(t.ATR.InexactFloat64())
		b.Field(13).(*array.Float64Builder).Append(t.RelativeVolume.InexactFloat64())
	}

	record := b.NewRecord()
	defer record.Release()
	return p.encode(tradeSchema, record)
}

func (p *Pipeline) encode(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(p.mem))
	if err := w.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadRecords decodes an IPC stream back into records, for round-trip checks
// and for tooling that post-processes exported runs.
func (p *Pipeline) ReadRecords(data []byte) ([]arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to open Arrow reader: %w", err)
	}
	defer r.Release()

	var records []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.Err(); err != nil {
		for _, rec := range records {
			rec.Release()
		}
		return nil, fmt.Errorf("failed to read Arrow records: %w", err)
	}
	return records, nil
}

// ExportTradesFile writes the trade list as an Arrow IPC file.
func (p *Pipeline) ExportTradesFile(path string, trades []engine.TradeRecord) error {
	data, err := p.TradesToArrow(trades)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	p.log.Info("trades exported", zap.String("path", path), zap.Int("count", len(trades)))
	return nil
}

// ExportBarsFile writes a bar series as an Arrow IPC file.
func (p *Pipeline) ExportBarsFile(path, symbol string, bars []engine.Bar) error {
	data, err := p.BarsToArrow(symbol, bars)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	p.log.Info("bars exported", zap.String("path", path), zap.Int("count", len(bars)))
	return nil
}
