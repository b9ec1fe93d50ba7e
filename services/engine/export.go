package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"
)

var tradeHeader = []string{
	"date", "direction", "entry_time", "exit_time",
	"entry_price", "exit_price", "stop_loss", "exit_reason",
	"position_size", "pnl", "reward_risk", "commission",
	"atr", "relative_volume",
}

// WriteTradesCSV streams the trade list as CSV with a fixed header. Times
// are rendered in the given zone so the file reads in exchange-local clock.
func WriteTradesCSV(w io.Writer, trades []TradeRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.Date,
			t.Direction.String(),
			time.UnixMilli(t.EntryTimeMs).In(loc).Format("2006-01-02 15:04:05"),
			time.UnixMilli(t.ExitTimeMs).In(loc).Format("2006-01-02 15:04:05"),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.StopLoss.String(),
			string(t.ExitReason),
			fmt.Sprintf("%d", t.PositionSize),
			t.Pnl.StringFixed(2),
			t.RewardRisk.StringFixed(4),
			t.Commission.StringFixed(4),
			t.ATR.StringFixed(4),
			t.RelativeVolume.StringFixed(4),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveTradesCSV writes the trade list to a file path.
func SaveTradesCSV(path string, trades []TradeRecord, loc *time.Location) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return WriteTradesCSV(f, trades, loc)
}
