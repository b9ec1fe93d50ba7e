// Package clickhouse persists minute bars and backtest trade records.
package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orb-backtest/services/engine"
)

// Options is the connection bootstrap. Addr is host:port for the native
// protocol (9000), not the HTTP port.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Store is a thin wrapper over the native connection with the bar and trade
// schemas it owns.
type Store struct {
	conn clickhouse.Conn
	db   string
	log  *zap.Logger
}

// NewStore connects and pings. The database must already exist; tables are
// created lazily by EnsureSchema.
func NewStore(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:9000"
	}
	if opts.Database == "" {
		opts.Database = "backtest"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Store{conn: conn, db: opts.Database, log: logger}, nil
}

// EnsureSchema creates the bars and trades tables when missing. Bars
// deduplicate by (symbol, interval, timestamp_ms) keeping the newest insert.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.bars (
				symbol       LowCardinality(String),
				interval     LowCardinality(String),
				timestamp_ms UInt64,
				open         Decimal128(8),
				high         Decimal128(8),
				low          Decimal128(8),
				close        Decimal128(8),
				volume       Decimal128(8),
				vwap         Nullable(Decimal128(8)),
				ingested_at  DateTime DEFAULT now()
			)
			ENGINE = ReplacingMergeTree(ingested_at)
			ORDER BY (symbol, interval, timestamp_ms)
		`, s.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.trades (
				run_id          String,
				trading_day     Date,
				symbol          LowCardinality(String),
				direction       LowCardinality(String),
				entry_time_ms   UInt64,
				exit_time_ms    UInt64,
				entry_price     Decimal128(8),
				exit_price      Decimal128(8),
				stop_loss       Decimal128(8),
				exit_reason     LowCardinality(String),
				position_size   Int64,
				pnl             Decimal128(8),
				reward_risk     Decimal128(8),
				commission      Decimal128(8),
				atr             Decimal128(8),
				relative_volume Decimal128(8),
				created_at      DateTime DEFAULT now()
			)
			ENGINE = MergeTree
			ORDER BY (run_id, trading_day)
		`, s.db),
	}
	for _, q := range ddl {
		if err := s.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// QueryBars loads a symbol's bars for one interval, ordered by timestamp.
// FINAL collapses duplicate inserts on the replacing engine.
func (s *Store) QueryBars(ctx context.Context, symbol, interval string, start, end time.Time, loc *time.Location) (*engine.Series, error) {
	q := fmt.Sprintf(`
		SELECT timestamp_ms, open, high, low, close, volume, vwap
		FROM %s.bars FINAL
		WHERE symbol = ? AND interval = ?
		  AND timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms
	`, s.db)
	rows, err := s.conn.Query(ctx, q, symbol, interval,
		uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var ts uint64
		var o, h, l, c, v decimal.Decimal
		var vwap *decimal.Decimal
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v, &vwap); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b := engine.Bar{
			TimestampMs: int64(ts),
			Open:        o, High: h, Low: l, Close: c, Volume: v,
		}
		if vwap != nil {
			b.VWAP = *vwap
			b.HasVWAP = true
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	s.log.Info("bars loaded",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(bars)))
	return engine.NewSeries(bars, loc), nil
}

// InsertBars batch-inserts bars with insert-time dedup on.
func (s *Store) InsertBars(ctx context.Context, symbol, interval string, bars []engine.Bar) error {
	batch, err := s.conn.PrepareBatch(ctx,
		fmt.Sprintf(`INSERT INTO %s.bars (symbol, interval, timestamp_ms, open, high, low, close, volume, vwap) SETTINGS insert_deduplicate=1`, s.db))
	if err != nil {
		return fmt.Errorf("prepare bars batch: %w", err)
	}
	for _, b := range bars {
		var vwap *decimal.Decimal
		if b.HasVWAP {
			v := b.VWAP
			vwap = &v
		}
		if err := batch.Append(symbol, interval, uint64(b.TimestampMs),
			b.Open, b.High, b.Low, b.Close, b.Volume, vwap); err != nil {
			return fmt.Errorf("append bar: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send bars batch: %w", err)
	}
	s.log.Info("bars inserted", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	return nil
}

// InsertTrades persists a run's trade list under the given run id.
func (s *Store) InsertTrades(ctx context.Context, runID, symbol string, trades []engine.TradeRecord) error {
	batch, err := s.conn.PrepareBatch(ctx,
		fmt.Sprintf(`INSERT INTO %s.trades (run_id, trading_day, symbol, direction, entry_time_ms, exit_time_ms, entry_price, exit_price, stop_loss, exit_reason, position_size, pnl, reward_risk, commission, atr, relative_volume)`, s.db))
	if err != nil {
		return fmt.Errorf("prepare trades batch: %w", err)
	}
	for _, t := range trades {
		day, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return fmt.Errorf("bad trading day %q: %w", t.Date, err)
		}
		if err := batch.Append(runID, day, symbol, t.Direction.String(),
			uint64(t.EntryTimeMs), uint64(t.ExitTimeMs),
			t.EntryPrice, t.ExitPrice, t.StopLoss, string(t.ExitReason),
			t.PositionSize, t.Pnl, t.RewardRisk, t.Commission,
			t.ATR, t.RelativeVolume); err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send trades batch: %w", err)
	}
	s.log.Info("trades inserted", zap.String("run_id", runID), zap.Int("count", len(trades)))
	return nil
}

// Close releases the connection.
func (s *Store) Close() error { return s.conn.Close() }

// DSNHost extracts host:port from a clickhouse:// DSN for the native driver.
func DSNHost(dsn string) string {
	host := "localhost:9000"
	if i := strings.Index(dsn, "@"); i != -1 {
		rest := dsn[i+1:]
		if j := strings.Index(rest, "?"); j != -1 {
			host = rest[:j]
		} else {
			host = rest
		}
		host = strings.TrimPrefix(host, "/")
		host = strings.TrimPrefix(host, "//")
	}
	return host
}
