// Package livebot arms the opening-range strategy against a live venue: one
// session per trading day, one bracket order at most, torn down at the close.
package livebot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orb-backtest/services/broker"
	"orb-backtest/services/engine"
)

// Config wires the strategy config to a venue.
type Config struct {
	Symbol     string
	Interval   string
	Engine     engine.Config
	WarmupDays int // distinct prior days to fetch, at least the ATR period

	SessionEnd engine.ClockWindow // the close; only the end fields are read
}

// Bot owns the stream lifecycle and the per-day sessions.
type Bot struct {
	cfg    Config
	client *broker.Client
	stream *broker.Stream
	loc    *time.Location
	log    *zap.Logger

	session *Session
	days    []engine.TradingDay
}

// Session is one trading day's state: armed at most once, torn down at the
// session end.
type Session struct {
	Date    string
	Bars    []engine.Bar
	OrderID string
	Armed   bool
}

func New(cfg Config, client *broker.Client, stream *broker.Stream, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WarmupDays < cfg.Engine.ATRPeriod {
		cfg.WarmupDays = cfg.Engine.ATRPeriod
	}
	if cfg.SessionEnd.EndHour == 0 {
		cfg.SessionEnd = engine.ClockWindow{EndHour: 16, EndMinute: 0}
	}
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q: %w", cfg.Engine.Timezone, err)
	}
	return &Bot{cfg: cfg, client: client, stream: stream, loc: loc, log: logger}, nil
}

// Warmup fetches enough history to satisfy the ATR and relative-volume
// lookbacks before the first live bar arrives.
func (b *Bot) Warmup(ctx context.Context) error {
	// calendar margin over distinct trading days: weekends and holidays
	start := time.Now().AddDate(0, 0, -(b.cfg.WarmupDays*2 + 7))
	bars, err := b.client.FetchBars(ctx, b.cfg.Symbol, b.cfg.Interval, start, time.Now())
	if err != nil {
		return fmt.Errorf("warmup fetch: %w", err)
	}
	series := engine.NewSeries(bars, b.loc)
	b.days = series.Days()
	if len(b.days) < b.cfg.WarmupDays {
		return fmt.Errorf("warmup too short: %d days, need %d", len(b.days), b.cfg.WarmupDays)
	}
	b.log.Info("warmup loaded",
		zap.String("symbol", b.cfg.Symbol),
		zap.Int("days", len(b.days)),
		zap.Int("bars", len(bars)))
	return nil
}

// Run subscribes to the bar stream and processes bars until the context ends.
// Stream drops reconnect on a fixed interval; the session state survives the
// reconnect because bars are replayed from the session buffer, not the wire.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.connect(ctx); err != nil {
		return err
	}
	defer b.stream.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stream.Reconnects():
			b.log.Warn("stream dropped, reconnecting")
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
				}
				err := b.connect(ctx)
				if err == nil {
					break
				}
				b.log.Error("reconnect failed", zap.Error(err))
			}
		}
	}
}

func (b *Bot) connect(ctx context.Context) error {
	if err := b.stream.Connect(ctx); err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	return b.stream.SubscribeBars(b.cfg.Symbol, b.cfg.Interval, func(bar engine.Bar) {
		if err := b.OnBar(ctx, bar); err != nil {
			b.log.Error("bar handling failed", zap.Error(err))
		}
	})
}

// OnBar folds one closed bar into the current session, rolling the session on
// a date change and arming the bracket when the signal bar completes.
func (b *Bot) OnBar(ctx context.Context, bar engine.Bar) error {
	date := time.UnixMilli(bar.TimestampMs).In(b.loc).Format("2006-01-02")

	if b.session == nil || b.session.Date != date {
		if err := b.closeSession(ctx); err != nil {
			b.log.Warn("session teardown failed", zap.Error(err))
		}
		b.session = &Session{Date: date}
		b.log.Info("session opened", zap.String("date", date))
	}
	b.session.Bars = append(b.session.Bars, bar)

	if b.session.Armed {
		if b.pastSessionEnd(bar) {
			return b.closeSession(ctx)
		}
		return nil
	}
	return b.tryArm(ctx)
}

// tryArm runs the backtest pipeline over the live day so far and places the
// bracket order the moment a signal exists. The same gates apply as in the
// simulator: ATR window, relative volume, nonzero size.
func (b *Bot) tryArm(ctx context.Context) error {
	day := engine.TradingDay{Date: b.session.Date, Bars: b.session.Bars}
	days := append(append([]engine.TradingDay{}, b.days...), day)
	idx := len(days) - 1
	if idx < b.cfg.Engine.ATRPeriod {
		return nil
	}

	atr, err := engine.AverageTrueRange(days[idx-b.cfg.Engine.ATRPeriod:idx], b.cfg.Engine.ATRPeriod)
	if err != nil {
		return nil
	}
	if b.cfg.Engine.VolumeFilter {
		relVol := engine.RelativeVolume(days, idx, b.cfg.Engine.VolumeLookback)
		if relVol.LessThan(b.cfg.Engine.VolumeThreshold) {
			return nil
		}
	}

	sig, ok := b.signal(day, atr)
	if !ok {
		return nil
	}

	equity, err := b.client.AccountEquity(ctx)
	if err != nil {
		return fmt.Errorf("equity fetch: %w", err)
	}
	size := engine.PositionSize(sig.Entry, sig.Stop, equity, b.cfg.Engine.Instrument, b.cfg.Engine.Sizer)
	if size == 0 {
		b.log.Info("signal skipped, zero size", zap.String("date", b.session.Date))
		b.session.Armed = true // no second attempt on the same day
		return nil
	}

	side := "BUY"
	if sig.Side == engine.Short {
		side = "SELL"
	}
	order := broker.BracketOrder{
		Symbol:    b.cfg.Symbol,
		Side:      side,
		Quantity:  size,
		EntryStop: sig.Entry,
		StopLoss:  sig.Stop,
		ClientID:  fmt.Sprintf("orb-%s-%s", b.session.Date, uuid.NewString()[:8]),
	}
	if sig.HasTP {
		order.TakeProfit = sig.TakeProfit
		order.HasTP = true
	} else if b.cfg.Engine.ExitPolicy != engine.ExitStopOnly {
		risk := sig.Entry.Sub(sig.Stop).Abs().Mul(b.cfg.Engine.TakeProfitMultiple)
		if sig.Side == engine.Long {
			order.TakeProfit = sig.Entry.Add(risk)
		} else {
			order.TakeProfit = sig.Entry.Sub(risk)
		}
		order.HasTP = true
	}

	ack, err := b.client.PlaceBracket(ctx, order)
	if err != nil {
		return fmt.Errorf("place bracket: %w", err)
	}
	b.session.OrderID = ack.OrderID
	b.session.Armed = true
	b.log.Info("session armed",
		zap.String("date", b.session.Date),
		zap.String("side", side),
		zap.Int64("size", size),
		zap.String("entry", sig.Entry.String()),
		zap.String("stop", sig.Stop.String()))
	return nil
}

func (b *Bot) signal(day engine.TradingDay, atr decimal.Decimal) (engine.Signal, bool) {
	cfg := b.cfg.Engine
	switch cfg.RangePolicy {
	case engine.RangeFirstBar:
		dr, idx, ok := engine.FirstBarRange(day)
		if !ok {
			return engine.Signal{}, false
		}
		return engine.DirectionalCandleSignal(day, dr, idx, atr, cfg.StopATRFraction, cfg.Instrument)
	case engine.RangeFixedWindow:
		dr, lastIdx, ok := engine.WindowRange(day, b.loc, cfg.Window)
		if !ok {
			return engine.Signal{}, false
		}
		// the window must be complete before the bias is readable
		if !b.pastWindowEnd(day.Bars[len(day.Bars)-1]) {
			return engine.Signal{}, false
		}
		if cfg.SignalMode == engine.SignalWindowBias {
			return engine.WindowBiasSignal(day, b.loc, cfg.Window, dr, lastIdx, atr, cfg.StopATRFraction, cfg.Instrument)
		}
		return engine.DirectionalCandleSignal(day, dr, lastIdx, atr, cfg.StopATRFraction, cfg.Instrument)
	case engine.RangeConfirmedBreakout:
		bk, ok := engine.ConfirmedBreakout(day, b.loc, cfg.Window)
		if !ok {
			return engine.Signal{}, false
		}
		return engine.BreakoutSignal(day, bk, atr, cfg.StopATRFraction, cfg.Instrument)
	}
	return engine.Signal{}, false
}

func (b *Bot) pastWindowEnd(bar engine.Bar) bool {
	t := time.UnixMilli(bar.TimestampMs).In(b.loc)
	endMin := b.cfg.Engine.Window.EndHour*60 + b.cfg.Engine.Window.EndMinute
	return t.Hour()*60+t.Minute() >= endMin
}

func (b *Bot) pastSessionEnd(bar engine.Bar) bool {
	t := time.UnixMilli(bar.TimestampMs).In(b.loc)
	endMin := b.cfg.SessionEnd.EndHour*60 + b.cfg.SessionEnd.EndMinute
	return t.Hour()*60+t.Minute() >= endMin
}

// closeSession cancels any resting order and folds the finished day into the
// lookback history so tomorrow's ATR window slides forward.
func (b *Bot) closeSession(ctx context.Context) error {
	if b.session == nil {
		return nil
	}
	if b.session.OrderID != "" {
		if err := b.client.CancelOrder(ctx, b.session.OrderID); err != nil {
			return fmt.Errorf("cancel %s: %w", b.session.OrderID, err)
		}
		b.log.Info("resting order cancelled", zap.String("order_id", b.session.OrderID))
	}
	if len(b.session.Bars) > 0 {
		b.days = append(b.days, engine.TradingDay{Date: b.session.Date, Bars: b.session.Bars})
		if len(b.days) > b.cfg.WarmupDays*2 {
			b.days = b.days[len(b.days)-b.cfg.WarmupDays*2:]
		}
	}
	b.session = nil
	return nil
}
