package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config enumerates the policy axes of the strategy. Every script variant of
// the reference runs is one value of this record.
type Config struct {
	Instrument Instrument
	Timezone   string // exchange-local zone for day grouping and windows

	RangePolicy RangePolicy
	Window      ClockWindow // fixed-window and confirmed-breakout policies
	SignalMode  SignalMode

	ATRPeriod       int
	StopATRFraction decimal.Decimal

	ExitPolicy         ExitPolicy
	TakeProfitMultiple decimal.Decimal
	EODOffset          int

	VolumeFilter    bool
	VolumeThreshold decimal.Decimal
	VolumeLookback  int

	Sizer             SizerConfig
	CommissionPerUnit decimal.Decimal
	StartingCapital   decimal.Decimal
}

// DefaultConfig is the base 5-minute variant: first-bar range, directional
// candle, stop-only exits, relative-volume gate, 1% risk on $50k.
func DefaultConfig() Config {
	return Config{
		Instrument:        EquityInstrument("QQQ"),
		Timezone:          "America/New_York",
		RangePolicy:       RangeFirstBar,
		SignalMode:        SignalDirectionalCandle,
		ATRPeriod:         DefaultATRPeriod,
		StopATRFraction:   decimal.NewFromFloat(0.1),
		ExitPolicy:        ExitStopOnly,
		VolumeFilter:      true,
		VolumeThreshold:   decimal.NewFromInt(1),
		VolumeLookback:    14,
		Sizer:             SizerConfig{RiskFraction: decimal.NewFromFloat(0.01)},
		CommissionPerUnit: decimal.NewFromFloat(0.0035),
		StartingCapital:   decimal.NewFromInt(50000),
	}
}

// Runner folds the per-day pipeline over a bar series.
type Runner struct {
	cfg Config
	loc *time.Location
	log *zap.Logger

	// OnDay, when set, is called after each processed day (done, total).
	OnDay func(done, total int)
}

// NewRunner validates the config and resolves the exchange time zone.
func NewRunner(cfg Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ATRPeriod <= 0 {
		return nil, fmt.Errorf("atr period must be positive, got %d", cfg.ATRPeriod)
	}
	if cfg.Sizer.RiskFraction.Sign() <= 0 {
		return nil, fmt.Errorf("risk fraction must be positive")
	}
	if cfg.VolumeFilter && cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = cfg.ATRPeriod
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("bad timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Runner{cfg: cfg, loc: loc, log: logger}, nil
}

// Result is the ordered list of closed trades for a run.
type Result struct {
	Trades          []TradeRecord
	StartingCapital decimal.Decimal
	DaysProcessed   int
	DaysSkipped     int
}

// EquityPoint is one step of the post-hoc equity curve.
type EquityPoint struct {
	TimeMs int64
	Equity decimal.Decimal
}

// EquityCurve replays the record list into equity[i] = starting capital +
// cumulative pnl. It is an aggregate over the output, never fed back into
// sizing.
func (r *Result) EquityCurve() []EquityPoint {
	curve := make([]EquityPoint, 0, len(r.Trades))
	equity := r.StartingCapital
	for _, t := range r.Trades {
		equity = equity.Add(t.Pnl)
		curve = append(curve, EquityPoint{TimeMs: t.ExitTimeMs, Equity: equity})
	}
	return curve
}

// Run iterates trading days chronologically. Each day needs at least
// ATRPeriod distinct prior days, then runs range -> ATR -> signal -> size ->
// simulate, short-circuiting to the next day at the first stage with no
// result. Sizing equity stays at the starting capital: risk per trade is
// constant in dollar terms by design.
func (r *Runner) Run(series *Series) (*Result, error) {
	if series == nil || len(series.Bars) == 0 {
		return nil, fmt.Errorf("empty bar series")
	}
	days := series.Days()
	res := &Result{StartingCapital: r.cfg.StartingCapital}

	for i := range days {
		rec, ok := r.analyzeDay(days, i)
		if ok {
			res.Trades = append(res.Trades, rec)
		} else {
			res.DaysSkipped++
		}
		res.DaysProcessed++
		if r.OnDay != nil {
			r.OnDay(i+1, len(days))
		}
	}

	r.log.Info("run complete",
		zap.Int("days", res.DaysProcessed),
		zap.Int("trades", len(res.Trades)),
		zap.Int("skipped", res.DaysSkipped))
	return res, nil
}

// analyzeDay runs the fixed per-day pipeline. A false return means "no trade
// for this day", which is an ordinary outcome, not an error.
func (r *Runner) analyzeDay(days []TradingDay, idx int) (TradeRecord, bool) {
	day := days[idx]
	if idx < r.cfg.ATRPeriod {
		return TradeRecord{}, false
	}
	lookback := days[idx-r.cfg.ATRPeriod : idx]

	atr, err := AverageTrueRange(lookback, r.cfg.ATRPeriod)
	if err != nil {
		// data-shape violation: report at the estimator boundary and skip
		r.log.Warn("atr rejected", zap.String("day", day.Date), zap.Error(err))
		return TradeRecord{}, false
	}

	sig, relVol, ok := r.signalForDay(days, idx, atr)
	if !ok {
		return TradeRecord{}, false
	}

	size := PositionSize(sig.Entry, sig.Stop, r.cfg.StartingCapital, r.cfg.Instrument, r.cfg.Sizer)
	if size == 0 {
		return TradeRecord{}, false
	}

	if sig.SignalIdx+1 >= len(day.Bars) {
		return TradeRecord{}, false
	}
	rec, ok := Simulate(day.Bars[sig.SignalIdx+1:], sig, size, SimConfig{
		ExitPolicy:         r.cfg.ExitPolicy,
		TakeProfitMultiple: r.cfg.TakeProfitMultiple,
		CommissionPerUnit:  r.cfg.CommissionPerUnit,
		Instrument:         r.cfg.Instrument,
		EODOffset:          r.cfg.EODOffset,
	})
	if !ok {
		return TradeRecord{}, false
	}
	rec.Date = day.Date
	rec.ATR = atr
	rec.RelativeVolume = relVol
	return rec, true
}

func (r *Runner) signalForDay(days []TradingDay, idx int, atr decimal.Decimal) (Signal, decimal.Decimal, bool) {
	day := days[idx]
	relVol := decimal.Zero
	if r.cfg.VolumeFilter {
		relVol = RelativeVolume(days, idx, r.cfg.VolumeLookback)
		if relVol.LessThan(r.cfg.VolumeThreshold) {
			return Signal{}, relVol, false
		}
	}

	switch r.cfg.RangePolicy {
	case RangeFirstBar:
		dr, signalIdx, ok := FirstBarRange(day)
		if !ok {
			return Signal{}, relVol, false
		}
		sig, ok := DirectionalCandleSignal(day, dr, signalIdx, atr, r.cfg.StopATRFraction, r.cfg.Instrument)
		return sig, relVol, ok

	case RangeFixedWindow:
		dr, lastIdx, ok := WindowRange(day, r.loc, r.cfg.Window)
		if !ok {
			return Signal{}, relVol, false
		}
		var sig Signal
		if r.cfg.SignalMode == SignalWindowBias {
			sig, ok = WindowBiasSignal(day, r.loc, r.cfg.Window, dr, lastIdx, atr, r.cfg.StopATRFraction, r.cfg.Instrument)
		} else {
			sig, ok = DirectionalCandleSignal(day, dr, lastIdx, atr, r.cfg.StopATRFraction, r.cfg.Instrument)
		}
		return sig, relVol, ok

	case RangeConfirmedBreakout:
		bk, ok := ConfirmedBreakout(day, r.loc, r.cfg.Window)
		if !ok {
			return Signal{}, relVol, false
		}
		sig, ok := BreakoutSignal(day, bk, atr, r.cfg.StopATRFraction, r.cfg.Instrument)
		return sig, relVol, ok
	}
	return Signal{}, relVol, false
}
