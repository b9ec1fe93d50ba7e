package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// Summary aggregates a finished run. Every field is derived from the trade
// list after the fact; nothing here feeds back into the run.
type Summary struct {
	Trades        int
	Wins          int
	Losses        int
	WinRate       decimal.Decimal
	NetPnl        decimal.Decimal
	GrossProfit   decimal.Decimal
	GrossLoss     decimal.Decimal
	ProfitFactor  decimal.Decimal
	AvgWin        decimal.Decimal
	AvgLoss       decimal.Decimal
	AvgRewardRisk decimal.Decimal // stop-loss sentinels excluded
	MaxWinStreak  int
	MaxLossStreak int
	MaxDrawdown   decimal.Decimal
	Commission    decimal.Decimal
	Longs         int
	Shorts        int
	ExitCounts    map[ExitReason]int
	SharpeRatio   float64
	FinalEquity   decimal.Decimal
}

// Summarize computes the aggregate view of a result.
func Summarize(res *Result) Summary {
	s := Summary{ExitCounts: make(map[ExitReason]int), FinalEquity: res.StartingCapital}
	var winStreak, lossStreak int
	rrSum, rrN := decimal.Zero, 0

	for _, t := range res.Trades {
		s.Trades++
		s.NetPnl = s.NetPnl.Add(t.Pnl)
		s.Commission = s.Commission.Add(t.Commission)
		s.ExitCounts[t.ExitReason]++
		if t.Direction == Long {
			s.Longs++
		} else {
			s.Shorts++
		}
		if t.Pnl.Sign() > 0 {
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(t.Pnl)
			winStreak++
			lossStreak = 0
		} else {
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(t.Pnl.Abs())
			lossStreak++
			winStreak = 0
		}
		if winStreak > s.MaxWinStreak {
			s.MaxWinStreak = winStreak
		}
		if lossStreak > s.MaxLossStreak {
			s.MaxLossStreak = lossStreak
		}
		if !t.RewardRisk.Equal(StopLossRewardRisk) {
			rrSum = rrSum.Add(t.RewardRisk)
			rrN++
		}
	}

	if s.Trades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.Trades)))
	}
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	if s.GrossLoss.Sign() > 0 {
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss)
	}
	if rrN > 0 {
		s.AvgRewardRisk = rrSum.Div(decimal.NewFromInt(int64(rrN)))
	}

	s.MaxDrawdown = maxDrawdown(res)
	s.SharpeRatio = sharpe(res)
	s.FinalEquity = res.StartingCapital.Add(s.NetPnl)
	return s
}

// maxDrawdown is the largest peak-to-trough drop on the equity curve.
func maxDrawdown(res *Result) decimal.Decimal {
	peak := res.StartingCapital
	dd := decimal.Zero
	for _, p := range res.EquityCurve() {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if drop := peak.Sub(p.Equity); drop.GreaterThan(dd) {
			dd = drop
		}
	}
	return dd
}

// sharpe annualizes the per-trade return series at 252 periods per year.
// The risk-free rate is taken as zero.
func sharpe(res *Result) float64 {
	if len(res.Trades) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(res.Trades))
	equity, _ := res.StartingCapital.Float64()
	for _, t := range res.Trades {
		pnl, _ := t.Pnl.Float64()
		if equity == 0 {
			return 0
		}
		returns = append(returns, pnl/equity)
		equity += pnl
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(252)
}

// BuyAndHold values the same capital held from the first bar's open to the
// last bar's close, for comparison against the strategy's net result.
func BuyAndHold(series *Series, capital decimal.Decimal) decimal.Decimal {
	if series == nil || len(series.Bars) == 0 {
		return decimal.Zero
	}
	first := series.Bars[0].Open
	last := series.Bars[len(series.Bars)-1].Close
	if first.Sign() <= 0 {
		return decimal.Zero
	}
	return capital.Mul(last.Sub(first).Div(first))
}
