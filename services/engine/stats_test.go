package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func statsResult() *Result {
	return &Result{
		StartingCapital: d(50000),
		Trades: []TradeRecord{
			{Direction: Long, Pnl: d(100), RewardRisk: d(2), ExitReason: ExitTakeProfit, Commission: d(0.35), ExitTimeMs: 1},
			{Direction: Short, Pnl: d(-50), RewardRisk: StopLossRewardRisk, ExitReason: ExitStopLoss, Commission: d(0.35), ExitTimeMs: 2},
			{Direction: Long, Pnl: d(-25), RewardRisk: StopLossRewardRisk, ExitReason: ExitStopLoss, Commission: d(0.35), ExitTimeMs: 3},
			{Direction: Long, Pnl: d(200), RewardRisk: d(4), ExitReason: ExitEndOfDay, Commission: d(0.35), ExitTimeMs: 4},
		},
	}
}

func TestSummarizeCounts(t *testing.T) {
	s := Summarize(statsResult())
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.Equal(t, 3, s.Longs)
	assert.Equal(t, 1, s.Shorts)
	assert.Equal(t, 2, s.ExitCounts[ExitStopLoss])
	assert.True(t, s.WinRate.Equal(d(0.5)), "win rate %s", s.WinRate)
	assert.True(t, s.NetPnl.Equal(d(225)), "net %s", s.NetPnl)
	assert.True(t, s.Commission.Equal(d(1.4)), "commission %s", s.Commission)
	assert.True(t, s.FinalEquity.Equal(d(50225)), "final equity %s", s.FinalEquity)
}

func TestSummarizeRewardRiskExcludesSentinel(t *testing.T) {
	s := Summarize(statsResult())
	// mean of 2 and 4 only; the -1 stop markers never enter the average
	assert.True(t, s.AvgRewardRisk.Equal(d(3)), "avg rr %s", s.AvgRewardRisk)
}

func TestSummarizeStreaksAndDrawdown(t *testing.T) {
	s := Summarize(statsResult())
	assert.Equal(t, 1, s.MaxWinStreak)
	assert.Equal(t, 2, s.MaxLossStreak)
	// peak 50100 after trade one, trough 50025 after trade three
	assert.True(t, s.MaxDrawdown.Equal(d(75)), "drawdown %s", s.MaxDrawdown)
}

func TestSummarizeProfitFactor(t *testing.T) {
	s := Summarize(statsResult())
	assert.True(t, s.GrossProfit.Equal(d(300)), "gross profit %s", s.GrossProfit)
	assert.True(t, s.GrossLoss.Equal(d(75)), "gross loss %s", s.GrossLoss)
	assert.True(t, s.ProfitFactor.Equal(d(4)), "profit factor %s", s.ProfitFactor)
}

func TestBuyAndHold(t *testing.T) {
	bars := []Bar{
		mkBar(9, 30, 100, 101, 99, 100, 1000),
		mkBar(9, 35, 100, 111, 100, 110, 1000),
	}
	s := NewSeries(bars, nil)
	// 10% move on 50k
	assert.True(t, BuyAndHold(s, d(50000)).Equal(d(5000)))
}
