package backtest

import (
	"math/rand"
	"sync"
	"testing"

	"fxlayer/internal/fx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(day int, clock, pair string, dir fx.Direction, layer fx.Layer, reason fx.ExitReason, pips float64) fx.TradeResult {
	return fx.TradeResult{
		Day:        testDay.AddDate(0, 0, day),
		Pair:       pair,
		Direction:  dir,
		Layer:      layer,
		EntryClock: clock,
		ExitReason: reason,
		Pips:       pips,
		Outcome:    fx.OutcomeOf(pips),
	}
}

func sampleTrades() []fx.TradeResult {
	return []fx.TradeResult{
		trade(0, "09:00:00", "USDJPY", fx.Long, fx.LayerBase, fx.ExitTakeProfit, 14),
		trade(0, "10:00:00", "EURUSD", fx.Short, fx.LayerExpand, fx.ExitStopLoss, -12),
		trade(1, "09:00:00", "USDJPY", fx.Long, fx.LayerBase, fx.ExitTakeProfit, 14),
		trade(1, "11:00:00", "USDJPY", fx.Short, fx.LayerATR, fx.ExitTime, 3.3),
		trade(2, "09:00:00", "GBPUSD", fx.Long, fx.LayerExpand, fx.ExitStopLoss, -12),
		trade(2, "09:30:00", "USDJPY", fx.Long, fx.LayerBase, fx.ExitStopLoss, -8),
		trade(3, "09:00:00", "USDJPY", fx.Short, fx.LayerBase, fx.ExitTime, 0),
		trade(3, "12:00:00", "EURUSD", fx.Long, fx.LayerExpand, fx.ExitTakeProfit, 30),
	}
}

func TestAggregateGroups(t *testing.T) {
	s := Aggregate(sampleTrades())
	o := s.Overall
	assert.Equal(t, 8, o.Trades)
	assert.Equal(t, 4, o.Wins)
	assert.Equal(t, 3, o.Losses)
	assert.Equal(t, 1, o.Evens)
	assert.InDelta(t, 29.3, o.TotalPips, 1e-9)
	assert.InDelta(t, 0.5, o.WinRate, 1e-9)
	assert.InDelta(t, 61.3, o.GrossWin, 1e-9)
	assert.InDelta(t, 32, o.GrossLoss, 1e-9)
	assert.InDelta(t, 1.9156, o.ProfitFactor, 1e-9)

	base := s.ByLayer[string(fx.LayerBase)]
	assert.Equal(t, 4, base.Trades)
	assert.InDelta(t, 20, base.TotalPips, 1e-9)
	assert.InDelta(t, 5, base.AvgPips, 1e-9)
	assert.Equal(t, 1, s.ByLayer[string(fx.LayerATR)].Trades)
	assert.Equal(t, 5, s.ByPair["USDJPY"].Trades)
	assert.Equal(t, 3, s.ByDirection[string(fx.Short)].Trades)

	assert.Equal(t, 3, s.ExitReasons[fx.ExitTakeProfit])
	assert.Equal(t, 3, s.ExitReasons[fx.ExitStopLoss])
	assert.Equal(t, 2, s.ExitReasons[fx.ExitTime])
	assert.Equal(t, 30.0, s.MaxWinPips)
	assert.Equal(t, -12.0, s.MaxLossPips)

	// 按日期时刻：+14 -12 +14 +3.3 -12 -8 0 +30
	assert.Equal(t, 2, s.MaxConsecutiveWins)
	assert.Equal(t, 2, s.MaxConsecutiveLosses)

	assert.Equal(t, 4, s.Days)
	assert.InDelta(t, 30, s.BestDayPips, 1e-9)
	assert.InDelta(t, -20, s.WorstDayPips, 1e-9)
	assert.Greater(t, s.DailyVolatility, 0.0)
	assert.InDelta(t, o.AvgPips/s.DailyVolatility, s.Sharpe, 1e-12)
	assert.NotEmpty(t, s.Text())
}

func TestAggregateOrderIndependent(t *testing.T) {
	trades := sampleTrades()
	want := Aggregate(trades)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]fx.TradeResult(nil), trades...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Aggregate(shuffled))
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	assert.Zero(t, s.Overall.Trades)
	assert.Zero(t, s.Days)
	assert.Zero(t, s.Sharpe)
	assert.Empty(t, s.ByLayer)
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	s := Aggregate([]fx.TradeResult{
		trade(0, "09:00:00", "USDJPY", fx.Long, fx.LayerBase, fx.ExitTakeProfit, 14),
		trade(0, "10:00:00", "USDJPY", fx.Long, fx.LayerBase, fx.ExitTakeProfit, 14),
	})
	assert.InDelta(t, 28, s.Overall.ProfitFactor, 1e-9)
	assert.Equal(t, 1, s.Days)
	assert.Zero(t, s.DailyVolatility)
}

func TestAggregatorConcurrentAdd(t *testing.T) {
	agg := NewAggregator()
	trades := sampleTrades()
	var wg sync.WaitGroup
	for _, tr := range trades {
		wg.Add(1)
		go func(tr fx.TradeResult) {
			defer wg.Done()
			agg.Add(tr)
			agg.AddSkip(Skip{Pair: tr.Pair, Reason: SkipMissingData})
		}(tr)
	}
	wg.Wait()
	got := agg.Trades()
	require.Len(t, got, len(trades))
	assert.Equal(t, trades, got)
	assert.Len(t, agg.Skips(), len(trades))
	assert.Equal(t, Aggregate(trades), agg.Summary())

	other := NewAggregator()
	other.Merge(agg)
	assert.Len(t, other.Trades(), len(trades))
}
