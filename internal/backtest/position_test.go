package backtest

import (
	"testing"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testDay = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	jpy     = fx.PipSpec{Value: 0.01, Multiplier: 100}
)

func at(clock string) time.Time {
	t, _, err := fx.AtClock(testDay, clock)
	if err != nil {
		panic(err)
	}
	return t
}

// flatTick 零点差、无振幅的报价。
func flatTick(clock string, px float64) fx.PriceTick {
	return rangeTick(clock, px, px, px)
}

func rangeTick(clock string, closePx, high, low float64) fx.PriceTick {
	return fx.PriceTick{
		Time:    at(clock),
		OpenBid: closePx, HighBid: high, LowBid: low, CloseBid: closePx,
		OpenAsk: closePx, HighAsk: high, LowAsk: low, CloseAsk: closePx,
	}
}

func usdjpy(ticks ...fx.PriceTick) fx.PriceSeries {
	return fx.PriceSeries{Pair: "USDJPY", Day: testDay, Quotes: fx.QuoteBoth, Ticks: ticks}
}

func simInput(series fx.PriceSeries, dir fx.Direction, entry, exit string, risk strategy.RiskParams) SimulationInput {
	return SimulationInput{
		Series:     series,
		EntryAt:    at(entry),
		ExitAt:     at(exit),
		EntryPrice: 150.00,
		Direction:  dir,
		Risk:       risk,
		Pip:        jpy,
	}
}

func TestSimulateFlatPriceExitsOnTime(t *testing.T) {
	series := usdjpy(flatTick("09:00", 150), flatTick("09:01", 150), flatTick("09:02", 150))
	res, err := Simulate(simInput(series, fx.Long, "09:00", "09:02", strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}))
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTime, res.Reason)
	assert.Equal(t, 150.0, res.ExitPrice)
	assert.Equal(t, at("09:02"), res.ExitAt)
	assert.Zero(t, res.MaxFavorablePips)
	assert.Zero(t, res.MaxAdversePips)
	assert.Equal(t, 3, res.Ticks)
	assert.False(t, res.TimeAdjusted)
	assert.False(t, res.WindowFallback)
}

func TestSimulateTakeProfitPinnedToLevel(t *testing.T) {
	series := usdjpy(flatTick("09:00", 150), flatTick("09:01", 150.05), flatTick("09:02", 150.16), flatTick("09:03", 149.5))
	risk := strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}
	res, err := Simulate(simInput(series, fx.Long, "09:00", "09:03", risk))
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTakeProfit, res.Reason)
	assert.Equal(t, 150.14, res.ExitPrice)
	assert.Equal(t, at("09:02"), res.ExitAt)
	assert.Equal(t, 16.0, res.MaxFavorablePips)

	sig, err := fx.NewEntrySignal(testDay, "USDJPY", fx.Long, "09:00", "09:03")
	require.NoError(t, err)
	trade := BuildTrade(sig, fx.LayerBase, risk, 150.00, at("09:00"), res, jpy)
	assert.Equal(t, 14.0, trade.Pips)
	assert.Equal(t, fx.Win, trade.Outcome)
	assert.Equal(t, 8, trade.StopLossPips)
	assert.Equal(t, 14, trade.TakeProfitPips)
	assert.Equal(t, "09:00:00", trade.EntryClock)
}

func TestSimulateShortStopLoss(t *testing.T) {
	series := usdjpy(flatTick("09:00", 150), flatTick("09:01", 150.03), flatTick("09:02", 150.09))
	risk := strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}
	res, err := Simulate(simInput(series, fx.Short, "09:00", "09:02", risk))
	require.NoError(t, err)
	assert.Equal(t, fx.ExitStopLoss, res.Reason)
	assert.Equal(t, 150.08, res.ExitPrice)
	assert.Equal(t, -9.0, res.MaxAdversePips)

	pips := fx.PipsWith(jpy, 150.00, res.ExitPrice, fx.Short)
	assert.Equal(t, -8.0, pips)
}

func TestSimulateTieBreak(t *testing.T) {
	// 同一根同时触及 149.92 与 150.14
	series := usdjpy(flatTick("09:00", 150), rangeTick("09:01", 150.0, 150.20, 149.80), flatTick("09:02", 150))
	risk := strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}

	in := simInput(series, fx.Long, "09:00", "09:02", risk)
	in.Mode = PriceRange
	res, err := Simulate(in)
	require.NoError(t, err)
	assert.Equal(t, fx.ExitStopLoss, res.Reason)
	assert.Equal(t, 149.92, res.ExitPrice)

	in.TieBreak = TakeProfitFirst
	res, err = Simulate(in)
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTakeProfit, res.Reason)
	assert.Equal(t, 150.14, res.ExitPrice)

	// close 模式只看收盘价
	in.Mode = PriceClose
	res, err = Simulate(in)
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTime, res.Reason)
}

func TestSimulateZeroRiskNeverTriggers(t *testing.T) {
	series := usdjpy(flatTick("09:00", 150), flatTick("09:01", 151), flatTick("09:02", 149))
	res, err := Simulate(simInput(series, fx.Long, "09:00", "09:02", strategy.RiskParams{}))
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTime, res.Reason)
	assert.Equal(t, 149.0, res.ExitPrice)
	assert.Equal(t, 100.0, res.MaxFavorablePips)
	assert.Equal(t, -100.0, res.MaxAdversePips)
}

func TestSimulateClampsOutOfRangeTimes(t *testing.T) {
	series := usdjpy(flatTick("09:00", 150), flatTick("09:01", 150.02))
	res, err := Simulate(simInput(series, fx.Long, "08:30", "10:00", strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}))
	require.NoError(t, err)
	assert.True(t, res.TimeAdjusted)
	assert.Equal(t, fx.ExitTime, res.Reason)
	assert.Equal(t, at("09:01"), res.ExitAt)
	assert.Equal(t, 150.02, res.ExitPrice)
}

func TestSimulateEmptyWindowFallsBackToNearest(t *testing.T) {
	series := usdjpy(flatTick("09:00", 150), flatTick("09:30", 150.03))
	res, err := Simulate(simInput(series, fx.Long, "09:10", "09:12", strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}))
	require.NoError(t, err)
	assert.True(t, res.WindowFallback)
	assert.Equal(t, 1, res.Ticks)
	assert.Equal(t, at("09:00"), res.ExitAt)
	assert.Equal(t, fx.ExitTime, res.Reason)
}

func TestSimulateErrors(t *testing.T) {
	_, err := Simulate(simInput(usdjpy(), fx.Long, "09:00", "09:01", strategy.RiskParams{}))
	assert.ErrorIs(t, err, ErrNoData)

	in := simInput(usdjpy(flatTick("09:00", 150)), fx.Long, "09:00", "09:01", strategy.RiskParams{})
	in.EntryPrice = 0
	_, err = Simulate(in)
	assert.ErrorIs(t, err, ErrSimulationFailure)

	in = simInput(usdjpy(fx.PriceTick{Time: at("09:00")}), fx.Long, "09:00", "09:01", strategy.RiskParams{})
	_, err = Simulate(in)
	assert.ErrorIs(t, err, ErrNoUsablePrice)
}

func TestSimulateBidOnlyShortUsesBid(t *testing.T) {
	series := fx.PriceSeries{Pair: "USDJPY", Day: testDay, Quotes: fx.QuoteBidOnly, Ticks: []fx.PriceTick{
		{Time: at("09:00"), OpenBid: 150, HighBid: 150, LowBid: 150, CloseBid: 150},
		{Time: at("09:01"), OpenBid: 149.9, HighBid: 149.9, LowBid: 149.8, CloseBid: 149.85},
	}}
	res, err := Simulate(simInput(series, fx.Short, "09:00", "09:01", strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}))
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTakeProfit, res.Reason)
	assert.Equal(t, 149.86, res.ExitPrice)
}

func TestSimulateTickMissingAskFallsBackToBid(t *testing.T) {
	series := usdjpy(
		flatTick("09:00", 150),
		fx.PriceTick{Time: at("09:01"), OpenBid: 149.9, HighBid: 149.9, LowBid: 149.8, CloseBid: 149.85},
	)
	res, err := Simulate(simInput(series, fx.Short, "09:00", "09:01", strategy.RiskParams{StopLossPips: 8, TakeProfitPips: 14}))
	require.NoError(t, err)
	assert.Equal(t, fx.ExitTakeProfit, res.Reason)
	assert.Equal(t, 149.86, res.ExitPrice)
}

func TestParseModes(t *testing.T) {
	m, err := ParsePriceMode("RANGE")
	require.NoError(t, err)
	assert.Equal(t, PriceRange, m)
	_, err = ParsePriceMode("ohlc")
	assert.Error(t, err)

	tb, err := ParseTieBreak("take_profit_first")
	require.NoError(t, err)
	assert.Equal(t, TakeProfitFirst, tb)
	tb, err = ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, StopLossFirst, tb)
}
