package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fxlayer/internal/fx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	series  map[string]fx.PriceSeries
	signals map[string][]fx.EntrySignal
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{series: map[string]fx.PriceSeries{}, signals: map[string][]fx.EntrySignal{}}
}

func (m *fakeMarket) addSeries(pair string, day time.Time, prices ...float64) {
	s := fx.PriceSeries{Pair: pair, Day: day, Quotes: fx.QuoteBoth}
	start := day.Add(9 * time.Hour)
	for i, px := range prices {
		ts := start.Add(time.Duration(i) * time.Minute)
		s.Ticks = append(s.Ticks, fx.PriceTick{
			Time:    ts,
			OpenBid: px, HighBid: px, LowBid: px, CloseBid: px,
			OpenAsk: px, HighAsk: px, LowAsk: px, CloseAsk: px,
		})
	}
	m.series[pair+fx.DayKey(day)] = s
}

func (m *fakeMarket) addSignal(t *testing.T, day time.Time, pair string, dir fx.Direction, entry, exit string) {
	sig, err := fx.NewEntrySignal(day, pair, dir, entry, exit)
	require.NoError(t, err)
	sig.ID = fmt.Sprintf("%s-%s-%s", pair, fx.DayKey(day), entry)
	m.signals[fx.DayKey(day)] = append(m.signals[fx.DayKey(day)], sig)
}

func (m *fakeMarket) DaySeries(_ context.Context, pair string, day time.Time) (fx.PriceSeries, error) {
	s, ok := m.series[pair+fx.DayKey(day)]
	if !ok {
		return fx.PriceSeries{}, ErrNoData
	}
	s.Ticks = append([]fx.PriceTick(nil), s.Ticks...)
	return s, nil
}

func (m *fakeMarket) SignalsForDay(_ context.Context, day time.Time) ([]fx.EntrySignal, error) {
	return m.signals[fx.DayKey(day)], nil
}

type memorySink struct {
	mu     sync.Mutex
	runIDs map[string]int
	trades int
	skips  int
}

func (s *memorySink) SaveUnit(_ context.Context, runID string, trades []fx.TradeResult, skips []Skip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runIDs == nil {
		s.runIDs = map[string]int{}
	}
	s.runIDs[runID]++
	s.trades += len(trades)
	s.skips += len(skips)
	return nil
}

func flatThenRise() []float64 {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 150
		if i >= 5 {
			prices[i] = 150.16
		}
	}
	return prices
}

func TestEngineRun(t *testing.T) {
	m := newFakeMarket()
	day2 := testDay.AddDate(0, 0, 1)
	m.addSeries("USDJPY", testDay, flatThenRise()...)
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 150
	}
	m.addSeries("USDJPY", day2, flat...)
	m.addSignal(t, testDay, "USDJPY", fx.Long, "09:00", "09:30")
	m.addSignal(t, testDay, "EURUSD", fx.Long, "09:00", "09:30")
	m.addSignal(t, day2, "USDJPY", fx.Short, "09:00", "09:30")

	sink := &memorySink{}
	var mu sync.Mutex
	var last Progress
	engine, err := NewEngine(EngineConfig{
		Prices:  m,
		Signals: m,
		Sink:    sink,
		Workers: 2,
	})
	require.NoError(t, err)

	report, err := engine.Run(context.Background(), RunRequest{
		ID:   "run-1",
		From: testDay,
		To:   day2,
		Progress: func(p Progress) {
			mu.Lock()
			if p.UnitsDone >= last.UnitsDone {
				last = p
			}
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Trades, 2)

	win := report.Trades[0]
	assert.Equal(t, "USDJPY", win.Pair)
	assert.Equal(t, fx.LayerBase, win.Layer)
	assert.Equal(t, fx.ExitTakeProfit, win.ExitReason)
	assert.Equal(t, 150.14, win.ExitPrice)
	assert.Equal(t, 14.0, win.Pips)
	assert.Equal(t, 8, win.StopLossPips)

	even := report.Trades[1]
	assert.Equal(t, fx.Short, even.Direction)
	assert.Equal(t, fx.ExitTime, even.ExitReason)
	assert.Equal(t, 0.0, even.Pips)
	assert.Equal(t, fx.Even, even.Outcome)

	require.Len(t, report.Skips, 1)
	assert.Equal(t, SkipMissingData, report.Skips[0].Reason)
	assert.Equal(t, "EURUSD", report.Skips[0].Pair)
	require.Len(t, report.UnitErrors, 1)

	assert.Equal(t, 3, report.Progress.Units)
	assert.Equal(t, 3, report.Progress.UnitsDone)
	assert.Equal(t, 1, report.Progress.FailedUnits)
	assert.Equal(t, 2, report.Progress.Days)
	assert.Equal(t, 2, report.Summary.Overall.Trades)
	assert.InDelta(t, 14, report.Summary.Overall.TotalPips, 1e-9)
	assert.False(t, report.Canceled)

	assert.Equal(t, 3, sink.runIDs["run-1"])
	assert.Equal(t, 2, sink.trades)
	assert.Equal(t, 1, sink.skips)

	mu.Lock()
	assert.Equal(t, 3, last.UnitsDone)
	mu.Unlock()
}

func TestEngineFiltersPairs(t *testing.T) {
	m := newFakeMarket()
	m.addSeries("USDJPY", testDay, flatThenRise()...)
	m.addSignal(t, testDay, "USDJPY", fx.Long, "09:00", "09:30")
	m.addSignal(t, testDay, "EURUSD", fx.Long, "09:00", "09:30")

	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay, Pairs: []string{"usd/jpy"}})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Trades, 1)
	assert.Empty(t, report.Skips)
	assert.Equal(t, 1, report.Progress.Units)
}

func TestEngineMissingDataKeepsRunning(t *testing.T) {
	m := newFakeMarket()
	for i := 0; i < 10; i++ {
		day := testDay.AddDate(0, 0, i)
		if i >= 4 {
			m.addSeries("USDJPY", day, flatThenRise()...)
		}
		m.addSignal(t, day, "USDJPY", fx.Long, "09:00", "09:30")
	}
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m, Workers: 1, MaxErrorDayRatio: 0.5})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay.AddDate(0, 0, 9)})
	require.NoError(t, err)
	assert.False(t, report.Aborted)
	assert.Len(t, report.Trades, 6)
	assert.Len(t, report.Skips, 4)
	for _, s := range report.Skips {
		assert.Equal(t, SkipMissingData, s.Reason)
	}
	assert.Equal(t, 10, report.Progress.UnitsDone)
	assert.Equal(t, 4, report.Progress.FailedUnits)
	assert.Zero(t, report.Progress.ErrorDays)
}

func TestEngineOtherPairsRunWhenPairsLackData(t *testing.T) {
	m := newFakeMarket()
	for i := 0; i < 5; i++ {
		day := testDay.AddDate(0, 0, i)
		m.addSeries("USDJPY", day, flatThenRise()...)
		for _, pair := range []string{"EURUSD", "GBPUSD", "USDJPY"} {
			m.addSignal(t, day, pair, fx.Long, "09:00", "09:30")
		}
	}
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m, Workers: 2})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay.AddDate(0, 0, 4)})
	require.NoError(t, err)
	require.Len(t, report.Trades, 5)
	for _, tr := range report.Trades {
		assert.Equal(t, "USDJPY", tr.Pair)
		assert.Equal(t, 14.0, tr.Pips)
	}
	assert.Len(t, report.Skips, 10)
	assert.Len(t, report.UnitErrors, 10)
	assert.Equal(t, 15, report.Progress.UnitsDone)
	assert.Equal(t, 5, report.Summary.Overall.Trades)
}

func TestEngineAbortsOnErroredDays(t *testing.T) {
	m := newFakeMarket()
	for i := 0; i < 6; i++ {
		day := testDay.AddDate(0, 0, i)
		m.addSeries("USDJPY", day, flatThenRise()...)
		m.addSignal(t, day, "USDJPY", fx.Long, "09:00", "09:30")
	}
	signals := SignalProviderFunc(func(ctx context.Context, day time.Time) ([]fx.EntrySignal, error) {
		if day.Before(testDay.AddDate(0, 0, 4)) {
			return nil, errors.New("db down")
		}
		return m.SignalsForDay(ctx, day)
	})
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: signals, Workers: 1, MaxErrorDayRatio: 0.5})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay.AddDate(0, 0, 5)})
	require.ErrorIs(t, err, ErrTooManyFailures)
	require.NotNil(t, report)
	assert.True(t, report.Aborted)
	assert.Empty(t, report.Trades)
	assert.Equal(t, 4, report.Progress.ErrorDays)
	assert.Equal(t, 4, report.Progress.DaysDone)
}

func TestEngineRecoversUnitPanic(t *testing.T) {
	m := newFakeMarket()
	m.addSignal(t, testDay, "USDJPY", fx.Long, "09:00", "09:30")
	m.addSignal(t, testDay, "USDJPY", fx.Short, "10:00", "10:30")
	panicky := PriceProviderFunc(func(context.Context, string, time.Time) (fx.PriceSeries, error) {
		panic("boom")
	})
	engine, err := NewEngine(EngineConfig{Prices: panicky, Signals: m, MaxErrorDayRatio: 1})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay})
	require.NoError(t, err)
	require.Len(t, report.Skips, 2)
	for _, s := range report.Skips {
		assert.Equal(t, SkipSimulationFailure, s.Reason)
	}
	assert.Equal(t, 1, report.Progress.FailedUnits)
	assert.Equal(t, 1, report.Progress.ErrorDays)
}

func TestEngineSignalLoadFailure(t *testing.T) {
	m := newFakeMarket()
	signals := SignalProviderFunc(func(context.Context, time.Time) ([]fx.EntrySignal, error) {
		return nil, errors.New("db down")
	})
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: signals})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay})
	require.NoError(t, err)
	assert.False(t, report.Aborted)
	assert.Equal(t, 1, report.Progress.ErrorDays)
	require.Len(t, report.UnitErrors, 1)
	assert.Empty(t, report.UnitErrors[0].Pair)
}

func TestEngineCanceled(t *testing.T) {
	m := newFakeMarket()
	m.addSeries("USDJPY", testDay, flatThenRise()...)
	m.addSignal(t, testDay, "USDJPY", fx.Long, "09:00", "09:30")
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := engine.Run(ctx, RunRequest{From: testDay, To: testDay})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Canceled)
	assert.Empty(t, report.Trades)
}

func TestEngineRejectsInvertedRange(t *testing.T) {
	m := newFakeMarket()
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m})
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), RunRequest{From: testDay, To: testDay.AddDate(0, 0, -1)})
	assert.Error(t, err)

	_, err = NewEngine(EngineConfig{Signals: m})
	assert.Error(t, err)
}

func TestEngineEmptyRangeHasNoTrades(t *testing.T) {
	m := newFakeMarket()
	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{From: testDay, To: testDay.AddDate(0, 0, 2)})
	require.NoError(t, err)
	assert.Empty(t, report.Trades)
	assert.Equal(t, 3, report.Progress.Days)
	assert.Zero(t, report.Summary.Overall.Trades)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) SaveUnit(ctx context.Context, runID string, trades []fx.TradeResult, skips []Skip) error {
	args := m.Called(ctx, runID, trades, skips)
	return args.Error(0)
}

func TestEngineSinkFailureKeepsResults(t *testing.T) {
	m := newFakeMarket()
	m.addSeries("USDJPY", testDay, flatThenRise()...)
	m.addSignal(t, testDay, "USDJPY", fx.Long, "09:00", "09:30")

	sink := new(MockSink)
	sink.On("SaveUnit", mock.Anything, "run-sink", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	engine, err := NewEngine(EngineConfig{Prices: m, Signals: m, Sink: sink})
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), RunRequest{ID: "run-sink", From: testDay, To: testDay})
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, 14.0, report.Trades[0].Pips)
	assert.Zero(t, report.Progress.FailedUnits)
	sink.AssertExpectations(t)
}
