package fx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	for raw, want := range map[string]Direction{
		"long": Long, "BUY": Long, "b": Long, "買い": Long,
		" Sell ": Short, "short": Short, "S": Short, "ショート": Short,
	} {
		got, err := ParseDirection(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseDirection("flat")
	assert.Error(t, err)
}

func TestPips(t *testing.T) {
	table := NewPipTable(DefaultPipSpecs())
	assert.Equal(t, 10.0, table.Pips(150.00, 150.10, "USDJPY", Long))
	assert.Equal(t, 10.0, table.Pips(1.1000, 1.0990, "EURUSD", Short))
	assert.Equal(t, -10.0, table.Pips(1.1000, 1.0990, "EURUSD", Long))
	assert.Equal(t, 0.0, table.Pips(150.00, 150.00, "USDJPY", Short))
	// 未登记的货币对按计价货币推断
	assert.Equal(t, 25.0, table.Pips(190.00, 190.25, "GBP/JPY", Long))
	assert.Equal(t, 5.0, table.Pips(0.6500, 0.6505, "AUDCAD", Long))
}

func TestPipTableOverrides(t *testing.T) {
	table := NewPipTable(map[string]PipSpec{"usd/jpy": {Value: 0.001}})
	spec := table.Spec("USDJPY")
	assert.Equal(t, 0.001, spec.Value)
	assert.Equal(t, 100.0, spec.Multiplier)
	assert.Equal(t, []string{"USDJPY"}, table.Pairs())
}

func TestPriceAt(t *testing.T) {
	spec := NewPipTable(nil).Spec("USDJPY")
	assert.Equal(t, "150.14", PriceAt(spec, 150.00, 14).String())
	assert.Equal(t, "149.92", PriceAt(spec, 150.00, -8).String())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, Win, OutcomeOf(0.1))
	assert.Equal(t, Loss, OutcomeOf(-3))
	assert.Equal(t, Even, OutcomeOf(0))
}

func TestNewEntrySignal(t *testing.T) {
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sig, err := NewEntrySignal(day, "USDJPY", Long, "9:05", "10:30:15")
	require.NoError(t, err)
	assert.Equal(t, "09:05:00", sig.EntryClock)
	assert.Equal(t, "10:30:15", sig.ExitClock)
	assert.Equal(t, day.Add(9*time.Hour+5*time.Minute), sig.EntryAt)

	overnight, err := NewEntrySignal(day, "USDJPY", Short, "23:30", "00:30")
	require.NoError(t, err)
	assert.True(t, overnight.ExitAt.After(overnight.EntryAt))

	_, err = NewEntrySignal(day, "USDJPY", Long, "25:00", "10:00")
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	for _, raw := range []string{"2025-01-06", "20250106", "2025/01/06"} {
		d, err := ParseDay(raw, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "2025-01-06", DayKey(d))
	}
	_, err := ParseDay("06.01.2025", time.UTC)
	assert.Error(t, err)
}

func TestSeriesNormalizeAndNearest(t *testing.T) {
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	s := PriceSeries{Ticks: []PriceTick{
		{Time: base.Add(2 * time.Minute), CloseBid: 3},
		{Time: base, CloseBid: 1},
		{Time: base.Add(2 * time.Minute), CloseBid: 4},
		{Time: base.Add(time.Minute), CloseBid: 2},
	}}
	s.Normalize()
	require.Len(t, s.Ticks, 3)
	assert.Equal(t, 4.0, s.Ticks[2].CloseBid)

	assert.Equal(t, 0, s.NearestIndex(base.Add(-time.Hour)))
	assert.Equal(t, 2, s.NearestIndex(base.Add(time.Hour)))
	assert.Equal(t, 1, s.NearestIndex(base.Add(80*time.Second)))
	assert.Equal(t, 0, s.NearestIndex(base.Add(30*time.Second)))
}

func TestEntryPrice(t *testing.T) {
	s := PriceSeries{Quotes: QuoteBoth, Ticks: []PriceTick{{OpenBid: 149.99, OpenAsk: 150.01, CloseBid: 150, CloseAsk: 150.02}}}
	p, ok := s.EntryPrice(0, Long)
	require.True(t, ok)
	assert.Equal(t, 150.01, p)
	p, ok = s.EntryPrice(0, Short)
	require.True(t, ok)
	assert.Equal(t, 149.99, p)

	bidOnly := PriceSeries{Quotes: QuoteBidOnly, Ticks: []PriceTick{{CloseBid: 150.00}}}
	p, ok = bidOnly.EntryPrice(0, Long)
	require.True(t, ok)
	assert.Equal(t, 150.00, p)

	_, ok = bidOnly.EntryPrice(3, Long)
	assert.False(t, ok)
}

func TestTickSides(t *testing.T) {
	both := PriceTick{CloseBid: 150, CloseAsk: 150.02}
	sides, ok := TickSides(QuoteBoth, both)
	require.True(t, ok)
	assert.Equal(t, QuoteBoth, sides)

	sides, ok = TickSides(QuoteBoth, PriceTick{CloseBid: 150})
	require.True(t, ok)
	assert.Equal(t, QuoteBidOnly, sides)

	sides, _ = TickSides(QuoteAskOnly, both)
	assert.Equal(t, QuoteAskOnly, sides)

	_, ok = TickSides(QuoteBoth, PriceTick{})
	assert.False(t, ok)
}
