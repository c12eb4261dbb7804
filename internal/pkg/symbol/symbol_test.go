package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := map[string]Pair{
		"USDJPY":   {Base: "USD", Quote: "JPY"},
		"usd/jpy":  {Base: "USD", Quote: "JPY"},
		"EUR_USD":  {Base: "EUR", Quote: "USD"},
		"gbp-jpy":  {Base: "GBP", Quote: "JPY"},
		"":         {},
		"BTCUSDT":  {},
		"US1/JPY":  {},
		"EURUSD:x": {Base: "EUR", Quote: "USD"},
		"ドル円":      {Base: "USD", Quote: "JPY"},
		"ユーロ/ドル":   {Base: "EUR", Quote: "USD"},
	}
	for in, want := range cases {
		assert.Equal(t, want, Parse(in), in)
	}
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"usd/jpy", "USDJPY", "EUR_USD", " "})
	assert.Equal(t, []string{"USDJPY", "EURUSD"}, got)
}

func TestIsJPYQuote(t *testing.T) {
	assert.True(t, IsJPYQuote("USDJPY"))
	assert.True(t, IsJPYQuote("EUR/JPY"))
	assert.False(t, IsJPYQuote("EURUSD"))
	assert.False(t, IsJPYQuote("JPYUSD"))
	assert.True(t, IsJPYQuote("XAUJPY_CFD"))
}
