package fx

import (
	"math"
	"sort"
	"time"
)

// QuoteSides 描述价格序列中存在哪一侧报价。
type QuoteSides uint8

const (
	QuoteBoth QuoteSides = iota
	QuoteBidOnly
	QuoteAskOnly
)

func (q QuoteSides) HasBid() bool { return q == QuoteBoth || q == QuoteBidOnly }
func (q QuoteSides) HasAsk() bool { return q == QuoteBoth || q == QuoteAskOnly }

func (q QuoteSides) String() string {
	switch q {
	case QuoteBidOnly:
		return "bid"
	case QuoteAskOnly:
		return "ask"
	default:
		return "bid+ask"
	}
}

// TickSides 单根报价实际可用的一侧：受序列 q 约束，且 close 价需为正的有限值。
func TickSides(q QuoteSides, t PriceTick) (QuoteSides, bool) {
	bid := q.HasBid() && usable(t.CloseBid)
	ask := q.HasAsk() && usable(t.CloseAsk)
	switch {
	case bid && ask:
		return QuoteBoth, true
	case bid:
		return QuoteBidOnly, true
	case ask:
		return QuoteAskOnly, true
	}
	return q, false
}

// PriceTick 单根 bid/ask OHLC 报价。
type PriceTick struct {
	Time     time.Time `json:"time"`
	OpenBid  float64   `json:"open_bid"`
	HighBid  float64   `json:"high_bid"`
	LowBid   float64   `json:"low_bid"`
	CloseBid float64   `json:"close_bid"`
	OpenAsk  float64   `json:"open_ask"`
	HighAsk  float64   `json:"high_ask"`
	LowAsk   float64   `json:"low_ask"`
	CloseAsk float64   `json:"close_ask"`
}

// PriceSeries 单个货币对单个交易日的报价序列。
type PriceSeries struct {
	Pair   string
	Day    time.Time
	Quotes QuoteSides
	Ticks  []PriceTick
}

func (s PriceSeries) Len() int { return len(s.Ticks) }

func (s PriceSeries) Empty() bool { return len(s.Ticks) == 0 }

// Bounds 返回首尾时间；空序列返回零值。
func (s PriceSeries) Bounds() (time.Time, time.Time) {
	if len(s.Ticks) == 0 {
		return time.Time{}, time.Time{}
	}
	return s.Ticks[0].Time, s.Ticks[len(s.Ticks)-1].Time
}

// Normalize 按时间升序排序并去重，重复时间保留最后一条。
func (s *PriceSeries) Normalize() {
	if len(s.Ticks) < 2 {
		return
	}
	sort.SliceStable(s.Ticks, func(i, j int) bool { return s.Ticks[i].Time.Before(s.Ticks[j].Time) })
	out := s.Ticks[:0]
	for _, t := range s.Ticks {
		if n := len(out); n > 0 && out[n-1].Time.Equal(t.Time) {
			out[n-1] = t
			continue
		}
		out = append(out, t)
	}
	s.Ticks = out
}

// NearestIndex 返回与 t 时间距离最近的下标，距离相同时取较早者。
func (s PriceSeries) NearestIndex(t time.Time) int {
	n := len(s.Ticks)
	if n == 0 {
		return -1
	}
	idx := sort.Search(n, func(i int) bool { return !s.Ticks[i].Time.Before(t) })
	switch {
	case idx == 0:
		return 0
	case idx == n:
		return n - 1
	}
	before := t.Sub(s.Ticks[idx-1].Time)
	after := s.Ticks[idx].Time.Sub(t)
	if after < before {
		return idx
	}
	return idx - 1
}

// EntryPrice 取开仓价：LONG 以 ask 成交，SHORT 以 bid 成交。
// 优先 open，其次 close，再退化到另一侧报价。
func (s PriceSeries) EntryPrice(idx int, dir Direction) (float64, bool) {
	if idx < 0 || idx >= len(s.Ticks) {
		return 0, false
	}
	t := s.Ticks[idx]
	bid := []float64{t.OpenBid, t.CloseBid}
	ask := []float64{t.OpenAsk, t.CloseAsk}
	var candidates []float64
	if dir == Short {
		if s.Quotes.HasBid() {
			candidates = append(candidates, bid...)
		}
		if s.Quotes.HasAsk() {
			candidates = append(candidates, ask...)
		}
	} else {
		if s.Quotes.HasAsk() {
			candidates = append(candidates, ask...)
		}
		if s.Quotes.HasBid() {
			candidates = append(candidates, bid...)
		}
	}
	for _, v := range candidates {
		if usable(v) {
			return v, true
		}
	}
	return 0, false
}

func usable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
