package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"fxlayer/internal/fx"
)

// Candle 按周期聚合的 mid 价格 K 线，附带收盘 bid/ask 与平均点差。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	CloseBid  float64 `json:"close_bid,omitempty"`
	CloseAsk  float64 `json:"close_ask,omitempty"`
	AvgSpread float64 `json:"avg_spread"`
	Ticks     int     `json:"ticks"`
}

type Candles []Candle

func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

// Resample 把报价序列按 step 对齐聚合；缺少一侧报价时用另一侧代替 mid。
func Resample(series fx.PriceSeries, step time.Duration) Candles {
	if step <= 0 || series.Empty() {
		return nil
	}
	stepMs := step.Milliseconds()
	var out Candles
	var cur *Candle
	var spreadSum float64
	var spreadN int
	flush := func() {
		if cur == nil {
			return
		}
		if spreadN > 0 {
			cur.AvgSpread = spreadSum / float64(spreadN)
		}
		out = append(out, *cur)
		cur = nil
		spreadSum, spreadN = 0, 0
	}
	for _, t := range series.Ticks {
		open, high, low, closePx, ok := midOHLC(series.Quotes, t)
		if !ok {
			continue
		}
		ts := t.Time.UnixMilli()
		start := ts - ((ts%stepMs)+stepMs)%stepMs
		if cur != nil && cur.OpenTime != start {
			flush()
		}
		if cur == nil {
			cur = &Candle{OpenTime: start, CloseTime: start + stepMs - 1, Open: open, High: high, Low: low}
		}
		cur.High = math.Max(cur.High, high)
		cur.Low = math.Min(cur.Low, low)
		cur.Close = closePx
		cur.CloseBid = t.CloseBid
		cur.CloseAsk = t.CloseAsk
		cur.Ticks++
		if sides, _ := fx.TickSides(series.Quotes, t); sides == fx.QuoteBoth {
			spreadSum += t.CloseAsk - t.CloseBid
			spreadN++
		}
	}
	flush()
	return out
}

func midOHLC(q fx.QuoteSides, t fx.PriceTick) (open, high, low, closePx float64, ok bool) {
	sides, ok := fx.TickSides(q, t)
	if !ok {
		return 0, 0, 0, 0, false
	}
	switch sides {
	case fx.QuoteBoth:
		open, high, low, closePx = (t.OpenBid+t.OpenAsk)/2, (t.HighBid+t.HighAsk)/2, (t.LowBid+t.LowAsk)/2, (t.CloseBid+t.CloseAsk)/2
	case fx.QuoteBidOnly:
		open, high, low, closePx = t.OpenBid, t.HighBid, t.LowBid, t.CloseBid
	default:
		open, high, low, closePx = t.OpenAsk, t.HighAsk, t.LowAsk, t.CloseAsk
	}
	return open, high, low, closePx, closePx > 0
}

// Snapshot 一行文字描述：收盘、区间涨跌与高低点。
func (cs Candles) Snapshot(interval string) string {
	if len(cs) == 0 {
		return ""
	}
	first := cs[0]
	last := cs[len(cs)-1]
	base := first.Open
	changePct := 0.0
	if base != 0 {
		changePct = (last.Close - base) / base * 100
	}
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, bar := range cs {
		low = math.Min(low, bar.Low)
		high = math.Max(high, bar.High)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "close≈%.5g", last.Close)
	iv := strings.TrimSpace(interval)
	if iv == "" {
		iv = "window"
	}
	if base != 0 {
		fmt.Fprintf(&sb, " (%+.2f%%/%s)", changePct, iv)
	}
	fmt.Fprintf(&sb, ", 区间 %.5g–%.5g", low, high)
	return sb.String()
}
