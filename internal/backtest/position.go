package backtest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"
	"fxlayer/internal/strategy"
)

// TieBreak 同一根报价同时触及止损与止盈时的处理顺序。
type TieBreak int

const (
	StopLossFirst TieBreak = iota
	TakeProfitFirst
)

func (t TieBreak) String() string {
	if t == TakeProfitFirst {
		return "take_profit_first"
	}
	return "stop_loss_first"
}

func ParseTieBreak(raw string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "stop_loss_first":
		return StopLossFirst, nil
	case "take_profit_first":
		return TakeProfitFirst, nil
	default:
		return StopLossFirst, fmt.Errorf("unknown tie break %q", raw)
	}
}

// PriceMode close 每根只看收盘价；range 用高低价检测触价。
type PriceMode int

const (
	PriceClose PriceMode = iota
	PriceRange
)

func (m PriceMode) String() string {
	if m == PriceRange {
		return "range"
	}
	return "close"
}

func ParsePriceMode(raw string) (PriceMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "close":
		return PriceClose, nil
	case "range":
		return PriceRange, nil
	default:
		return PriceClose, fmt.Errorf("unknown price mode %q", raw)
	}
}

// SimulationInput 单笔持仓模拟的输入。
type SimulationInput struct {
	Series     fx.PriceSeries
	EntryAt    time.Time
	ExitAt     time.Time
	EntryPrice float64
	Direction  fx.Direction
	Risk       strategy.RiskParams
	Pip        fx.PipSpec
	Mode       PriceMode
	TieBreak   TieBreak
}

// SimulationResult MaxAdversePips 为不大于 0 的最差浮动 pips。
type SimulationResult struct {
	ExitPrice        float64
	ExitAt           time.Time
	Reason           fx.ExitReason
	MaxFavorablePips float64
	MaxAdversePips   float64
	TimeAdjusted     bool
	WindowFallback   bool
	Ticks            int
}

// Simulate 按时间顺序扫描 [entry, exit] 区间内的报价，返回首次触及止损/止盈或到期平仓的结果。
// 止损/止盈成交价固定为计算出的价位，而非报价本身。
func Simulate(in SimulationInput) (SimulationResult, error) {
	series := in.Series
	if series.Empty() {
		return SimulationResult{}, ErrNoData
	}
	if math.IsNaN(in.EntryPrice) || in.EntryPrice <= 0 {
		return SimulationResult{}, fmt.Errorf("%w: invalid entry price %v", ErrSimulationFailure, in.EntryPrice)
	}
	var res SimulationResult
	first, last := series.Bounds()
	entryAt, exitAt := in.EntryAt, in.ExitAt
	if entryAt.Before(first) || entryAt.After(last) || exitAt.Before(first) || exitAt.After(last) {
		entryAt = clampTime(entryAt, first, last)
		exitAt = clampTime(exitAt, first, last)
		res.TimeAdjusted = true
		logger.Warnf("[backtest] %s %s 时间超出数据范围，已调整 entry=%s exit=%s (数据 %s~%s)",
			series.Pair, in.Direction, entryAt.Format(time.TimeOnly), exitAt.Format(time.TimeOnly),
			first.Format(time.TimeOnly), last.Format(time.TimeOnly))
	}

	ticks := series.Ticks
	lo := sort.Search(len(ticks), func(i int) bool { return !ticks[i].Time.Before(entryAt) })
	hi := sort.Search(len(ticks), func(i int) bool { return ticks[i].Time.After(exitAt) })
	if lo >= hi {
		idx := series.NearestIndex(entryAt)
		lo, hi = idx, idx+1
		res.WindowFallback = true
		logger.Warnf("[backtest] %s %s 区间 %s~%s 内无报价，使用最近报价 %s",
			series.Pair, in.Direction, entryAt.Format(time.TimeOnly), exitAt.Format(time.TimeOnly),
			ticks[idx].Time.Format(time.TimeOnly))
	}
	window := ticks[lo:hi]
	res.Ticks = len(window)

	lv := levelsFor(in.Direction, in.EntryPrice, in.Pip, in.Risk.StopLossPips, in.Risk.TakeProfitPips)
	lastIdx := -1
	for i, tick := range window {
		px, ok := monitorPrices(series.Quotes, tick, in.Direction)
		if !ok {
			continue
		}
		lastIdx = i
		slProbe, tpProbe := px.close, px.close
		favProbe, advProbe := px.close, px.close
		if in.Mode == PriceRange {
			slProbe, tpProbe = px.adverse, px.favorable
			favProbe, advProbe = px.favorable, px.adverse
		}
		fav := fx.PipsWith(in.Pip, in.EntryPrice, favProbe, in.Direction)
		adv := fx.PipsWith(in.Pip, in.EntryPrice, advProbe, in.Direction)
		res.MaxFavorablePips = math.Max(res.MaxFavorablePips, fav)
		res.MaxAdversePips = math.Min(res.MaxAdversePips, adv)

		slHit := hitStopLoss(in.Direction, slProbe, lv)
		tpHit := hitTakeProfit(in.Direction, tpProbe, lv)
		if slHit && tpHit {
			if in.TieBreak == TakeProfitFirst {
				slHit = false
			} else {
				tpHit = false
			}
		}
		switch {
		case slHit:
			res.Reason = fx.ExitStopLoss
			res.ExitPrice = decToFloat(lv.stopLoss)
			res.ExitAt = tick.Time
			return res, nil
		case tpHit:
			res.Reason = fx.ExitTakeProfit
			res.ExitPrice = decToFloat(lv.takeProfit)
			res.ExitAt = tick.Time
			return res, nil
		}
	}
	if lastIdx < 0 {
		return res, ErrNoUsablePrice
	}
	px, _ := monitorPrices(series.Quotes, window[lastIdx], in.Direction)
	res.Reason = fx.ExitTime
	res.ExitPrice = px.close
	res.ExitAt = window[lastIdx].Time
	return res, nil
}

func clampTime(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

type monitorQuote struct {
	close     float64
	favorable float64
	adverse   float64
}

// monitorPrices LONG 平仓看 bid，SHORT 平仓看 ask；该根缺少这一侧时退化到另一侧。
func monitorPrices(quotes fx.QuoteSides, t fx.PriceTick, dir fx.Direction) (monitorQuote, bool) {
	sides, ok := fx.TickSides(quotes, t)
	if !ok {
		return monitorQuote{}, false
	}
	useBid := dir == fx.Long
	if useBid && !sides.HasBid() {
		useBid = false
	} else if !useBid && !sides.HasAsk() {
		useBid = true
	}
	var q monitorQuote
	var high, low float64
	if useBid {
		q.close, high, low = t.CloseBid, t.HighBid, t.LowBid
	} else {
		q.close, high, low = t.CloseAsk, t.HighAsk, t.LowAsk
	}
	if !validPrice(q.close) {
		return monitorQuote{}, false
	}
	if !validPrice(high) {
		high = q.close
	}
	if !validPrice(low) {
		low = q.close
	}
	if dir == fx.Short {
		q.favorable, q.adverse = low, high
	} else {
		q.favorable, q.adverse = high, low
	}
	return q, true
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
