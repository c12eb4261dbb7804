package market

import (
	"math"
	"sort"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"

	"github.com/markcheno/go-talib"
)

const (
	ATRPeriod             = 14
	Window5m              = 5
	Window15m             = 15
	Window1h              = 60
	DefaultFallbackSpread = 0.001
)

// Snapshot 单根报价对应的微观市场状态。
type Snapshot struct {
	Spread    float64 `json:"spread"`
	TrueRange float64 `json:"true_range"`
	ATR14     float64 `json:"atr14"`
	Mid       float64 `json:"mid"`
	Dir5m     bool    `json:"dir_5m"`
	Dir15m    bool    `json:"dir_15m"`
	Dir1h     bool    `json:"dir_1h"`
}

// Condition 报价与其快照；Fallback 表示缺少一侧报价时的估算值。
type Condition struct {
	Time     time.Time `json:"time"`
	Snapshot Snapshot  `json:"snapshot"`
	Fallback bool      `json:"fallback,omitempty"`
}

type ExtractOptions struct {
	FallbackSpread float64
}

// Extract 逐根计算 spread、true range、ATR14 与三个周期的方向标志，
// 输出与输入等长、顺序一致。缺少一侧报价的根使用估算值并标记 Fallback，
// 两侧都不可用的根沿用相邻根的 mid。
func Extract(series fx.PriceSeries, opts ExtractOptions) []Condition {
	n := len(series.Ticks)
	if n == 0 {
		return nil
	}
	fallbackSpread := opts.FallbackSpread
	if fallbackSpread <= 0 {
		fallbackSpread = DefaultFallbackSpread
	}

	spread := make([]float64, n)
	tr := make([]float64, n)
	mid := make([]float64, n)
	fallback := make([]bool, n)
	hasMid := make([]bool, n)
	degraded := 0
	for i, t := range series.Ticks {
		sides, ok := fx.TickSides(series.Quotes, t)
		if ok && sides == fx.QuoteBoth {
			spread[i] = t.CloseAsk - t.CloseBid
			tr[i] = t.HighAsk - t.LowBid
			mid[i] = (t.CloseAsk + t.CloseBid) / 2
			hasMid[i] = true
			continue
		}
		degraded++
		fallback[i] = true
		spread[i] = fallbackSpread
		tr[i] = fallbackSpread * 2
		if !ok {
			continue
		}
		high, low, closePx := t.HighBid, t.LowBid, t.CloseBid
		if sides == fx.QuoteAskOnly {
			high, low, closePx = t.HighAsk, t.LowAsk, t.CloseAsk
		}
		mid[i] = closePx
		hasMid[i] = true
		if high-low > 0 {
			tr[i] = high - low
		}
	}
	if degraded > 0 {
		logger.Warnf("[market] %s %s 有 %d/%d 根报价缺少 bid 或 ask，spread/true range 使用估算值",
			series.Pair, fx.DayKey(series.Day), degraded, n)
	}
	fillMissingMid(mid, hasMid)

	atr := rollingMean(tr, ATRPeriod)
	dir5 := breakoutFlags(mid, Window5m)
	dir15 := breakoutFlags(mid, Window15m)
	dir60 := breakoutFlags(mid, Window1h)

	out := make([]Condition, n)
	for i, t := range series.Ticks {
		out[i] = Condition{
			Time: t.Time,
			Snapshot: Snapshot{
				Spread:    spread[i],
				TrueRange: tr[i],
				ATR14:     atr[i],
				Mid:       mid[i],
				Dir5m:     dir5[i],
				Dir15m:    dir15[i],
				Dir1h:     dir60[i],
			},
			Fallback: fallback[i],
		}
	}
	return out
}

// fillMissingMid 无报价的根沿用前一根 mid，开头的空缺取第一个有效值。
func fillMissingMid(mid []float64, ok []bool) {
	first := -1
	for i := range mid {
		if ok[i] {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	for i := 0; i < first; i++ {
		mid[i] = mid[first]
	}
	for i := first + 1; i < len(mid); i++ {
		if !ok[i] {
			mid[i] = mid[i-1]
		}
	}
}

// rollingMean 窗口未满时取已有样本均值，满窗口后用 talib.Sma。
func rollingMean(values []float64, period int) []float64 {
	n := len(values)
	out := make([]float64, n)
	sum := 0.0
	warm := period - 1
	if warm > n {
		warm = n
	}
	for i := 0; i < warm; i++ {
		sum += values[i]
		out[i] = sum / float64(i+1)
	}
	if n >= period {
		sma := talib.Sma(values, period)
		copy(out[period-1:], sma[period-1:])
	}
	return out
}

// breakoutFlags flag[i] = values[i] 严格大于此前 window 个值（不含自身）的最大值。
// 首根没有可比较的历史，恒为 false。
func breakoutFlags(values []float64, window int) []bool {
	n := len(values)
	out := make([]bool, n)
	if n == 0 {
		return out
	}
	var rolling []float64
	if n >= window && window > 1 {
		rolling = talib.Max(values, window)
	}
	prefixMax := math.Inf(-1)
	for i := 1; i < n; i++ {
		var prevMax float64
		if rolling != nil && i-1 >= window-1 {
			prevMax = rolling[i-1]
		} else {
			// 窗口未满：取 [0, i-1] 的最大值
			if values[i-1] > prefixMax {
				prefixMax = values[i-1]
			}
			prevMax = prefixMax
		}
		out[i] = values[i] > prevMax
	}
	return out
}

// ConditionAt 返回时间不晚于 t 的最后一个快照（不取 t 之后更近的快照）；
// t 早于所有报价时返回第一个。
func ConditionAt(conds []Condition, t time.Time) (Condition, bool) {
	n := len(conds)
	if n == 0 {
		return Condition{}, false
	}
	idx := sort.Search(n, func(i int) bool { return conds[i].Time.After(t) })
	if idx == 0 {
		return conds[0], true
	}
	return conds[idx-1], true
}
