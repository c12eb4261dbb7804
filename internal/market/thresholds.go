package market

import (
	"errors"
	"math"
	"sort"
)

// ErrNoConditions 当日没有可用快照。
var ErrNoConditions = errors.New("market: no conditions to compute thresholds")

// Thresholds 单个货币对单日的分位数阈值。
type Thresholds struct {
	SP30        float64 `json:"sp30"`
	SP40        float64 `json:"sp40"`
	TR40        float64 `json:"tr40"`
	ATR14Median float64 `json:"atr14_median"`
}

// ComputeThresholds 基于全天快照计算 spread 30/40 分位、true range 40 分位与 ATR14 中位数。
// 当日有完整双边报价时忽略 Fallback 估算快照；全天都是估算值时才使用它们。
func ComputeThresholds(conds []Condition) (Thresholds, error) {
	if len(conds) == 0 {
		return Thresholds{}, ErrNoConditions
	}
	skipFallback := false
	for _, c := range conds {
		if !c.Fallback {
			skipFallback = true
			break
		}
	}
	spread := make([]float64, 0, len(conds))
	tr := make([]float64, 0, len(conds))
	atr := make([]float64, 0, len(conds))
	for _, c := range conds {
		if skipFallback && c.Fallback {
			continue
		}
		spread = appendFinite(spread, c.Snapshot.Spread)
		tr = appendFinite(tr, c.Snapshot.TrueRange)
		atr = appendFinite(atr, c.Snapshot.ATR14)
	}
	if len(spread) == 0 || len(tr) == 0 || len(atr) == 0 {
		return Thresholds{}, ErrNoConditions
	}
	sort.Float64s(spread)
	sort.Float64s(tr)
	sort.Float64s(atr)
	return Thresholds{
		SP30:        Quantile(spread, 0.30),
		SP40:        Quantile(spread, 0.40),
		TR40:        Quantile(tr, 0.40),
		ATR14Median: Quantile(atr, 0.50),
	}, nil
}

func appendFinite(dst []float64, v float64) []float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return dst
	}
	return append(dst, v)
}

// Quantile 对已排序样本做相邻秩线性插值（与 pandas 默认一致）。
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
