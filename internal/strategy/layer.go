// Package strategy 根据微观市场状态决定风险分层与止损止盈距离。
package strategy

import (
	"fxlayer/internal/fx"
	"fxlayer/internal/market"
)

// LayerInput 分层判定所需的全部输入，方向标志已按持仓方向调整。
type LayerInput struct {
	Spread    float64
	TrueRange float64
	ATR14     float64
	Dir5m     bool
	Dir15m    bool
	Dir1h     bool
	SP30      float64
	SP40      float64
	TR40      float64
	ATRMedian float64
}

// DecideLayer 按顺序匹配：BASE -> EXPAND -> ATR。
func DecideLayer(in LayerInput) fx.Layer {
	if in.Spread <= in.SP30 && in.TrueRange <= in.TR40 && in.Dir5m == in.Dir15m {
		return fx.LayerBase
	}
	if in.Spread <= in.SP40 && in.Dir5m && in.Dir15m && in.Dir1h && in.ATR14 > in.ATRMedian {
		return fx.LayerExpand
	}
	return fx.LayerATR
}

// Classify 对 SHORT 取反三个方向标志后再判定。
func Classify(snap market.Snapshot, dir fx.Direction, th market.Thresholds) fx.Layer {
	d5, d15, d1h := snap.Dir5m, snap.Dir15m, snap.Dir1h
	if dir == fx.Short {
		d5, d15, d1h = !d5, !d15, !d1h
	}
	return DecideLayer(LayerInput{
		Spread:    snap.Spread,
		TrueRange: snap.TrueRange,
		ATR14:     snap.ATR14,
		Dir5m:     d5,
		Dir15m:    d15,
		Dir1h:     d1h,
		SP30:      th.SP30,
		SP40:      th.SP40,
		TR40:      th.TR40,
		ATRMedian: th.ATR14Median,
	})
}
