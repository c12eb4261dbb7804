package backtest

import (
	"math"

	"fxlayer/internal/fx"

	"github.com/shopspring/decimal"
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// priceLevels 止损/止盈价格；pips 为 0 的一侧不设价位。
type priceLevels struct {
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
	hasStop    bool
	hasTarget  bool
}

func levelsFor(dir fx.Direction, entry float64, spec fx.PipSpec, slPips, tpPips int) priceLevels {
	sign := dir.Sign()
	lv := priceLevels{hasStop: slPips > 0, hasTarget: tpPips > 0}
	if lv.hasStop {
		lv.stopLoss = fx.PriceAt(spec, entry, -sign*slPips)
	}
	if lv.hasTarget {
		lv.takeProfit = fx.PriceAt(spec, entry, sign*tpPips)
	}
	return lv
}

// hitStopLoss LONG 价格 <= 止损价，SHORT 价格 >= 止损价。
func hitStopLoss(dir fx.Direction, price float64, lv priceLevels) bool {
	if !lv.hasStop {
		return false
	}
	cmp := decFromFloat(price).Cmp(lv.stopLoss)
	if dir == fx.Short {
		return cmp >= 0
	}
	return cmp <= 0
}

// hitTakeProfit LONG 价格 >= 止盈价，SHORT 价格 <= 止盈价。
func hitTakeProfit(dir fx.Direction, price float64, lv priceLevels) bool {
	if !lv.hasTarget {
		return false
	}
	cmp := decFromFloat(price).Cmp(lv.takeProfit)
	if dir == fx.Short {
		return cmp <= 0
	}
	return cmp >= 0
}
