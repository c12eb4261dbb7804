package strategy

import (
	"math"

	"fxlayer/internal/fx"
)

// RiskParams 止损/止盈距离（pips）。0 表示该侧不设价位。
type RiskParams struct {
	StopLossPips   int `json:"stop_loss_pips"`
	TakeProfitPips int `json:"take_profit_pips"`
}

type ResolverConfig struct {
	BaseStopLoss     int
	BaseTakeProfit   int
	ExpandStopLoss   int
	ExpandTakeProfit int
	ATRMultiplier    float64
	ATRRewardRatio   float64
}

// DefaultResolverConfig BASE 8/14、EXPAND 12/30、ATR 1.3 倍止损 + 2 倍止盈。
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		BaseStopLoss:     8,
		BaseTakeProfit:   14,
		ExpandStopLoss:   12,
		ExpandTakeProfit: 30,
		ATRMultiplier:    1.3,
		ATRRewardRatio:   2,
	}
}

type Resolver struct {
	cfg ResolverConfig
}

// NewResolver 非正数字段回落到默认值。
func NewResolver(cfg ResolverConfig) *Resolver {
	def := DefaultResolverConfig()
	if cfg.BaseStopLoss <= 0 {
		cfg.BaseStopLoss = def.BaseStopLoss
	}
	if cfg.BaseTakeProfit <= 0 {
		cfg.BaseTakeProfit = def.BaseTakeProfit
	}
	if cfg.ExpandStopLoss <= 0 {
		cfg.ExpandStopLoss = def.ExpandStopLoss
	}
	if cfg.ExpandTakeProfit <= 0 {
		cfg.ExpandTakeProfit = def.ExpandTakeProfit
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = def.ATRMultiplier
	}
	if cfg.ATRRewardRatio <= 0 {
		cfg.ATRRewardRatio = def.ATRRewardRatio
	}
	return &Resolver{cfg: cfg}
}

// Resolve atrPips 必须已换算为 pips；只有 ATR 层使用。
func (r *Resolver) Resolve(layer fx.Layer, atrPips float64) RiskParams {
	switch layer {
	case fx.LayerBase:
		return RiskParams{StopLossPips: r.cfg.BaseStopLoss, TakeProfitPips: r.cfg.BaseTakeProfit}
	case fx.LayerExpand:
		return RiskParams{StopLossPips: r.cfg.ExpandStopLoss, TakeProfitPips: r.cfg.ExpandTakeProfit}
	}
	if math.IsNaN(atrPips) || math.IsInf(atrPips, 0) || atrPips <= 0 {
		return RiskParams{}
	}
	sl := int(math.Round(atrPips * r.cfg.ATRMultiplier))
	tp := int(math.Round(float64(sl) * r.cfg.ATRRewardRatio))
	return RiskParams{StopLossPips: sl, TakeProfitPips: tp}
}
