package backtest

import (
	"maps"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/strategy"
)

// BuildTrade 将模拟结果与信号、分层信息合并为 TradeResult。
func BuildTrade(sig fx.EntrySignal, layer fx.Layer, risk strategy.RiskParams, entryPrice float64, entryAt time.Time, sim SimulationResult, pip fx.PipSpec) fx.TradeResult {
	pips := fx.PipsWith(pip, entryPrice, sim.ExitPrice, sig.Direction)
	return fx.TradeResult{
		SignalID:         sig.ID,
		Day:              sig.Day,
		Pair:             sig.Pair,
		Direction:        sig.Direction,
		Layer:            layer,
		EntryClock:       sig.EntryClock,
		ExitClock:        sig.ExitClock,
		EntryAt:          entryAt,
		ExitAt:           sim.ExitAt,
		EntryPrice:       entryPrice,
		ExitPrice:        sim.ExitPrice,
		ExitReason:       sim.Reason,
		Pips:             pips,
		Outcome:          fx.OutcomeOf(pips),
		StopLossPips:     risk.StopLossPips,
		TakeProfitPips:   risk.TakeProfitPips,
		MaxFavorablePips: sim.MaxFavorablePips,
		MaxAdversePips:   sim.MaxAdversePips,
		TimeAdjusted:     sim.TimeAdjusted,
		WindowFallback:   sim.WindowFallback,
		Meta:             maps.Clone(sig.Meta),
	}
}
