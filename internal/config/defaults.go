package config

import (
	"strings"

	"fxlayer/internal/fx"
	"fxlayer/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogFormat     = "text"
	defaultTickRoot         = "data/ticks"
	defaultResultRoot       = "data/results"
	defaultSignalDB         = "data/signals.db"
	defaultTimezone         = "Asia/Tokyo"
	defaultWorkers          = 4
	defaultFallbackSpread   = 0.001
	defaultMaxErrorDayRatio = 0.5
	defaultEntryGapWarnMin  = 60
	defaultBaseSL           = 8
	defaultBaseTP           = 14
	defaultExpandSL         = 12
	defaultExpandTP         = 30
	defaultATRMultiplier    = 1.3
	defaultATRRewardRatio   = 2
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	if len(c.Pairs) == 0 && !keys.isSet("pairs") {
		c.Pairs = make(map[string]PairConfig)
		for pair, spec := range fx.DefaultPipSpecs() {
			c.Pairs[pair] = PairConfig{PipValue: spec.Value, PipMultiplier: spec.Multiplier}
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.tick_root", &d.TickRoot, defaultTickRoot),
		stringFieldDefault("data.result_root", &d.ResultRoot, defaultResultRoot),
		stringFieldDefault("data.signal_db", &d.SignalDB, defaultSignalDB),
		stringFieldDefault("data.timezone", &d.Timezone, defaultTimezone),
	)
	for i := range d.Imports {
		imp := &d.Imports[i]
		imp.Kind = strings.ToLower(strings.TrimSpace(imp.Kind))
		if imp.Pair != "" {
			imp.Pair = symbol.Normalize(imp.Pair)
		}
	}
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.price_mode", &b.PriceMode, PriceModeClose),
		stringFieldDefault("backtest.tie_break", &b.TieBreak, TieBreakStopLossFirst),
		fieldDefault{
			key:   "backtest.workers",
			need:  func() bool { return b.Workers <= 0 },
			apply: func() { b.Workers = defaultWorkers },
		},
		fieldDefault{
			key:   "backtest.fallback_spread",
			need:  func() bool { return b.FallbackSpread <= 0 },
			apply: func() { b.FallbackSpread = defaultFallbackSpread },
		},
		fieldDefault{
			key:   "backtest.max_error_day_ratio",
			need:  func() bool { return b.MaxErrorDayRatio <= 0 },
			apply: func() { b.MaxErrorDayRatio = defaultMaxErrorDayRatio },
		},
		fieldDefault{
			key:   "backtest.entry_gap_warn_minutes",
			need:  func() bool { return b.EntryGapWarnMinutes <= 0 },
			apply: func() { b.EntryGapWarnMinutes = defaultEntryGapWarnMin },
		},
	)
	b.PriceMode = strings.ToLower(strings.TrimSpace(b.PriceMode))
	b.TieBreak = strings.ToLower(strings.TrimSpace(b.TieBreak))
	b.Pairs = symbol.NormalizeList(b.Pairs)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("risk.base_stop_loss", &r.BaseStopLoss, defaultBaseSL),
		intFieldDefault("risk.base_take_profit", &r.BaseTakeProfit, defaultBaseTP),
		intFieldDefault("risk.expand_stop_loss", &r.ExpandStopLoss, defaultExpandSL),
		intFieldDefault("risk.expand_take_profit", &r.ExpandTakeProfit, defaultExpandTP),
		fieldDefault{
			key:   "risk.atr_multiplier",
			need:  func() bool { return r.ATRMultiplier <= 0 },
			apply: func() { r.ATRMultiplier = defaultATRMultiplier },
		},
		fieldDefault{
			key:   "risk.atr_reward_ratio",
			need:  func() bool { return r.ATRRewardRatio <= 0 },
			apply: func() { r.ATRRewardRatio = defaultATRRewardRatio },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
