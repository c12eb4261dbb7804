package config

import (
	"fmt"
	"strings"
	"time"

	"fxlayer/internal/pkg/symbol"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	for pair, pc := range c.Pairs {
		if !symbol.IsValid(pair) {
			return fmt.Errorf("pairs.%s is not a currency pair", pair)
		}
		if pc.PipValue < 0 || pc.PipMultiplier < 0 {
			return fmt.Errorf("pairs.%s pip_value/pip_multiplier must be >= 0", pair)
		}
	}
	loc, err := c.Location()
	if err != nil {
		return fmt.Errorf("data.timezone invalid: %w", err)
	}
	from, to, ok, err := c.Backtest.RunRange(loc)
	if err != nil {
		return err
	}
	if ok && to.Before(from) {
		return fmt.Errorf("backtest.to must not be before backtest.from")
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.TickRoot) == "" {
		return fmt.Errorf("data.tick_root cannot be empty")
	}
	if strings.TrimSpace(d.ResultRoot) == "" {
		return fmt.Errorf("data.result_root cannot be empty")
	}
	if strings.TrimSpace(d.SignalDB) == "" {
		return fmt.Errorf("data.signal_db cannot be empty")
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("data.timezone invalid: %w", err)
	}
	for i, imp := range d.Imports {
		if strings.TrimSpace(imp.Path) == "" {
			return fmt.Errorf("data.imports[%d].path cannot be empty", i)
		}
		switch imp.Kind {
		case ImportTicks:
			if !symbol.IsValid(imp.Pair) {
				return fmt.Errorf("data.imports[%d].pair required for tick import", i)
			}
		case ImportSignals:
		default:
			return fmt.Errorf("data.imports[%d].kind must be ticks or signals", i)
		}
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.Workers <= 0 {
		return fmt.Errorf("backtest.workers must be > 0")
	}
	switch b.PriceMode {
	case PriceModeClose, PriceModeRange:
	default:
		return fmt.Errorf("backtest.price_mode must be %s or %s", PriceModeClose, PriceModeRange)
	}
	switch b.TieBreak {
	case TieBreakStopLossFirst, TieBreakTakeProfitFirst:
	default:
		return fmt.Errorf("backtest.tie_break must be %s or %s", TieBreakStopLossFirst, TieBreakTakeProfitFirst)
	}
	if b.FallbackSpread <= 0 {
		return fmt.Errorf("backtest.fallback_spread must be > 0")
	}
	if b.MaxErrorDayRatio <= 0 || b.MaxErrorDayRatio > 1 {
		return fmt.Errorf("backtest.max_error_day_ratio must be in (0, 1]")
	}
	for _, p := range b.Pairs {
		if !symbol.IsValid(p) {
			return fmt.Errorf("backtest.pairs contains invalid pair: %s", p)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.BaseStopLoss <= 0 || r.BaseTakeProfit <= 0 {
		return fmt.Errorf("risk.base_stop_loss/base_take_profit must be > 0")
	}
	if r.ExpandStopLoss <= 0 || r.ExpandTakeProfit <= 0 {
		return fmt.Errorf("risk.expand_stop_loss/expand_take_profit must be > 0")
	}
	if r.ATRMultiplier <= 0 || r.ATRRewardRatio <= 0 {
		return fmt.Errorf("risk.atr_multiplier/atr_reward_ratio must be > 0")
	}
	return nil
}
