package config

import (
	"fmt"
	"strings"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/pkg/symbol"
)

// Config 是 fxlayer 的主配置载体。
type Config struct {
	App      AppConfig             `toml:"app"`
	Data     DataConfig            `toml:"data"`
	Backtest BacktestConfig        `toml:"backtest"`
	Risk     RiskConfig            `toml:"risk"`
	Pairs    map[string]PairConfig `toml:"pairs"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// DataConfig 描述报价、信号、结果三类存储的位置。
type DataConfig struct {
	TickRoot   string         `toml:"tick_root"`
	ResultRoot string         `toml:"result_root"`
	SignalDB   string         `toml:"signal_db"`
	Timezone   string         `toml:"timezone"`
	Imports    []ImportConfig `toml:"imports"`
}

// ImportConfig 启动时导入的 CSV 文件。
type ImportConfig struct {
	Kind string `toml:"kind"` // ticks / signals
	Pair string `toml:"pair"`
	Day  string `toml:"day"`
	Path string `toml:"path"`
}

const (
	ImportTicks   = "ticks"
	ImportSignals = "signals"
)

type BacktestConfig struct {
	Workers             int      `toml:"workers"`
	PriceMode           string   `toml:"price_mode"`
	TieBreak            string   `toml:"tie_break"`
	FallbackSpread      float64  `toml:"fallback_spread"`
	MaxErrorDayRatio    float64  `toml:"max_error_day_ratio"`
	EntryGapWarnMinutes int      `toml:"entry_gap_warn_minutes"`
	From                string   `toml:"from"`
	To                  string   `toml:"to"`
	Pairs               []string `toml:"pairs"`
	SummaryPath         string   `toml:"summary_path"`
}

const (
	PriceModeClose = "close"
	PriceModeRange = "range"

	TieBreakStopLossFirst   = "stop_loss_first"
	TieBreakTakeProfitFirst = "take_profit_first"
)

// RiskConfig 各分层的止损/止盈 pips。
type RiskConfig struct {
	BaseStopLoss     int     `toml:"base_stop_loss"`
	BaseTakeProfit   int     `toml:"base_take_profit"`
	ExpandStopLoss   int     `toml:"expand_stop_loss"`
	ExpandTakeProfit int     `toml:"expand_take_profit"`
	ATRMultiplier    float64 `toml:"atr_multiplier"`
	ATRRewardRatio   float64 `toml:"atr_reward_ratio"`
}

type PairConfig struct {
	PipValue      float64 `toml:"pip_value"`
	PipMultiplier float64 `toml:"pip_multiplier"`
}

// Location 返回交易日所在时区。
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Data.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// PipSpecs 把 pairs 配置转换为 fx.PipSpec 表。
func (c *Config) PipSpecs() map[string]fx.PipSpec {
	out := make(map[string]fx.PipSpec, len(c.Pairs))
	for pair, pc := range c.Pairs {
		out[symbol.Normalize(pair)] = fx.PipSpec{Value: pc.PipValue, Multiplier: pc.PipMultiplier}
	}
	return out
}

// RunRange 解析 backtest.from/to；均为空时 ok=false。
func (b BacktestConfig) RunRange(loc *time.Location) (from, to time.Time, ok bool, err error) {
	if strings.TrimSpace(b.From) == "" && strings.TrimSpace(b.To) == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	from, err = fx.ParseDay(b.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("backtest.from: %w", err)
	}
	to = from
	if strings.TrimSpace(b.To) != "" {
		to, err = fx.ParseDay(b.To, loc)
		if err != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("backtest.to: %w", err)
		}
	}
	return from, to, true, nil
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
