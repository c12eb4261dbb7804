package fx

import "time"

// TradeResult 一条信号的完整模拟结果。
type TradeResult struct {
	SignalID         string             `json:"signal_id,omitempty" yaml:"signal_id,omitempty"`
	Day              time.Time          `json:"day" yaml:"day"`
	Pair             string             `json:"pair" yaml:"pair"`
	Direction        Direction          `json:"direction" yaml:"direction"`
	Layer            Layer              `json:"layer" yaml:"layer"`
	EntryClock       string             `json:"entry_clock" yaml:"entry_clock"`
	ExitClock        string             `json:"exit_clock" yaml:"exit_clock"`
	EntryAt          time.Time          `json:"entry_at" yaml:"entry_at"`
	ExitAt           time.Time          `json:"exit_at" yaml:"exit_at"`
	EntryPrice       float64            `json:"entry_price" yaml:"entry_price"`
	ExitPrice        float64            `json:"exit_price" yaml:"exit_price"`
	ExitReason       ExitReason         `json:"exit_reason" yaml:"exit_reason"`
	Pips             float64            `json:"pips" yaml:"pips"`
	Outcome          Outcome            `json:"outcome" yaml:"outcome"`
	StopLossPips     int                `json:"stop_loss_pips" yaml:"stop_loss_pips"`
	TakeProfitPips   int                `json:"take_profit_pips" yaml:"take_profit_pips"`
	MaxFavorablePips float64            `json:"max_favorable_pips" yaml:"max_favorable_pips"`
	MaxAdversePips   float64            `json:"max_adverse_pips" yaml:"max_adverse_pips"`
	TimeAdjusted     bool               `json:"time_adjusted" yaml:"time_adjusted"`
	WindowFallback   bool               `json:"window_fallback" yaml:"window_fallback"`
	Meta             map[string]float64 `json:"meta,omitempty" yaml:"meta,omitempty"`
}
