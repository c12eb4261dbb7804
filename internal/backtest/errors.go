package backtest

import (
	"errors"
	"time"

	"fxlayer/internal/fx"
)

var (
	// ErrNoData 报价序列为空或无法加载。
	ErrNoData = errors.New("backtest: no price data")
	// ErrNoUsablePrice 区间内没有可用于监控的价格。
	ErrNoUsablePrice = errors.New("backtest: no usable monitoring price in window")
	// ErrSimulationFailure 单条信号处理中的非预期失败。
	ErrSimulationFailure = errors.New("backtest: simulation failure")
	// ErrTooManyFailures 异常交易日占比超过阈值，回测提前终止。
	ErrTooManyFailures = errors.New("backtest: too many errored days")
)

// SkipReason 信号被跳过的原因。
type SkipReason string

const (
	SkipMissingData       SkipReason = "MISSING_DATA"
	SkipNoEntryPrice      SkipReason = "NO_ENTRY_PRICE"
	SkipSimulationFailure SkipReason = "SIMULATION_FAILURE"
)

// Skip 未能产出交易结果的信号。
type Skip struct {
	Day        time.Time    `json:"day"`
	Pair       string       `json:"pair"`
	Direction  fx.Direction `json:"direction"`
	EntryClock string       `json:"entry_clock"`
	Reason     SkipReason   `json:"reason"`
	Detail     string       `json:"detail,omitempty"`
}

func newSkip(sig fx.EntrySignal, reason SkipReason, err error) Skip {
	s := Skip{
		Day:        sig.Day,
		Pair:       sig.Pair,
		Direction:  sig.Direction,
		EntryClock: sig.EntryClock,
		Reason:     reason,
	}
	if err != nil {
		s.Detail = err.Error()
	}
	return s
}
