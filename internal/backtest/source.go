package backtest

import (
	"context"
	"time"

	"fxlayer/internal/fx"
)

// PriceProvider 按 (货币对, 交易日) 提供已排序去重的报价序列。
type PriceProvider interface {
	DaySeries(ctx context.Context, pair string, day time.Time) (fx.PriceSeries, error)
}

// SignalProvider 提供指定交易日的入场信号。
type SignalProvider interface {
	SignalsForDay(ctx context.Context, day time.Time) ([]fx.EntrySignal, error)
}

// ResultSink 接收每个处理单元完成后的结果，可为空。
type ResultSink interface {
	SaveUnit(ctx context.Context, runID string, trades []fx.TradeResult, skips []Skip) error
}

// PriceProviderFunc 函数适配器。
type PriceProviderFunc func(ctx context.Context, pair string, day time.Time) (fx.PriceSeries, error)

func (f PriceProviderFunc) DaySeries(ctx context.Context, pair string, day time.Time) (fx.PriceSeries, error) {
	return f(ctx, pair, day)
}

// SignalProviderFunc 函数适配器。
type SignalProviderFunc func(ctx context.Context, day time.Time) ([]fx.EntrySignal, error)

func (f SignalProviderFunc) SignalsForDay(ctx context.Context, day time.Time) ([]fx.EntrySignal, error) {
	return f(ctx, day)
}
