package app

import (
	"context"

	"fxlayer/internal/backtest"
	"fxlayer/internal/logger"
	"fxlayer/internal/signals"
	backtesthttp "fxlayer/internal/transport/http/backtest"
)

// BacktestService 持有报价/信号/结果三个存储以及回测服务。
type BacktestService struct {
	ticks   *backtest.TickStore
	signals *signals.Store
	results *backtest.ResultStore
	engine  *backtest.Engine
	runs    *backtest.RunService
	server  *backtesthttp.Server
}

// Start 绑定上下文。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil || b.runs == nil {
		return
	}
	b.runs.SetContext(ctx)
}

// Close 等待后台任务结束后释放存储。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.runs != nil {
		b.runs.Wait()
	}
	if b.results != nil {
		if err := b.results.Close(); err != nil {
			logger.Warnf("关闭结果存储失败: %v", err)
		}
	}
	if b.signals != nil {
		_ = b.signals.Close()
	}
	if b.ticks != nil {
		_ = b.ticks.Close()
	}
}
