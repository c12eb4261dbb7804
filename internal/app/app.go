package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fxlayer/internal/backtest"
	brcfg "fxlayer/internal/config"
	"fxlayer/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化存储→导入数据→执行回测或提供 HTTP。
type App struct {
	cfg      *brcfg.Config
	loc      *time.Location
	backtest *BacktestService
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg, opts...).Build(context.Background())
}

// Run 配置了 backtest.from 时先同步回放一次；配置了 http_addr 时持续提供服务直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.backtest == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.backtest.Start(ctx)

	if _, _, ok, _ := a.cfg.Backtest.RunRange(a.loc); ok {
		if _, err := a.RunOnce(ctx); err != nil {
			return err
		}
	}
	if a.backtest.server == nil {
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.backtest.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 等待后台回测结束并关闭存储。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.backtest.Close()
}

// RunOnce 按配置区间同步回放，输出汇总并按需写入 summary_path。
func (a *App) RunOnce(ctx context.Context) (*backtest.Report, error) {
	bt := a.cfg.Backtest
	to := bt.To
	if to == "" {
		to = bt.From
	}
	run, report, err := a.backtest.runs.RunSync(ctx, backtest.StartRequest{From: bt.From, To: to, Pairs: bt.Pairs})
	if report == nil {
		return nil, fmt.Errorf("回测失败: %w", err)
	}
	logger.Infof("[backtest] run %s %s ~ %s 状态=%s", run.ID, run.From, run.To, run.Status)
	logger.InfoBlock(report.Summary.Text())
	if bt.SummaryPath != "" {
		if werr := backtest.WriteSummaryYAML(bt.SummaryPath, report); werr != nil {
			logger.Warnf("[backtest] 写入汇总失败: %v", werr)
		} else {
			logger.Infof("[backtest] 汇总已写入 %s", bt.SummaryPath)
		}
	}
	if errors.Is(err, context.Canceled) {
		return report, nil
	}
	return report, err
}
