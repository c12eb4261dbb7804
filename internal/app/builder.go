package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"fxlayer/internal/backtest"
	brcfg "fxlayer/internal/config"
	"fxlayer/internal/fx"
	"fxlayer/internal/logger"
	"fxlayer/internal/signals"
	"fxlayer/internal/strategy"
	backtesthttp "fxlayer/internal/transport/http/backtest"
)

type AppBuilder struct {
	cfg *brcfg.Config

	storesFn func(*brcfg.Config, *time.Location) (*BacktestService, error)
	httpFn   func(brcfg.AppConfig, *time.Location, *BacktestService) (*backtesthttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithoutHTTP 测试或一次性回放时不创建 HTTP server。
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) {
		b.httpFn = func(brcfg.AppConfig, *time.Location, *BacktestService) (*backtesthttp.Server, error) { return nil, nil }
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		storesFn: openStores,
		httpFn:   buildBacktestHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	svc, err := b.storesFn(cfg, loc)
	if err != nil {
		return nil, err
	}
	imports, err := importData(ctx, cfg.Data.Imports, svc, loc)
	if err != nil {
		svc.Close()
		return nil, err
	}

	if err := buildRunner(cfg, loc, svc); err != nil {
		svc.Close()
		return nil, err
	}
	server, err := b.httpFn(cfg.App, loc, svc)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.server = server

	summary, err := buildStartupSummary(ctx, cfg, svc, imports)
	if err != nil {
		logger.Warnf("生成启动摘要失败: %v", err)
	}
	return &App{cfg: cfg, loc: loc, backtest: svc, Summary: summary}, nil
}

func openStores(cfg *brcfg.Config, loc *time.Location) (*BacktestService, error) {
	ticks, err := backtest.NewTickStore(cfg.Data.TickRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化报价存储失败: %w", err)
	}
	sigStore, err := signals.NewStore(cfg.Data.SignalDB, loc)
	if err != nil {
		_ = ticks.Close()
		return nil, fmt.Errorf("初始化信号存储失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultRoot)
	if err != nil {
		_ = ticks.Close()
		_ = sigStore.Close()
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}
	logger.Infof("✓ 存储就绪 ticks=%s signals=%s results=%s", cfg.Data.TickRoot, cfg.Data.SignalDB, cfg.Data.ResultRoot)
	return &BacktestService{ticks: ticks, signals: sigStore, results: results}, nil
}

// ImportStat 启动导入的单个文件结果。
type ImportStat struct {
	Kind string
	Path string
	Rows int
}

// importData 按配置顺序导入 CSV；path 支持 glob。
func importData(ctx context.Context, imports []brcfg.ImportConfig, svc *BacktestService, loc *time.Location) ([]ImportStat, error) {
	var stats []ImportStat
	for i, imp := range imports {
		paths, err := filepath.Glob(imp.Path)
		if err != nil {
			return stats, fmt.Errorf("data.imports[%d]: %w", i, err)
		}
		if len(paths) == 0 {
			return stats, fmt.Errorf("data.imports[%d]: no file matches %s", i, imp.Path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			n, err := importFile(ctx, imp, path, svc, loc)
			if err != nil {
				return stats, fmt.Errorf("data.imports[%d]: %w", i, err)
			}
			stats = append(stats, ImportStat{Kind: imp.Kind, Path: path, Rows: n})
		}
	}
	return stats, nil
}

func importFile(ctx context.Context, imp brcfg.ImportConfig, path string, svc *BacktestService, loc *time.Location) (int, error) {
	switch imp.Kind {
	case brcfg.ImportTicks:
		return backtest.ImportTickFile(ctx, svc.ticks, imp.Pair, path, loc)
	case brcfg.ImportSignals:
		var day time.Time
		if imp.Day != "" {
			d, err := fx.ParseDay(imp.Day, loc)
			if err != nil {
				return 0, err
			}
			day = d
		}
		sigs, err := signals.LoadFile(path, day, loc)
		if err != nil {
			return 0, err
		}
		return svc.signals.Insert(ctx, filepath.Base(path), sigs)
	default:
		return 0, fmt.Errorf("unknown import kind %q", imp.Kind)
	}
}

func buildRunner(cfg *brcfg.Config, loc *time.Location, svc *BacktestService) error {
	mode, err := backtest.ParsePriceMode(cfg.Backtest.PriceMode)
	if err != nil {
		return err
	}
	tie, err := backtest.ParseTieBreak(cfg.Backtest.TieBreak)
	if err != nil {
		return err
	}
	resolver := strategy.NewResolver(strategy.ResolverConfig{
		BaseStopLoss:     cfg.Risk.BaseStopLoss,
		BaseTakeProfit:   cfg.Risk.BaseTakeProfit,
		ExpandStopLoss:   cfg.Risk.ExpandStopLoss,
		ExpandTakeProfit: cfg.Risk.ExpandTakeProfit,
		ATRMultiplier:    cfg.Risk.ATRMultiplier,
		ATRRewardRatio:   cfg.Risk.ATRRewardRatio,
	})
	engine, err := backtest.NewEngine(backtest.EngineConfig{
		Prices:           svc.ticks,
		Signals:          svc.signals,
		Pips:             fx.NewPipTable(cfg.PipSpecs()),
		Resolver:         resolver,
		Workers:          cfg.Backtest.Workers,
		Mode:             mode,
		TieBreak:         tie,
		FallbackSpread:   cfg.Backtest.FallbackSpread,
		MaxErrorDayRatio: cfg.Backtest.MaxErrorDayRatio,
		EntryGapWarn:     time.Duration(cfg.Backtest.EntryGapWarnMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	runs, err := backtest.NewRunService(backtest.RunServiceConfig{
		Engine:   engine,
		Results:  svc.results,
		Location: loc,
		Defaults: backtest.RunConfig{
			Workers:        cfg.Backtest.Workers,
			PriceMode:      mode.String(),
			TieBreak:       tie.String(),
			FallbackSpread: cfg.Backtest.FallbackSpread,
		},
	})
	if err != nil {
		return err
	}
	svc.engine = engine
	svc.runs = runs
	return nil
}

func buildBacktestHTTPServer(cfg brcfg.AppConfig, loc *time.Location, svc *BacktestService) (*backtesthttp.Server, error) {
	if cfg.HTTPAddr == "" {
		return nil, nil
	}
	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:     cfg.HTTPAddr,
		Runs:     svc.runs,
		Results:  svc.results,
		Ticks:    svc.ticks,
		Signals:  svc.signals,
		Location: loc,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	logger.Infof("✓ 回测 HTTP 接口监听 %s", cfg.HTTPAddr)
	return server, nil
}
