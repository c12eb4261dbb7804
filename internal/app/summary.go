package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	brcfg "fxlayer/internal/config"
)

type StartupSummary struct {
	Data     DataSummary
	Backtest brcfg.BacktestConfig
	Risk     brcfg.RiskConfig
	Pips     map[string]brcfg.PairConfig
	Imports  []ImportStat
}

type DataSummary struct {
	Timezone   string
	TickRoot   string
	SignalDB   string
	ResultRoot string
	TickPairs  []PairCoverage
	SignalDays []string
	Signals    int64
}

// PairCoverage 单个货币对的报价覆盖区间。
type PairCoverage struct {
	Pair string
	From time.Time
	To   time.Time
	Rows int64
}

func buildStartupSummary(ctx context.Context, cfg *brcfg.Config, svc *BacktestService, imports []ImportStat) (*StartupSummary, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	s := &StartupSummary{
		Data: DataSummary{
			Timezone:   loc.String(),
			TickRoot:   cfg.Data.TickRoot,
			SignalDB:   cfg.Data.SignalDB,
			ResultRoot: cfg.Data.ResultRoot,
		},
		Backtest: cfg.Backtest,
		Risk:     cfg.Risk,
		Pips:     cfg.Pairs,
		Imports:  imports,
	}
	pairs, err := svc.ticks.Pairs()
	if err != nil {
		return s, err
	}
	for _, p := range pairs {
		m, err := svc.ticks.Manifest(ctx, p)
		if err != nil {
			return s, err
		}
		s.Data.TickPairs = append(s.Data.TickPairs, PairCoverage{
			Pair: p,
			From: time.UnixMilli(m.MinTime).In(loc),
			To:   time.UnixMilli(m.MaxTime).In(loc),
			Rows: m.Rows,
		})
	}
	if s.Data.SignalDays, err = svc.signals.Days(ctx); err != nil {
		return s, err
	}
	if s.Data.Signals, err = svc.signals.Count(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (s *StartupSummary) Print() {
	s.Write(os.Stdout)
}

func (s *StartupSummary) Write(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[数据 (DATA)]")
	fmt.Fprintf(w, "  时区: %s\n", s.Data.Timezone)
	fmt.Fprintf(w, "  报价目录: %s\n", s.Data.TickRoot)
	fmt.Fprintf(w, "  信号库: %s (%d 条, %d 个交易日)\n", s.Data.SignalDB, s.Data.Signals, len(s.Data.SignalDays))
	fmt.Fprintf(w, "  结果目录: %s\n", s.Data.ResultRoot)
	if len(s.Data.TickPairs) == 0 {
		fmt.Fprintln(w, "  报价覆盖: (无)")
	} else {
		fmt.Fprintln(w, "  报价覆盖:")
		for _, c := range s.Data.TickPairs {
			fmt.Fprintf(w, "    - %s %s ~ %s (%d 行)\n", c.Pair, c.From.Format(time.DateTime), c.To.Format(time.DateTime), c.Rows)
		}
	}
	for _, imp := range s.Imports {
		fmt.Fprintf(w, "  导入 %s: %s (%d 行)\n", imp.Kind, imp.Path, imp.Rows)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[回测 (BACKTEST)]")
	fmt.Fprintf(w, "  并发: %d  价格模式: %s  同根触价: %s\n", s.Backtest.Workers, s.Backtest.PriceMode, s.Backtest.TieBreak)
	fmt.Fprintf(w, "  异常交易日上限: %.0f%%\n", s.Backtest.MaxErrorDayRatio*100)
	if s.Backtest.From != "" {
		fmt.Fprintf(w, "  区间: %s ~ %s  货币对: %s\n", s.Backtest.From, s.Backtest.To, formatList(s.Backtest.Pairs))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[风险分层 (RISK LAYERS)]")
	fmt.Fprintf(w, "  BASE   SL %d / TP %d pips\n", s.Risk.BaseStopLoss, s.Risk.BaseTakeProfit)
	fmt.Fprintf(w, "  EXPAND SL %d / TP %d pips\n", s.Risk.ExpandStopLoss, s.Risk.ExpandTakeProfit)
	fmt.Fprintf(w, "  ATR    SL ATR14×%.2f / TP SL×%.2f\n", s.Risk.ATRMultiplier, s.Risk.ATRRewardRatio)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[货币对 (PAIRS)]")
	pairs := make([]string, 0, len(s.Pips))
	for p := range s.Pips {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	for _, p := range pairs {
		pc := s.Pips[p]
		fmt.Fprintf(w, "  %-8s pip=%g ×%g\n", strings.ToUpper(p), pc.PipValue, pc.PipMultiplier)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
