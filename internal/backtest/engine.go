package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"
	"fxlayer/internal/market"
	"fxlayer/internal/pkg/symbol"
	"fxlayer/internal/strategy"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type EngineConfig struct {
	Prices           PriceProvider
	Signals          SignalProvider
	Sink             ResultSink
	Pips             *fx.PipTable
	Resolver         *strategy.Resolver
	Workers          int
	Mode             PriceMode
	TieBreak         TieBreak
	FallbackSpread   float64
	MaxErrorDayRatio float64
	EntryGapWarn     time.Duration
}

// Engine 以 (货币对, 交易日) 为单元并行回放信号。
type Engine struct {
	prices   PriceProvider
	signals  SignalProvider
	sink     ResultSink
	pips     *fx.PipTable
	resolver *strategy.Resolver

	workers          int
	mode             PriceMode
	tieBreak         TieBreak
	extract          market.ExtractOptions
	maxErrorDayRatio float64
	entryGapWarn     time.Duration
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price provider 不能为空")
	}
	if cfg.Signals == nil {
		return nil, fmt.Errorf("signal provider 不能为空")
	}
	if cfg.Pips == nil {
		cfg.Pips = fx.NewPipTable(fx.DefaultPipSpecs())
	}
	if cfg.Resolver == nil {
		cfg.Resolver = strategy.NewResolver(strategy.DefaultResolverConfig())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxErrorDayRatio <= 0 || cfg.MaxErrorDayRatio > 1 {
		cfg.MaxErrorDayRatio = 0.5
	}
	if cfg.EntryGapWarn <= 0 {
		cfg.EntryGapWarn = time.Hour
	}
	return &Engine{
		prices:           cfg.Prices,
		signals:          cfg.Signals,
		sink:             cfg.Sink,
		pips:             cfg.Pips,
		resolver:         cfg.Resolver,
		workers:          cfg.Workers,
		mode:             cfg.Mode,
		tieBreak:         cfg.TieBreak,
		extract:          market.ExtractOptions{FallbackSpread: cfg.FallbackSpread},
		maxErrorDayRatio: cfg.MaxErrorDayRatio,
		entryGapWarn:     cfg.EntryGapWarn,
	}, nil
}

// RunRequest From/To 为闭区间交易日；Pairs 为空表示不过滤。Sink 为空时使用 Engine 的默认 sink。
type RunRequest struct {
	ID       string
	From     time.Time
	To       time.Time
	Pairs    []string
	Sink     ResultSink
	Progress func(Progress)
}

// Progress 运行进度快照。
type Progress struct {
	Days        int `json:"days"`
	DaysDone    int `json:"days_done"`
	Units       int `json:"units"`
	UnitsDone   int `json:"units_done"`
	FailedUnits int `json:"failed_units"`
	ErrorDays   int `json:"error_days"`
	Trades      int `json:"trades"`
	Skipped     int `json:"skipped"`
}

// UnitError 失败的处理单元。Pair 为空表示整日信号加载失败。
type UnitError struct {
	Pair  string    `json:"pair,omitempty"`
	Day   time.Time `json:"day"`
	Error string    `json:"error"`
}

// Report 一次回测的完整结果；取消或提前终止时只包含已完成单元。
type Report struct {
	RunID      string           `json:"run_id"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Trades     []fx.TradeResult `json:"trades"`
	Skips      []Skip           `json:"skips"`
	Summary    Summary          `json:"summary"`
	Progress   Progress         `json:"progress"`
	UnitErrors []UnitError      `json:"unit_errors,omitempty"`
	Canceled   bool             `json:"canceled"`
	Aborted    bool             `json:"aborted"`
}

type runState struct {
	mu        sync.Mutex
	progress  Progress
	errors    []UnitError
	errorDays map[string]struct{}
	notify    func(Progress)
}

func (s *runState) update(fn func(p *Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	snap := s.progress
	s.mu.Unlock()
	if s.notify != nil {
		s.notify(snap)
	}
}

func (s *runState) fail(pair string, day time.Time, err error) {
	s.mu.Lock()
	s.errors = append(s.errors, UnitError{Pair: pair, Day: day, Error: err.Error()})
	s.mu.Unlock()
}

// markErrorDay 记录出现异常 (信号读取失败或 panic) 的交易日；缺少报价不计入。
func (s *runState) markErrorDay(day time.Time) {
	s.mu.Lock()
	if s.errorDays == nil {
		s.errorDays = make(map[string]struct{})
	}
	s.errorDays[fx.DayKey(day)] = struct{}{}
	s.progress.ErrorDays = len(s.errorDays)
	s.mu.Unlock()
}

func (s *runState) snapshot() (Progress, []UnitError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := append([]UnitError(nil), s.errors...)
	return s.progress, errs
}

// shouldAbort 异常交易日超过计划交易日总数的 ratio。
func (s *runState) shouldAbort(ratio float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.progress.Days
	if total == 0 {
		return false
	}
	return float64(len(s.errorDays)) > float64(total)*ratio
}

// Run 回放 [From, To] 内的全部信号。返回的 Report 总是非空；
// ctx 取消时返回 ctx.Err()；异常交易日过多而提前停止调度时返回 ErrTooManyFailures。
// 缺少报价的单元只记为失败单元，其余单元照常回放。
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Report, error) {
	if req.To.Before(req.From) {
		return nil, fmt.Errorf("to 不能早于 from")
	}
	runID := req.ID
	if runID == "" {
		runID = uuid.NewString()
	}
	days := tradingDays(req.From, req.To)
	filter := pairFilter(req.Pairs)
	agg := NewAggregator()
	cache := NewDayCache()
	sink := req.Sink
	if sink == nil {
		sink = e.sink
	}
	state := &runState{notify: req.Progress}
	state.update(func(p *Progress) { p.Days = len(days) })

	logger.Infof("[backtest] run=%s 开始回测 %s ~ %s，共 %d 个交易日，并发 %d",
		runID, fx.DayKey(req.From), fx.DayKey(req.To), len(days), e.workers)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)
	aborted := false
schedule:
	for _, day := range days {
		if gctx.Err() != nil {
			break
		}
		if state.shouldAbort(e.maxErrorDayRatio) {
			aborted = true
			break
		}
		signals, err := e.signals.SignalsForDay(gctx, day)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			logger.Errorf("[backtest] run=%s %s 读取信号失败: %v", runID, fx.DayKey(day), err)
			state.fail("", day, err)
			state.markErrorDay(day)
			state.update(func(p *Progress) { p.Units++; p.UnitsDone++; p.FailedUnits++; p.DaysDone++ })
			continue
		}
		units := groupByPair(signals, filter)
		pairs := make([]string, 0, len(units))
		for pair := range units {
			pairs = append(pairs, pair)
		}
		sort.Strings(pairs)
		for _, pair := range pairs {
			if state.shouldAbort(e.maxErrorDayRatio) {
				aborted = true
				break schedule
			}
			if gctx.Err() != nil {
				break schedule
			}
			pair, day, sigs := pair, day, units[pair]
			state.update(func(p *Progress) { p.Units++ })
			group.Go(func() error {
				e.runUnit(gctx, runID, sink, cache, agg, state, pair, day, sigs)
				return nil
			})
		}
		state.update(func(p *Progress) { p.DaysDone++ })
	}
	_ = group.Wait()

	progress, unitErrs := state.snapshot()
	report := &Report{
		RunID:      runID,
		From:       req.From,
		To:         req.To,
		Trades:     agg.Trades(),
		Skips:      agg.Skips(),
		Progress:   progress,
		UnitErrors: unitErrs,
	}
	report.Summary = Aggregate(report.Trades)

	if err := ctx.Err(); err != nil {
		report.Canceled = true
		logger.Warnf("[backtest] run=%s 已取消，保留 %d 个已完成单元", runID, progress.UnitsDone)
		return report, err
	}
	if aborted {
		report.Aborted = true
		logger.Errorf("[backtest] run=%s 异常交易日过多 (%d/%d)，停止回放", runID, progress.ErrorDays, progress.Days)
		return report, fmt.Errorf("%w: %d of %d days errored", ErrTooManyFailures, progress.ErrorDays, progress.Days)
	}
	logger.Infof("[backtest] run=%s 完成：%d 笔交易，%d 条跳过，%d 个失败单元",
		runID, len(report.Trades), len(report.Skips), progress.FailedUnits)
	return report, nil
}

// runUnit 处理单个 (货币对, 交易日)。单元失败只记录，不影响其他单元。
func (e *Engine) runUnit(ctx context.Context, runID string, sink ResultSink, cache *DayCache, agg *Aggregator, state *runState, pair string, day time.Time, sigs []fx.EntrySignal) {
	defer cache.Evict(pair, day)
	var trades []fx.TradeResult
	var skips []Skip
	failed := false
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[backtest] run=%s %s %s 单元 panic: %v\n%s", runID, pair, fx.DayKey(day), r, debug.Stack())
			state.fail(pair, day, fmt.Errorf("%w: panic: %v", ErrSimulationFailure, r))
			state.markErrorDay(day)
			failed = true
			trades = nil
			skips = skipAll(sigs, SkipSimulationFailure, ErrSimulationFailure)
		}
		agg.Add(trades...)
		agg.AddSkip(skips...)
		if sink != nil && (len(trades) > 0 || len(skips) > 0) {
			if err := sink.SaveUnit(context.WithoutCancel(ctx), runID, trades, skips); err != nil {
				logger.Warnf("[backtest] run=%s %s %s 结果写入失败: %v", runID, pair, fx.DayKey(day), err)
			}
		}
		state.update(func(p *Progress) {
			p.UnitsDone++
			if failed {
				p.FailedUnits++
			}
			p.Trades += len(trades)
			p.Skipped += len(skips)
		})
	}()

	entry, err := e.loadDay(ctx, cache, pair, day)
	if err != nil {
		logger.Errorf("[backtest] run=%s %s %s 加载失败: %v", runID, pair, fx.DayKey(day), err)
		state.fail(pair, day, err)
		failed = true
		skips = skipAll(sigs, SkipMissingData, err)
		return
	}
	for _, sig := range sigs {
		trade, skip := e.processSignal(entry, sig)
		if skip != nil {
			logger.Warnf("[backtest] %s %s %s %s 跳过: %s %s", sig.Pair, fx.DayKey(sig.Day), sig.EntryClock, sig.Direction, skip.Reason, skip.Detail)
			skips = append(skips, *skip)
			continue
		}
		trades = append(trades, trade)
	}
}

func (e *Engine) loadDay(ctx context.Context, cache *DayCache, pair string, day time.Time) (*DayEntry, error) {
	if entry, ok := cache.Get(pair, day); ok {
		return entry, nil
	}
	series, err := e.prices.DaySeries(ctx, pair, day)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	series.Normalize()
	if series.Empty() {
		return nil, ErrNoData
	}
	conds := market.Extract(series, e.extract)
	th, err := market.ComputeThresholds(conds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	entry := &DayEntry{Series: series, Conditions: conds, Thresholds: th}
	cache.Put(pair, day, entry)
	return entry, nil
}

// processSignal 单条信号：定位入场价 -> 分层 -> 止损止盈 -> 模拟。任何失败都转为 Skip。
func (e *Engine) processSignal(entry *DayEntry, sig fx.EntrySignal) (trade fx.TradeResult, skip *Skip) {
	defer func() {
		if r := recover(); r != nil {
			s := newSkip(sig, SkipSimulationFailure, fmt.Errorf("%w: panic: %v", ErrSimulationFailure, r))
			trade, skip = fx.TradeResult{}, &s
		}
	}()
	series := entry.Series
	idx := series.NearestIndex(sig.EntryAt)
	price, ok := series.EntryPrice(idx, sig.Direction)
	if !ok {
		s := newSkip(sig, SkipNoEntryPrice, fmt.Errorf("no usable entry price near %s", sig.EntryClock))
		return fx.TradeResult{}, &s
	}
	entryTick := series.Ticks[idx]
	if gap := entryTick.Time.Sub(sig.EntryAt).Abs(); gap > e.entryGapWarn {
		logger.Warnf("[backtest] %s %s 入场时间 %s 与最近报价相差 %s", sig.Pair, fx.DayKey(sig.Day), sig.EntryClock, gap)
	}

	cond, _ := market.ConditionAt(entry.Conditions, sig.EntryAt)
	layer := strategy.Classify(cond.Snapshot, sig.Direction, entry.Thresholds)
	spec := e.pips.Spec(sig.Pair)
	risk := e.resolver.Resolve(layer, cond.Snapshot.ATR14*spec.Multiplier)

	sim, err := Simulate(SimulationInput{
		Series:     series,
		EntryAt:    sig.EntryAt,
		ExitAt:     sig.ExitAt,
		EntryPrice: price,
		Direction:  sig.Direction,
		Risk:       risk,
		Pip:        spec,
		Mode:       e.mode,
		TieBreak:   e.tieBreak,
	})
	if err != nil {
		reason := SkipSimulationFailure
		if errors.Is(err, ErrNoData) {
			reason = SkipMissingData
		}
		s := newSkip(sig, reason, err)
		return fx.TradeResult{}, &s
	}
	return BuildTrade(sig, layer, risk, price, entryTick.Time, sim, spec), nil
}

func skipAll(sigs []fx.EntrySignal, reason SkipReason, err error) []Skip {
	out := make([]Skip, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, newSkip(sig, reason, err))
	}
	return out
}

func tradingDays(from, to time.Time) []time.Time {
	y, m, d := from.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, from.Location())
	var out []time.Time
	for !cur.After(to) {
		out = append(out, cur)
		cur = cur.AddDate(0, 0, 1)
	}
	return out
}

func pairFilter(pairs []string) map[string]struct{} {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(pairs))
	for _, p := range symbol.NormalizeList(pairs) {
		out[p] = struct{}{}
	}
	return out
}

func groupByPair(signals []fx.EntrySignal, filter map[string]struct{}) map[string][]fx.EntrySignal {
	out := make(map[string][]fx.EntrySignal)
	for _, sig := range signals {
		pair := symbol.Normalize(sig.Pair)
		if filter != nil {
			if _, ok := filter[pair]; !ok {
				continue
			}
		}
		sig.Pair = pair
		out[pair] = append(out[pair], sig)
	}
	return out
}
