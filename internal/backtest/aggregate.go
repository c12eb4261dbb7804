package backtest

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"fxlayer/internal/fx"

	"github.com/shopspring/decimal"
)

// GroupStats 一个分组（分层 / 货币对 / 方向）的统计。WinRate 取值 0~1。
type GroupStats struct {
	Trades       int     `json:"trades" yaml:"trades"`
	Wins         int     `json:"wins" yaml:"wins"`
	Losses       int     `json:"losses" yaml:"losses"`
	Evens        int     `json:"evens" yaml:"evens"`
	TotalPips    float64 `json:"total_pips" yaml:"total_pips"`
	AvgPips      float64 `json:"avg_pips" yaml:"avg_pips"`
	WinRate      float64 `json:"win_rate" yaml:"win_rate"`
	GrossWin     float64 `json:"gross_win" yaml:"gross_win"`
	GrossLoss    float64 `json:"gross_loss" yaml:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor" yaml:"profit_factor"`
}

// Summary 全部交易的汇总；分组统计与交易顺序无关。
type Summary struct {
	Overall              GroupStats            `json:"overall" yaml:"overall"`
	ByLayer              map[string]GroupStats `json:"by_layer" yaml:"by_layer"`
	ByPair               map[string]GroupStats `json:"by_pair" yaml:"by_pair"`
	ByDirection          map[string]GroupStats `json:"by_direction" yaml:"by_direction"`
	ExitReasons          map[fx.ExitReason]int `json:"exit_reasons" yaml:"exit_reasons"`
	MaxWinPips           float64               `json:"max_win_pips" yaml:"max_win_pips"`
	MaxLossPips          float64               `json:"max_loss_pips" yaml:"max_loss_pips"`
	MaxConsecutiveWins   int                   `json:"max_consecutive_wins" yaml:"max_consecutive_wins"`
	MaxConsecutiveLosses int                   `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	Days                 int                   `json:"days" yaml:"days"`
	BestDayPips          float64               `json:"best_day_pips" yaml:"best_day_pips"`
	WorstDayPips         float64               `json:"worst_day_pips" yaml:"worst_day_pips"`
	DailyVolatility      float64               `json:"daily_volatility" yaml:"daily_volatility"`
	Sharpe               float64               `json:"sharpe" yaml:"sharpe"`
	TimeAdjusted         int                   `json:"time_adjusted" yaml:"time_adjusted"`
	WindowFallbacks      int                   `json:"window_fallbacks" yaml:"window_fallbacks"`
}

type groupAcc struct {
	trades, wins, losses, evens int
	total, grossWin, grossLoss  decimal.Decimal
}

func (g *groupAcc) add(t fx.TradeResult) {
	p := decimal.NewFromFloat(t.Pips)
	g.trades++
	g.total = g.total.Add(p)
	switch {
	case p.IsPositive():
		g.wins++
		g.grossWin = g.grossWin.Add(p)
	case p.IsNegative():
		g.losses++
		g.grossLoss = g.grossLoss.Add(p.Abs())
	default:
		g.evens++
	}
}

func (g *groupAcc) stats() GroupStats {
	out := GroupStats{
		Trades:    g.trades,
		Wins:      g.wins,
		Losses:    g.losses,
		Evens:     g.evens,
		TotalPips: decToFloat(g.total),
		GrossWin:  decToFloat(g.grossWin),
		GrossLoss: decToFloat(g.grossLoss),
	}
	if g.trades > 0 {
		n := decimal.NewFromInt(int64(g.trades))
		out.AvgPips = decToFloat(g.total.DivRound(n, 4))
		out.WinRate = decToFloat(decimal.NewFromInt(int64(g.wins)).DivRound(n, 6))
	}
	// 无亏损时盈亏比取总盈利 pips
	if g.grossLoss.IsPositive() {
		out.ProfitFactor = decToFloat(g.grossWin.DivRound(g.grossLoss, 4))
	} else {
		out.ProfitFactor = out.GrossWin
	}
	return out
}

// Aggregate 计算分组统计与整体风险指标。
func Aggregate(trades []fx.TradeResult) Summary {
	var overall groupAcc
	layers := map[string]*groupAcc{}
	pairs := map[string]*groupAcc{}
	dirs := map[string]*groupAcc{}
	daily := map[string]decimal.Decimal{}
	s := Summary{
		ExitReasons: map[fx.ExitReason]int{},
	}
	for _, t := range trades {
		overall.add(t)
		accFor(layers, string(t.Layer)).add(t)
		accFor(pairs, t.Pair).add(t)
		accFor(dirs, string(t.Direction)).add(t)
		s.ExitReasons[t.ExitReason]++
		key := fx.DayKey(t.Day)
		daily[key] = daily[key].Add(decimal.NewFromFloat(t.Pips))
		if t.TimeAdjusted {
			s.TimeAdjusted++
		}
		if t.WindowFallback {
			s.WindowFallbacks++
		}
		if t.Pips > s.MaxWinPips {
			s.MaxWinPips = t.Pips
		}
		if t.Pips < s.MaxLossPips {
			s.MaxLossPips = t.Pips
		}
	}
	s.Overall = overall.stats()
	s.ByLayer = statsOf(layers)
	s.ByPair = statsOf(pairs)
	s.ByDirection = statsOf(dirs)
	s.MaxConsecutiveWins, s.MaxConsecutiveLosses = streaks(trades)
	applyDailyStats(&s, daily)
	return s
}

func accFor(m map[string]*groupAcc, key string) *groupAcc {
	if acc, ok := m[key]; ok {
		return acc
	}
	acc := &groupAcc{}
	m[key] = acc
	return acc
}

func statsOf(m map[string]*groupAcc) map[string]GroupStats {
	out := make(map[string]GroupStats, len(m))
	for k, acc := range m {
		out[k] = acc.stats()
	}
	return out
}

// streaks 按交易日、入场时刻排序后统计最长连胜/连败，平局打断连续。
func streaks(trades []fx.TradeResult) (int, int) {
	ordered := slices.Clone(trades)
	sort.SliceStable(ordered, func(i, j int) bool { return tradeLess(ordered[i], ordered[j]) })
	var maxWin, maxLoss, curWin, curLoss int
	for _, t := range ordered {
		switch fx.OutcomeOf(t.Pips) {
		case fx.Win:
			curWin++
			curLoss = 0
		case fx.Loss:
			curLoss++
			curWin = 0
		default:
			curWin, curLoss = 0, 0
		}
		maxWin = max(maxWin, curWin)
		maxLoss = max(maxLoss, curLoss)
	}
	return maxWin, maxLoss
}

func tradeLess(a, b fx.TradeResult) bool {
	if !a.Day.Equal(b.Day) {
		return a.Day.Before(b.Day)
	}
	if a.EntryClock != b.EntryClock {
		return a.EntryClock < b.EntryClock
	}
	if a.Pair != b.Pair {
		return a.Pair < b.Pair
	}
	if a.Direction != b.Direction {
		return a.Direction < b.Direction
	}
	if a.SignalID != b.SignalID {
		return a.SignalID < b.SignalID
	}
	if a.ExitReason != b.ExitReason {
		return a.ExitReason < b.ExitReason
	}
	return a.Pips < b.Pips
}

// applyDailyStats 日度最大盈亏、样本标准差与简易夏普（单笔平均 pips / 日度波动）。
func applyDailyStats(s *Summary, daily map[string]decimal.Decimal) {
	s.Days = len(daily)
	if s.Days == 0 {
		return
	}
	keys := make([]string, 0, len(daily))
	for k := range daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = decToFloat(daily[k])
	}
	s.BestDayPips, s.WorstDayPips = values[0], values[0]
	mean := 0.0
	for _, v := range values {
		s.BestDayPips = math.Max(s.BestDayPips, v)
		s.WorstDayPips = math.Min(s.WorstDayPips, v)
		mean += v
	}
	if len(values) < 2 {
		return
	}
	mean /= float64(len(values))
	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	s.DailyVolatility = math.Sqrt(ss / float64(len(values)-1))
	if s.DailyVolatility > 0 {
		s.Sharpe = s.Overall.AvgPips / s.DailyVolatility
	}
}

// Text 生成可读的多行汇总，用于日志输出。
func (s Summary) Text() string {
	var b strings.Builder
	o := s.Overall
	fmt.Fprintf(&b, "交易数：%d（胜 %d / 负 %d / 平 %d），胜率 %.1f%%\n", o.Trades, o.Wins, o.Losses, o.Evens, o.WinRate*100)
	fmt.Fprintf(&b, "总 pips：%.1f，平均 %.2f，盈亏比 %.2f\n", o.TotalPips, o.AvgPips, o.ProfitFactor)
	fmt.Fprintf(&b, "最大盈利 %.1f / 最大亏损 %.1f，最长连胜 %d / 连败 %d\n", s.MaxWinPips, s.MaxLossPips, s.MaxConsecutiveWins, s.MaxConsecutiveLosses)
	fmt.Fprintf(&b, "交易日 %d，日度最好 %.1f / 最差 %.1f，日度波动 %.2f，夏普 %.3f\n", s.Days, s.BestDayPips, s.WorstDayPips, s.DailyVolatility, s.Sharpe)
	for _, layer := range fx.Layers() {
		if g, ok := s.ByLayer[string(layer)]; ok {
			fmt.Fprintf(&b, "- %s：%d 笔，%.1f pips，胜率 %.1f%%，盈亏比 %.2f\n", layer, g.Trades, g.TotalPips, g.WinRate*100, g.ProfitFactor)
		}
	}
	reasons := []fx.ExitReason{fx.ExitTakeProfit, fx.ExitStopLoss, fx.ExitTime}
	for _, r := range reasons {
		if n := s.ExitReasons[r]; n > 0 && o.Trades > 0 {
			fmt.Fprintf(&b, "- %s：%d（%.1f%%）\n", r, n, float64(n)*100/float64(o.Trades))
		}
	}
	return b.String()
}

// Aggregator 回测期间收集交易结果与跳过记录，可并发写入。
type Aggregator struct {
	mu     sync.Mutex
	trades []fx.TradeResult
	skips  []Skip
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Add(trades ...fx.TradeResult) {
	a.mu.Lock()
	a.trades = append(a.trades, trades...)
	a.mu.Unlock()
}

func (a *Aggregator) AddSkip(skips ...Skip) {
	a.mu.Lock()
	a.skips = append(a.skips, skips...)
	a.mu.Unlock()
}

// Merge 合并另一个聚合器（例如单个处理单元的局部结果）。
func (a *Aggregator) Merge(other *Aggregator) {
	if other == nil || other == a {
		return
	}
	trades, skips := other.Trades(), other.Skips()
	a.mu.Lock()
	a.trades = append(a.trades, trades...)
	a.skips = append(a.skips, skips...)
	a.mu.Unlock()
}

// Trades 返回按交易日、入场时刻排序的副本。
func (a *Aggregator) Trades() []fx.TradeResult {
	a.mu.Lock()
	out := slices.Clone(a.trades)
	a.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return tradeLess(out[i], out[j]) })
	return out
}

func (a *Aggregator) Skips() []Skip {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.skips)
}

func (a *Aggregator) Summary() Summary {
	return Aggregate(a.Trades())
}
