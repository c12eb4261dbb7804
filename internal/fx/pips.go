package fx

import (
	"math"
	"sort"
	"sync"

	"fxlayer/internal/pkg/symbol"

	"github.com/shopspring/decimal"
)

// PipSpec 一个货币对的最小报价单位与换算倍数。
type PipSpec struct {
	Value      float64 `json:"pip_value"`
	Multiplier float64 `json:"pip_multiplier"`
}

var (
	jpySpec   = PipSpec{Value: 0.01, Multiplier: 100}
	majorSpec = PipSpec{Value: 0.0001, Multiplier: 10000}
)

// DefaultPipSpecs 常用货币对的 pip 设置。
func DefaultPipSpecs() map[string]PipSpec {
	return map[string]PipSpec{
		"USDJPY": jpySpec,
		"EURJPY": jpySpec,
		"GBPJPY": jpySpec,
		"AUDJPY": jpySpec,
		"CHFJPY": jpySpec,
		"CADJPY": jpySpec,
		"NZDJPY": jpySpec,
		"EURUSD": majorSpec,
		"GBPUSD": majorSpec,
		"AUDUSD": majorSpec,
		"NZDUSD": majorSpec,
		"USDCHF": majorSpec,
	}
}

// PipTable 按货币对查询 pip 设置，未登记的货币对按计价货币是否为 JPY 推断。
type PipTable struct {
	mu    sync.RWMutex
	specs map[string]PipSpec
}

func NewPipTable(specs map[string]PipSpec) *PipTable {
	t := &PipTable{specs: make(map[string]PipSpec, len(specs))}
	for pair, spec := range specs {
		t.Set(pair, spec)
	}
	return t
}

// Set 登记或覆盖一个货币对；非正数字段按默认规则补齐。
func (t *PipTable) Set(pair string, spec PipSpec) {
	key := symbol.Normalize(pair)
	if key == "" {
		return
	}
	def := inferSpec(key)
	if spec.Value <= 0 {
		spec.Value = def.Value
	}
	if spec.Multiplier <= 0 {
		spec.Multiplier = def.Multiplier
	}
	t.mu.Lock()
	t.specs[key] = spec
	t.mu.Unlock()
}

func (t *PipTable) Spec(pair string) PipSpec {
	key := symbol.Normalize(pair)
	if t != nil {
		t.mu.RLock()
		spec, ok := t.specs[key]
		t.mu.RUnlock()
		if ok {
			return spec
		}
	}
	return inferSpec(key)
}

// Pairs 返回已登记的货币对（排序后）。
func (t *PipTable) Pairs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.specs))
	for k := range t.specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func inferSpec(pair string) PipSpec {
	if symbol.IsJPYQuote(pair) {
		return jpySpec
	}
	return majorSpec
}

// Pips 计算带方向的 pips，四舍五入到 0.1。
func (t *PipTable) Pips(entry, exit float64, pair string, dir Direction) float64 {
	return PipsWith(t.Spec(pair), entry, exit, dir)
}

// PipsWith 使用十进制运算，避免 150.10-150.00 之类的浮点误差影响舍入。
func PipsWith(spec PipSpec, entry, exit float64, dir Direction) float64 {
	if !finite(entry) || !finite(exit) {
		return 0
	}
	delta := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if dir == Short {
		delta = delta.Neg()
	}
	out, _ := delta.Mul(decimal.NewFromFloat(spec.Multiplier)).Round(1).Float64()
	return out
}

// PriceAt 返回距 entry 指定 pips 的价格（正值远离 entry 向上）。
func PriceAt(spec PipSpec, entry float64, pips int) decimal.Decimal {
	return decimal.NewFromFloat(entry).Add(decimal.NewFromInt(int64(pips)).Mul(decimal.NewFromFloat(spec.Value)))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
