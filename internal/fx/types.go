// Package fx 定义回测核心共享的领域类型。
package fx

import (
	"fmt"
	"strings"
)

// Direction 持仓方向。BUY/SELL 等别名只在数据导入时解析。
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection 不区分大小写地解析 LONG/BUY/SHORT/SELL 及日文写法。
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY", "L", "B", "ロング", "買い", "買":
		return Long, nil
	case "SHORT", "SELL", "S", "ショート", "売り", "売":
		return Short, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

func (d Direction) Valid() bool { return d == Long || d == Short }

// Sign LONG 为 +1，SHORT 为 -1。
func (d Direction) Sign() int {
	if d == Short {
		return -1
	}
	return 1
}

// Layer 风险分层。
type Layer string

const (
	LayerBase   Layer = "BASE"
	LayerExpand Layer = "EXPAND"
	LayerATR    Layer = "ATR"
)

// Layers 返回固定顺序的全部分层，用于稳定输出。
func Layers() []Layer { return []Layer{LayerBase, LayerExpand, LayerATR} }

// ExitReason 平仓原因。
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitTime       ExitReason = "TIME_EXIT"
)

// Outcome 单笔交易结果。
type Outcome string

const (
	Win  Outcome = "WIN"
	Loss Outcome = "LOSS"
	Even Outcome = "EVEN"
)

// OutcomeOf 按 pips 符号判定胜负。
func OutcomeOf(pips float64) Outcome {
	switch {
	case pips > 0:
		return Win
	case pips < 0:
		return Loss
	default:
		return Even
	}
}
