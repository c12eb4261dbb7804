package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe K 线周期。
type Timeframe struct {
	Key      string
	Duration time.Duration
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q (supported: %s)", input, strings.Join(SupportedTimeframes(), ", "))
	}
	return tf, nil
}

// SupportedTimeframes 按周期长度排序。
func SupportedTimeframes() []string {
	tfs := make([]Timeframe, 0, len(supportedTimeframes))
	for _, tf := range supportedTimeframes {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Duration < tfs[j].Duration })
	keys := make([]string, len(tfs))
	for i, tf := range tfs {
		keys[i] = tf.Key
	}
	return keys
}

// ExpectedCandles 一个交易日内该周期的 K 线根数上限。
func (tf Timeframe) ExpectedCandles() int {
	if tf.Duration <= 0 {
		return 0
	}
	return int(24 * time.Hour / tf.Duration)
}
