package fx

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntrySignal 一条入场信号。EntryAt/ExitAt 已按交易日与时区解析为绝对时间。
type EntrySignal struct {
	ID         string             `json:"id,omitempty"`
	Day        time.Time          `json:"day"`
	Pair       string             `json:"pair"`
	Direction  Direction          `json:"direction"`
	EntryClock string             `json:"entry_clock"`
	ExitClock  string             `json:"exit_clock"`
	EntryAt    time.Time          `json:"entry_at"`
	ExitAt     time.Time          `json:"exit_at"`
	Meta       map[string]float64 `json:"meta,omitempty"`
}

// DayKey 返回 YYYY-MM-DD 格式的交易日。
func DayKey(day time.Time) string {
	return day.Format(time.DateOnly)
}

// ParseDay 接受 2025-01-06、20250106、2025/01/06。
func ParseDay(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.DateOnly, "20060102", "2006/01/02"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid day %q", raw)
}

// ParseClock 解析 HH:MM 或 HH:MM:SS，返回规范化的 HH:MM:SS 与当日偏移。
func ParseClock(raw string) (string, time.Duration, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", 0, fmt.Errorf("invalid clock %q", raw)
	}
	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > limits[i] {
			return "", 0, fmt.Errorf("invalid clock %q", raw)
		}
		vals[i] = v
	}
	offset := time.Duration(vals[0])*time.Hour + time.Duration(vals[1])*time.Minute + time.Duration(vals[2])*time.Second
	return fmt.Sprintf("%02d:%02d:%02d", vals[0], vals[1], vals[2]), offset, nil
}

// AtClock 把交易日与时刻组合为绝对时间。
func AtClock(day time.Time, clock string) (time.Time, string, error) {
	norm, offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, "", err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(offset), norm, nil
}

// NewEntrySignal 组装信号；exit 早于 entry 时视为跨日平仓。
func NewEntrySignal(day time.Time, pair string, dir Direction, entryClock, exitClock string) (EntrySignal, error) {
	if !dir.Valid() {
		return EntrySignal{}, fmt.Errorf("invalid direction %q", dir)
	}
	entryAt, entryNorm, err := AtClock(day, entryClock)
	if err != nil {
		return EntrySignal{}, fmt.Errorf("entry time: %w", err)
	}
	exitAt, exitNorm, err := AtClock(day, exitClock)
	if err != nil {
		return EntrySignal{}, fmt.Errorf("exit time: %w", err)
	}
	if exitAt.Before(entryAt) {
		exitAt = exitAt.AddDate(0, 0, 1)
	}
	y, m, d := day.Date()
	return EntrySignal{
		Day:        time.Date(y, m, d, 0, 0, 0, 0, day.Location()),
		Pair:       pair,
		Direction:  dir,
		EntryClock: entryNorm,
		ExitClock:  exitNorm,
		EntryAt:    entryAt,
		ExitAt:     exitAt,
	}, nil
}
