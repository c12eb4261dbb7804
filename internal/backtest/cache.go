package backtest

import (
	"sync"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/market"
)

// DayEntry 单个 (货币对, 交易日) 的报价、快照与阈值，创建后只读。
type DayEntry struct {
	Series     fx.PriceSeries
	Conditions []market.Condition
	Thresholds market.Thresholds
}

type dayKey struct {
	pair string
	day  string
}

// DayCache 由调用方持有的 (货币对, 交易日) 缓存，处理单元结束后调用 Evict 释放。
type DayCache struct {
	mu      sync.Mutex
	entries map[dayKey]*DayEntry
}

func NewDayCache() *DayCache {
	return &DayCache{entries: make(map[dayKey]*DayEntry)}
}

func (c *DayCache) Get(pair string, day time.Time) (*DayEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[dayKey{pair: pair, day: fx.DayKey(day)}]
	return e, ok
}

func (c *DayCache) Put(pair string, day time.Time, e *DayEntry) {
	c.mu.Lock()
	c.entries[dayKey{pair: pair, day: fx.DayKey(day)}] = e
	c.mu.Unlock()
}

func (c *DayCache) Evict(pair string, day time.Time) {
	c.mu.Lock()
	delete(c.entries, dayKey{pair: pair, day: fx.DayKey(day)})
	c.mu.Unlock()
}

func (c *DayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
