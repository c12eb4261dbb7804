package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"
	"fxlayer/internal/pkg/convert"
	"fxlayer/internal/pkg/csvtable"
	"fxlayer/internal/pkg/symbol"
)

var tickTimeLayouts = []string{
	time.RFC3339Nano,
	time.DateTime,
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"20060102 15:04:05",
}

type tickColumns struct {
	time, date                    int
	openBid, highBid, lowBid, bid int
	openAsk, highAsk, lowAsk, ask int
}

func locateTickColumns(t *csvtable.Table) (tickColumns, error) {
	c := tickColumns{
		time:    t.Column("time", "timestamp", "datetime", "date_time", "日時", "時刻"),
		date:    t.Column("date", "day"),
		openBid: t.Column("open_bid", "bid_open", "open(bid)", "始値(bid)"),
		highBid: t.Column("high_bid", "bid_high", "high(bid)", "高値(bid)"),
		lowBid:  t.Column("low_bid", "bid_low", "low(bid)", "安値(bid)"),
		bid:     t.Column("close_bid", "bid_close", "close(bid)", "終値(bid)", "bid"),
		openAsk: t.Column("open_ask", "ask_open", "open(ask)", "始値(ask)"),
		highAsk: t.Column("high_ask", "ask_high", "high(ask)", "高値(ask)"),
		lowAsk:  t.Column("low_ask", "ask_low", "low(ask)", "安値(ask)"),
		ask:     t.Column("close_ask", "ask_close", "close(ask)", "終値(ask)", "ask"),
	}
	if c.time < 0 {
		return c, fmt.Errorf("tick csv: 缺少时间列")
	}
	if c.bid < 0 && c.ask < 0 {
		return c, fmt.Errorf("tick csv: 至少需要 close_bid 或 close_ask 列")
	}
	return c, nil
}

func (c tickColumns) quotes() fx.QuoteSides {
	switch {
	case c.bid >= 0 && c.ask >= 0:
		return fx.QuoteBoth
	case c.bid >= 0:
		return fx.QuoteBidOnly
	default:
		return fx.QuoteAskOnly
	}
}

// price 列不存在或不可解析时退化到 close 列。
func price(row csvtable.Row, idx, closeIdx int) float64 {
	if v, ok := convert.Float64(row.Get(idx)); ok && v > 0 {
		return v
	}
	if v, ok := convert.Float64(row.Get(closeIdx)); ok && v > 0 {
		return v
	}
	return 0
}

// ParseTickTime 支持 unix 秒/毫秒与常见日期时间格式；无时区的时间按 loc 解析。
func ParseTickTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	}
	for _, layout := range tickTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid tick time %q", raw)
}

// ReadTickCSV 解析标准化的报价 CSV。date 列存在且时间列只有时刻时两者拼接。
func ReadTickCSV(r io.Reader, pair string, loc *time.Location) (fx.PriceSeries, error) {
	if loc == nil {
		loc = time.UTC
	}
	tbl, err := csvtable.New(r)
	if err != nil {
		return fx.PriceSeries{}, err
	}
	cols, err := locateTickColumns(tbl)
	if err != nil {
		return fx.PriceSeries{}, err
	}
	series := fx.PriceSeries{Pair: symbol.Normalize(pair), Quotes: cols.quotes()}
	for {
		row, err := tbl.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fx.PriceSeries{}, err
		}
		rawTime := row.Get(cols.time)
		if d := row.Get(cols.date); d != "" && !strings.ContainsAny(rawTime, "-/") {
			day, err := fx.ParseDay(d, loc)
			if err != nil {
				return fx.PriceSeries{}, fmt.Errorf("line %d: %w", row.Line, err)
			}
			ts, _, err := fx.AtClock(day, rawTime)
			if err != nil {
				return fx.PriceSeries{}, fmt.Errorf("line %d: %w", row.Line, err)
			}
			rawTime = ts.Format(time.RFC3339Nano)
		}
		ts, err := ParseTickTime(rawTime, loc)
		if err != nil {
			return fx.PriceSeries{}, fmt.Errorf("line %d: %w", row.Line, err)
		}
		series.Ticks = append(series.Ticks, fx.PriceTick{
			Time:     ts,
			OpenBid:  price(row, cols.openBid, cols.bid),
			HighBid:  price(row, cols.highBid, cols.bid),
			LowBid:   price(row, cols.lowBid, cols.bid),
			CloseBid: price(row, cols.bid, cols.bid),
			OpenAsk:  price(row, cols.openAsk, cols.ask),
			HighAsk:  price(row, cols.highAsk, cols.ask),
			LowAsk:   price(row, cols.lowAsk, cols.ask),
			CloseAsk: price(row, cols.ask, cols.ask),
		})
	}
	series.Normalize()
	if !series.Empty() {
		first, _ := series.Bounds()
		y, m, d := first.Date()
		series.Day = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return series, nil
}

// ImportTickFile 读取 CSV 文件并写入 TickStore。
func ImportTickFile(ctx context.Context, store *TickStore, pair, path string, loc *time.Location) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	series, err := ReadTickCSV(f, pair, loc)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	n, err := store.InsertTicks(ctx, series.Pair, series.Quotes, series.Ticks)
	if err != nil {
		return n, err
	}
	logger.Infof("[backtest] 导入报价 %s %s：%d 行 (%s)", series.Pair, path, n, series.Quotes)
	return n, nil
}
