package signals

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"
	"fxlayer/internal/pkg/convert"
	"fxlayer/internal/pkg/csvtable"
	"fxlayer/internal/pkg/symbol"
)

var (
	dateColumns      = []string{"date", "day", "trade_date"}
	pairColumns      = []string{"currency_pair", "pair", "currency", "currencypair", "symbol", "通貨ペア"}
	directionColumns = []string{"direction", "dir", "side", "type", "方向"}
	entryColumns     = []string{"entry_time", "entry", "entrytime", "エントリー時刻", "エントリー"}
	exitColumns      = []string{"exit_time", "exit", "exittime", "エグジット時刻", "エグジット"}
	idColumns        = []string{"id", "signal_id"}

	dayInName = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}|\d{8})`)
)

// LoadCSV 解析信号 CSV。没有日期列时所有行使用 day；
// 其余可解析为数字的列作为元数据透传。
func LoadCSV(r io.Reader, day time.Time, loc *time.Location) ([]fx.EntrySignal, error) {
	if loc == nil {
		loc = time.UTC
	}
	tbl, err := csvtable.New(r)
	if err != nil {
		return nil, err
	}
	dateIdx := tbl.Column(dateColumns...)
	pairIdx := tbl.Column(pairColumns...)
	dirIdx := tbl.Column(directionColumns...)
	entryIdx := tbl.Column(entryColumns...)
	exitIdx := tbl.Column(exitColumns...)
	idIdx := tbl.Column(idColumns...)
	if pairIdx < 0 || dirIdx < 0 || entryIdx < 0 || exitIdx < 0 {
		return nil, fmt.Errorf("signal csv: 需要 pair/direction/entry_time/exit_time 列，实际 %v", tbl.Names())
	}
	if dateIdx < 0 && day.IsZero() {
		return nil, fmt.Errorf("signal csv: 缺少日期列且未指定交易日")
	}
	known := map[int]bool{dateIdx: true, pairIdx: true, dirIdx: true, entryIdx: true, exitIdx: true, idIdx: true}
	names := tbl.Names()

	var out []fx.EntrySignal
	for {
		row, err := tbl.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rowDay := day
		if raw := row.Get(dateIdx); raw != "" {
			if rowDay, err = fx.ParseDay(raw, loc); err != nil {
				return nil, fmt.Errorf("line %d: %w", row.Line, err)
			}
		}
		pair := row.Get(pairIdx)
		if !symbol.IsValid(pair) {
			return nil, fmt.Errorf("line %d: invalid pair %q", row.Line, pair)
		}
		dir, err := fx.ParseDirection(row.Get(dirIdx))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", row.Line, err)
		}
		sig, err := fx.NewEntrySignal(rowDay, symbol.Normalize(pair), dir, row.Get(entryIdx), row.Get(exitIdx))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", row.Line, err)
		}
		sig.ID = row.Get(idIdx)
		for i, name := range names {
			if known[i] || name == "" {
				continue
			}
			if v, ok := convert.Float64(row.Get(i)); ok {
				if sig.Meta == nil {
					sig.Meta = make(map[string]float64)
				}
				sig.Meta[name] = v
			}
		}
		out = append(out, sig)
	}
	return out, nil
}

// DayFromFilename 从文件名中提取 2025-01-06 或 20250106 形式的交易日。
func DayFromFilename(path string, loc *time.Location) (time.Time, bool) {
	base := filepath.Base(path)
	m := dayInName.FindString(strings.TrimSuffix(base, filepath.Ext(base)))
	if m == "" {
		return time.Time{}, false
	}
	day, err := fx.ParseDay(m, loc)
	return day, err == nil
}

// LoadFile 读取单个信号文件；day 为零值时尝试从文件名推断。
func LoadFile(path string, day time.Time, loc *time.Location) ([]fx.EntrySignal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if day.IsZero() {
		day, _ = DayFromFilename(path, loc)
	}
	sigs, err := LoadCSV(f, day, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Infof("[signals] 读取 %s：%d 条信号", path, len(sigs))
	return sigs, nil
}
