// Package signals 负责入场信号的导入、存储与按交易日查询。
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store 基于 gorm 的信号表，实现 backtest.SignalProvider。
type Store struct {
	db  *gorm.DB
	loc *time.Location
}

func NewStore(path string, loc *time.Location) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("signal db path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewStoreFromDB(db, loc)
}

func NewStoreFromDB(db *gorm.DB, loc *time.Location) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := db.AutoMigrate(&SignalModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &Store{db: db, loc: loc}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(sig fx.EntrySignal, source string) (SignalModel, error) {
	m := SignalModel{
		SignalID:      sig.ID,
		Day:           fx.DayKey(sig.Day),
		Pair:          sig.Pair,
		Direction:     string(sig.Direction),
		EntryClock:    sig.EntryClock,
		ExitClock:     sig.ExitClock,
		Source:        source,
		CreatedAtUnix: time.Now().Unix(),
	}
	if len(sig.Meta) > 0 {
		raw, err := json.Marshal(sig.Meta)
		if err != nil {
			return SignalModel{}, err
		}
		m.MetaJSON = datatypes.JSON(raw)
	}
	return m, nil
}

// Insert 写入信号；同一交易日、货币对、方向、入场时刻的信号会被覆盖。
func (s *Store) Insert(ctx context.Context, source string, sigs []fx.EntrySignal) (int, error) {
	if len(sigs) == 0 {
		return 0, nil
	}
	models := make([]SignalModel, 0, len(sigs))
	for _, sig := range sigs {
		m, err := toModel(sig, source)
		if err != nil {
			return 0, err
		}
		models = append(models, m)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}, {Name: "pair"}, {Name: "direction"}, {Name: "entry_clock"}},
		DoUpdates: clause.AssignmentColumns([]string{"signal_id", "exit_clock", "meta_json", "source"}),
	}).CreateInBatches(models, 200).Error
	if err != nil {
		return 0, err
	}
	return len(models), nil
}

// SignalsForDay 按入场时刻、货币对排序返回。无法解析的记录记日志后跳过。
func (s *Store) SignalsForDay(ctx context.Context, day time.Time) ([]fx.EntrySignal, error) {
	var rows []SignalModel
	err := s.db.WithContext(ctx).
		Where("day = ?", fx.DayKey(day)).
		Order("entry_clock ASC, pair ASC, direction ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]fx.EntrySignal, 0, len(rows))
	for _, row := range rows {
		sig, err := s.fromModel(row)
		if err != nil {
			logger.Warnf("[signals] 跳过信号 id=%d: %v", row.ID, err)
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

func (s *Store) fromModel(m SignalModel) (fx.EntrySignal, error) {
	day, err := fx.ParseDay(m.Day, s.loc)
	if err != nil {
		return fx.EntrySignal{}, err
	}
	dir, err := fx.ParseDirection(m.Direction)
	if err != nil {
		return fx.EntrySignal{}, err
	}
	sig, err := fx.NewEntrySignal(day, m.Pair, dir, m.EntryClock, m.ExitClock)
	if err != nil {
		return fx.EntrySignal{}, err
	}
	sig.ID = m.SignalID
	if sig.ID == "" {
		sig.ID = fmt.Sprintf("%d", m.ID)
	}
	if len(m.MetaJSON) > 0 {
		if err := json.Unmarshal(m.MetaJSON, &sig.Meta); err != nil {
			return fx.EntrySignal{}, err
		}
	}
	return sig, nil
}

// Days 返回有信号的交易日（升序）。
func (s *Store) Days(ctx context.Context) ([]string, error) {
	var days []string
	err := s.db.WithContext(ctx).Model(&SignalModel{}).
		Distinct("day").Order("day ASC").Pluck("day", &days).Error
	return days, err
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&SignalModel{}).Count(&n).Error
	return n, err
}
