package signals

import (
	"gorm.io/datatypes"
)

// SignalModel 入场信号表，(day, pair, direction, entry_clock) 唯一。
type SignalModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SignalID      string         `gorm:"column:signal_id"`
	Day           string         `gorm:"column:day;uniqueIndex:idx_signal_key,priority:1;index"`
	Pair          string         `gorm:"column:pair;uniqueIndex:idx_signal_key,priority:2"`
	Direction     string         `gorm:"column:direction;uniqueIndex:idx_signal_key,priority:3"`
	EntryClock    string         `gorm:"column:entry_clock;uniqueIndex:idx_signal_key,priority:4"`
	ExitClock     string         `gorm:"column:exit_clock"`
	MetaJSON      datatypes.JSON `gorm:"column:meta_json;type:TEXT"`
	Source        string         `gorm:"column:source"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (SignalModel) TableName() string { return "entry_signals" }
