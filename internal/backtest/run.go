package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending  = "pending"
	RunStatusRunning  = "running"
	RunStatusDone     = "done"
	RunStatusFailed   = "failed"
	RunStatusCanceled = "canceled"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	Pairs          []string `json:"pairs,omitempty"`
	Workers        int      `json:"workers"`
	PriceMode      string   `json:"price_mode"`
	TieBreak       string   `json:"tie_break"`
	FallbackSpread float64  `json:"fallback_spread"`
	Notes          string   `json:"notes,omitempty"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Trades      int       `json:"trades"`
	Skips       int       `json:"skips"`
	TotalPips   float64   `json:"total_pips"`
	WinRate     float64   `json:"win_rate"`
	Message     string    `json:"message"`
	Config      RunConfig `json:"config"`
	Progress    Progress  `json:"progress"`
	Summary     *Summary  `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Finished 终态：done/failed/canceled。
func (r Run) Finished() bool {
	switch r.Status {
	case RunStatusDone, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// StartRequest 为 HTTP 提交使用，日期格式 YYYY-MM-DD。
type StartRequest struct {
	From  string   `json:"from" binding:"required"`
	To    string   `json:"to" binding:"required"`
	Pairs []string `json:"pairs"`
	Notes string   `json:"notes"`
}
