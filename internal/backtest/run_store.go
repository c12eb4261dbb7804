package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fxlayer/internal/fx"

	_ "modernc.org/sqlite"
)

// ResultStore 管理 backtest_runs/trades/skips 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			from_day TEXT NOT NULL,
			to_day TEXT NOT NULL,
			trades INTEGER NOT NULL DEFAULT 0,
			skips INTEGER NOT NULL DEFAULT 0,
			total_pips REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			progress_json TEXT,
			summary_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			signal_id TEXT,
			day TEXT NOT NULL,
			pair TEXT NOT NULL,
			direction TEXT NOT NULL,
			layer TEXT NOT NULL,
			entry_clock TEXT NOT NULL,
			exit_clock TEXT NOT NULL,
			entry_at INTEGER NOT NULL,
			exit_at INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			pips REAL NOT NULL,
			outcome TEXT NOT NULL,
			stop_loss_pips INTEGER NOT NULL,
			take_profit_pips INTEGER NOT NULL,
			max_favorable_pips REAL NOT NULL DEFAULT 0,
			max_adverse_pips REAL NOT NULL DEFAULT 0,
			time_adjusted INTEGER NOT NULL DEFAULT 0,
			window_fallback INTEGER NOT NULL DEFAULT 0,
			meta_json TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_skips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			day TEXT NOT NULL,
			pair TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_clock TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id, day, entry_clock);`,
		`CREATE INDEX IF NOT EXISTS idx_skips_run ON backtest_skips(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, status, from_day, to_day, config_json, progress_json, message, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.From, run.To, string(cfgJSON), string(progressJSON),
		run.Message, now, now, nullableTime(run.CompletedAt))
	return err
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func completedAt(status string, now int64) interface{} {
	switch status {
	case RunStatusDone, RunStatusFailed, RunStatusCanceled:
		return now
	}
	return nil
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	completed := completedAt(status, now)
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`, status, message, now, completed, completed, id)
	return err
}

// UpdateRunProgress 更新进度快照。
func (s *ResultStore) UpdateRunProgress(ctx context.Context, id string, progress Progress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs SET progress_json=?, updated_at=? WHERE id=?`,
		string(raw), time.Now().UnixMilli(), id)
	return err
}

// UpdateRunSummary 更新状态、汇总指标与最终进度。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, summary Summary, progress Progress, message string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	completed := completedAt(status, now)
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, trades=?, skips=?, total_pips=?, win_rate=?, summary_json=?, progress_json=?,
		    message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, summary.Overall.Trades, progress.Skipped, summary.Overall.TotalPips, summary.Overall.WinRate,
		string(summaryJSON), string(progressJSON), message, now, completed, completed, id)
	return err
}

// SaveUnit 在同一事务中写入一个处理单元的交易与跳过记录。
func (s *ResultStore) SaveUnit(ctx context.Context, runID string, trades []fx.TradeResult, skips []Skip) error {
	if len(trades) == 0 && len(skips) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, t := range trades {
		var metaJSON interface{}
		if len(t.Meta) > 0 {
			raw, err := json.Marshal(t.Meta)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			metaJSON = string(raw)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_trades
				(run_id, signal_id, day, pair, direction, layer, entry_clock, exit_clock, entry_at, exit_at,
				 entry_price, exit_price, exit_reason, pips, outcome, stop_loss_pips, take_profit_pips,
				 max_favorable_pips, max_adverse_pips, time_adjusted, window_fallback, meta_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, t.SignalID, fx.DayKey(t.Day), t.Pair, string(t.Direction), string(t.Layer), t.EntryClock, t.ExitClock,
			t.EntryAt.UnixMilli(), t.ExitAt.UnixMilli(), t.EntryPrice, t.ExitPrice, string(t.ExitReason), t.Pips,
			string(t.Outcome), t.StopLossPips, t.TakeProfitPips, t.MaxFavorablePips, t.MaxAdversePips,
			boolInt(t.TimeAdjusted), boolInt(t.WindowFallback), metaJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, sk := range skips {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_skips (run_id, day, pair, direction, entry_clock, reason, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, fx.DayKey(sk.Day), sk.Pair, string(sk.Direction), sk.EntryClock, string(sk.Reason), sk.Detail); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const runColumns = `id, status, from_day, to_day, trades, skips, total_pips, win_rate,
	config_json, progress_json, summary_json, message, created_at, updated_at, completed_at`

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id)
	return scanRun(row)
}

// ListTrades 按交易日、入场时刻升序返回；day 为空表示全部。
func (s *ResultStore) ListTrades(ctx context.Context, runID, day string, limit int) ([]fx.TradeResult, error) {
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, day, pair, direction, layer, entry_clock, exit_clock, entry_at, exit_at,
		       entry_price, exit_price, exit_reason, pips, outcome, stop_loss_pips, take_profit_pips,
		       max_favorable_pips, max_adverse_pips, time_adjusted, window_fallback, meta_json
		FROM backtest_trades
		WHERE run_id=? AND (?='' OR day=?)
		ORDER BY day ASC, entry_clock ASC, pair ASC, id ASC
		LIMIT ?`, runID, day, day, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]fx.TradeResult, 0)
	for rows.Next() {
		var t fx.TradeResult
		var signalID, metaStr sql.NullString
		var dayStr, dir, layer, reason, outcome string
		var entryAt, exitAt int64
		var adjusted, fallback int
		if err := rows.Scan(&signalID, &dayStr, &t.Pair, &dir, &layer, &t.EntryClock, &t.ExitClock,
			&entryAt, &exitAt, &t.EntryPrice, &t.ExitPrice, &reason, &t.Pips, &outcome,
			&t.StopLossPips, &t.TakeProfitPips, &t.MaxFavorablePips, &t.MaxAdversePips,
			&adjusted, &fallback, &metaStr); err != nil {
			return nil, err
		}
		t.SignalID = signalID.String
		t.Day, _ = time.Parse(time.DateOnly, dayStr)
		t.Direction = fx.Direction(dir)
		t.Layer = fx.Layer(layer)
		t.ExitReason = fx.ExitReason(reason)
		t.Outcome = fx.Outcome(outcome)
		t.EntryAt = timeFromMillis(entryAt)
		t.ExitAt = timeFromMillis(exitAt)
		t.TimeAdjusted = adjusted != 0
		t.WindowFallback = fallback != 0
		if metaStr.Valid && metaStr.String != "" {
			if err := json.Unmarshal([]byte(metaStr.String), &t.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListSkips(ctx context.Context, runID string, limit int) ([]Skip, error) {
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, pair, direction, entry_clock, reason, detail
		FROM backtest_skips
		WHERE run_id=?
		ORDER BY id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Skip, 0)
	for rows.Next() {
		var sk Skip
		var dayStr, dir, reason string
		var detail sql.NullString
		if err := rows.Scan(&dayStr, &sk.Pair, &dir, &sk.EntryClock, &reason, &detail); err != nil {
			return nil, err
		}
		sk.Day, _ = time.Parse(time.DateOnly, dayStr)
		sk.Direction = fx.Direction(dir)
		sk.Reason = SkipReason(reason)
		sk.Detail = detail.String
		out = append(out, sk)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var cfgStr string
	var progressStr, summaryStr, message sql.NullString
	var createdAt, updatedAt int64
	var completed sql.NullInt64
	if err := row.Scan(&run.ID, &run.Status, &run.From, &run.To, &run.Trades, &run.Skips,
		&run.TotalPips, &run.WinRate, &cfgStr, &progressStr, &summaryStr, &message,
		&createdAt, &updatedAt, &completed); err != nil {
		return Run{}, err
	}
	run.Message = message.String
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completed.Valid {
		run.CompletedAt = timeFromMillis(completed.Int64)
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return Run{}, err
	}
	if progressStr.Valid && progressStr.String != "" {
		if err := json.Unmarshal([]byte(progressStr.String), &run.Progress); err != nil {
			return Run{}, err
		}
	}
	if summaryStr.Valid && summaryStr.String != "" {
		var summary Summary
		if err := json.Unmarshal([]byte(summaryStr.String), &summary); err != nil {
			return Run{}, err
		}
		run.Summary = &summary
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
