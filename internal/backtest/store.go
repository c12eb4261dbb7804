package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/pkg/symbol"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个货币对报价文件的统计信息。
type Manifest struct {
	Pair       string `json:"pair"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	BidRows    int64  `json:"bid_rows"`
	AskRows    int64  `json:"ask_rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// TickStore 每个货币对一个 sqlite 文件，按毫秒时间戳存储 bid/ask OHLC。
type TickStore struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewTickStore(root string) (*TickStore, error) {
	if root == "" {
		return nil, fmt.Errorf("tick root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &TickStore{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *TickStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *TickStore) db(pair string) (*sql.DB, string, error) {
	key := symbol.Normalize(pair)
	if key == "" {
		return nil, "", fmt.Errorf("pair 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dbPath(key)
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureTickSchema(db, key); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *TickStore) dbPath(pair string) string {
	return filepath.Join(s.root, pair, "ticks.db")
}

// Pairs 返回 root 下已有报价文件的货币对。
func (s *TickStore) Pairs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || !symbol.IsValid(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), "ticks.db")); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func nullable(v float64, ok bool) any {
	if !ok || !(v > 0) {
		return nil
	}
	return v
}

// InsertTicks 批量写入报价（重复时间戳将被覆盖）。缺失的一侧写入 NULL。
func (s *TickStore) InsertTicks(ctx context.Context, pair string, quotes fx.QuoteSides, ticks []fx.PriceTick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	db, _, err := s.db(pair)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ticks (ts, open_bid, high_bid, low_bid, close_bid, open_ask, high_ask, low_ask, close_ask)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts) DO UPDATE SET
		    open_bid=excluded.open_bid,
		    high_bid=excluded.high_bid,
		    low_bid=excluded.low_bid,
		    close_bid=excluded.close_bid,
		    open_ask=excluded.open_ask,
		    high_ask=excluded.high_ask,
		    low_ask=excluded.low_ask,
		    close_ask=excluded.close_ask`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	bid, ask := quotes.HasBid(), quotes.HasAsk()
	count := 0
	for _, t := range ticks {
		if _, err := stmt.ExecContext(ctx, t.Time.UnixMilli(),
			nullable(t.OpenBid, bid), nullable(t.HighBid, bid), nullable(t.LowBid, bid), nullable(t.CloseBid, bid),
			nullable(t.OpenAsk, ask), nullable(t.HighAsk, ask), nullable(t.LowAsk, ask), nullable(t.CloseAsk, ask),
		); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// DaySeries 读取 day 所在时区的自然日报价，并根据非空列判断报价侧。
func (s *TickStore) DaySeries(ctx context.Context, pair string, day time.Time) (fx.PriceSeries, error) {
	key := symbol.Normalize(pair)
	if _, err := os.Stat(s.dbPath(key)); err != nil {
		return fx.PriceSeries{}, fmt.Errorf("%w: %s %s", ErrNoData, key, fx.DayKey(day))
	}
	db, _, err := s.db(key)
	if err != nil {
		return fx.PriceSeries{}, err
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	rows, err := db.QueryContext(ctx, `
		SELECT ts, open_bid, high_bid, low_bid, close_bid, open_ask, high_ask, low_ask, close_ask
		FROM ticks WHERE ts >= ? AND ts < ?
		ORDER BY ts ASC`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return fx.PriceSeries{}, err
	}
	defer rows.Close()
	series := fx.PriceSeries{Pair: key, Day: start}
	var hasBid, hasAsk bool
	for rows.Next() {
		var ts int64
		var ob, hb, lb, cb, oa, ha, la, ca sql.NullFloat64
		if err := rows.Scan(&ts, &ob, &hb, &lb, &cb, &oa, &ha, &la, &ca); err != nil {
			return fx.PriceSeries{}, err
		}
		hasBid = hasBid || cb.Valid
		hasAsk = hasAsk || ca.Valid
		series.Ticks = append(series.Ticks, fx.PriceTick{
			Time:    time.UnixMilli(ts).In(day.Location()),
			OpenBid: ob.Float64, HighBid: hb.Float64, LowBid: lb.Float64, CloseBid: cb.Float64,
			OpenAsk: oa.Float64, HighAsk: ha.Float64, LowAsk: la.Float64, CloseAsk: ca.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return fx.PriceSeries{}, err
	}
	switch {
	case hasBid && hasAsk:
		series.Quotes = fx.QuoteBoth
	case hasBid:
		series.Quotes = fx.QuoteBidOnly
	case hasAsk:
		series.Quotes = fx.QuoteAskOnly
	default:
		return fx.PriceSeries{}, fmt.Errorf("%w: %s %s", ErrNoData, key, fx.DayKey(day))
	}
	return series, nil
}

func (s *TickStore) Manifest(ctx context.Context, pair string) (Manifest, error) {
	db, path, err := s.db(pair)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT pair,min_time,max_time,rows,bid_rows,ask_rows,last_sync_at FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Pair, &m.MinTime, &m.MaxTime, &m.Rows, &m.BidRows, &m.AskRows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func (s *TickStore) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(ts), 0) FROM ticks),
		    max_time = (SELECT COALESCE(MAX(ts), 0) FROM ticks),
		    rows = (SELECT COUNT(1) FROM ticks),
		    bid_rows = (SELECT COUNT(close_bid) FROM ticks),
		    ask_rows = (SELECT COUNT(close_ask) FROM ticks),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureTickSchema(db *sql.DB, pair string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			ts        INTEGER PRIMARY KEY,
			open_bid  REAL,
			high_bid  REAL,
			low_bid   REAL,
			close_bid REAL,
			open_ask  REAL,
			high_ask  REAL,
			low_ask   REAL,
			close_ask REAL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			pair TEXT NOT NULL,
			min_time INTEGER DEFAULT 0,
			max_time INTEGER DEFAULT 0,
			rows INTEGER DEFAULT 0,
			bid_rows INTEGER DEFAULT 0,
			ask_rows INTEGER DEFAULT 0,
			last_sync_at INTEGER DEFAULT 0
		);`,
		`INSERT INTO manifest (id, pair) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET pair=excluded.pair;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, pair)
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
