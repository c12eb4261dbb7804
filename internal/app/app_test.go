package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	brcfg "fxlayer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,bid,ask\n")
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		px := 150.0
		if i >= 5 {
			px = 150.16
		}
		fmt.Fprintf(&b, "%s,%.3f,%.3f\n", start.Add(time.Duration(i)*time.Minute).Format(time.DateTime), px, px)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usdjpy_ticks.csv"), []byte(b.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signals_20250106.csv"),
		[]byte("pair,direction,entry_time,exit_time\nUSDJPY,LONG,09:00,09:30\n"), 0o644))
}

func loadConfig(t *testing.T, dir string) *brcfg.Config {
	t.Helper()
	body := fmt.Sprintf(`app:
  env: test
data:
  timezone: UTC
  tick_root: %[1]s/ticks
  result_root: %[1]s/results
  signal_db: %[1]s/signals.db
  imports:
    - kind: ticks
      pair: USDJPY
      path: %[1]s/usdjpy_*.csv
    - kind: signals
      path: %[1]s/signals_*.csv
backtest:
  workers: 2
  from: "2025-01-06"
  summary_path: %[1]s/out/summary.yaml
`, filepath.ToSlash(dir))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := brcfg.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestAppRunOnce(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	cfg := loadConfig(t, dir)

	a, err := NewApp(cfg, WithoutHTTP())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Summary)
	assert.Len(t, a.Summary.Imports, 2)
	require.Len(t, a.Summary.Data.TickPairs, 1)
	assert.EqualValues(t, 60, a.Summary.Data.TickPairs[0].Rows)
	assert.EqualValues(t, 1, a.Summary.Data.Signals)

	var out bytes.Buffer
	a.Summary.Write(&out)
	assert.Contains(t, out.String(), "USDJPY")
	assert.Contains(t, out.String(), "BASE   SL 8 / TP 14 pips")

	report, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, 14.0, report.Trades[0].Pips)
	assert.FileExists(t, filepath.Join(dir, "out", "summary.yaml"))
}

func TestAppRunWithoutServer(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	cfg := loadConfig(t, dir)

	a, err := NewApp(cfg, WithoutHTTP())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))

	runs, err := a.backtest.results.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Trades)
}

func TestAppImportMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir)
	_, err := NewApp(cfg, WithoutHTTP())
	assert.ErrorContains(t, err, "no file matches")
}

func TestNewAppNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}
