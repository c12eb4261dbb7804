package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fxlayer/internal/fx"
	"fxlayer/internal/logger"
	"fxlayer/internal/pkg/symbol"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RunServiceConfig 配置 RunService。
type RunServiceConfig struct {
	Engine        *Engine
	Results       *ResultStore
	Location      *time.Location
	Defaults      RunConfig
	MaxConcurrent int
	// ProgressEvery 进度写库的最小间隔，默认 1s。
	ProgressEvery time.Duration
}

// RunService 负责创建回测任务、后台执行并持久化状态。
type RunService struct {
	engine   *Engine
	results  *ResultStore
	loc      *time.Location
	defaults RunConfig
	every    time.Duration

	sem     chan struct{}
	baseCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunService(cfg RunServiceConfig) (*RunService, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	every := cfg.ProgressEvery
	if every <= 0 {
		every = time.Second
	}
	return &RunService{
		engine:   cfg.Engine,
		results:  cfg.Results,
		loc:      loc,
		defaults: cfg.Defaults,
		every:    every,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

func (s *RunService) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *RunService) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// prepare 校验请求并写入 pending 状态的 run。
func (s *RunService) prepare(ctx context.Context, req StartRequest) (Run, RunRequest, error) {
	from, err := fx.ParseDay(req.From, s.loc)
	if err != nil {
		return Run{}, RunRequest{}, fmt.Errorf("from 无效: %w", err)
	}
	to, err := fx.ParseDay(req.To, s.loc)
	if err != nil {
		return Run{}, RunRequest{}, fmt.Errorf("to 无效: %w", err)
	}
	if to.Before(from) {
		return Run{}, RunRequest{}, fmt.Errorf("to 不能早于 from")
	}
	pairs := symbol.NormalizeList(req.Pairs)
	for _, p := range pairs {
		if !symbol.IsValid(p) {
			return Run{}, RunRequest{}, fmt.Errorf("未知货币对: %s", p)
		}
	}
	cfg := s.defaults
	cfg.From = fx.DayKey(from)
	cfg.To = fx.DayKey(to)
	cfg.Pairs = pairs
	cfg.Notes = req.Notes
	run := Run{
		ID:     uuid.NewString(),
		Status: RunStatusPending,
		From:   cfg.From,
		To:     cfg.To,
		Config: cfg,
	}
	if err := s.results.InsertRun(ctx, run); err != nil {
		return Run{}, RunRequest{}, err
	}
	return run, RunRequest{ID: run.ID, From: from, To: to, Pairs: pairs}, nil
}

// StartRun 创建回测任务并立即返回，回放过程在后台进行。
func (s *RunService) StartRun(req StartRequest) (Run, error) {
	run, rr, err := s.prepare(s.ctx(), req)
	if err != nil {
		return Run{}, err
	}
	ctx, cancel := context.WithCancel(s.ctx())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(run.ID)
		select {
		case s.sem <- struct{}{}:
		default:
			logger.Warnf("[backtest] run %s 等待可用 worker", run.ID)
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				_ = s.results.UpdateRunStatus(context.Background(), run.ID, RunStatusCanceled, "排队时已取消")
				return
			}
		}
		defer func() { <-s.sem }()
		_, _ = s.execute(ctx, rr)
	}()
	return run, nil
}

// RunSync 同步执行一次回测，结果同样持久化。
func (s *RunService) RunSync(ctx context.Context, req StartRequest) (Run, *Report, error) {
	run, rr, err := s.prepare(ctx, req)
	if err != nil {
		return Run{}, nil, err
	}
	report, err := s.execute(ctx, rr)
	if stored, gerr := s.results.GetRun(context.Background(), run.ID); gerr == nil {
		run = stored
	}
	return run, report, err
}

// Cancel 取消运行中或排队中的任务。
func (s *RunService) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait 等待所有后台任务结束。
func (s *RunService) Wait() {
	s.wg.Wait()
}

func (s *RunService) release(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

func (s *RunService) execute(ctx context.Context, rr RunRequest) (*Report, error) {
	// 状态写入不跟随任务取消，保证终态能落库。
	store := context.WithoutCancel(ctx)
	_ = s.results.UpdateRunStatus(store, rr.ID, RunStatusRunning, "回放信号…")
	limiter := rate.NewLimiter(rate.Every(s.every), 1)
	rr.Progress = func(p Progress) {
		if !limiter.Allow() {
			return
		}
		if err := s.results.UpdateRunProgress(store, rr.ID, p); err != nil {
			logger.Warnf("[backtest] run %s 进度写入失败: %v", rr.ID, err)
		}
	}
	rr.Sink = s.results
	report, err := s.engine.Run(ctx, rr)
	if report == nil {
		logger.Warnf("[backtest] run %s 失败: %v", rr.ID, err)
		_ = s.results.UpdateRunStatus(store, rr.ID, RunStatusFailed, err.Error())
		return nil, err
	}
	status, message := RunStatusDone, fmt.Sprintf("完成：%d 笔交易，%d 条跳过", len(report.Trades), len(report.Skips))
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status, message = RunStatusCanceled, "已取消"
	case err != nil:
		status, message = RunStatusFailed, err.Error()
	}
	if uerr := s.results.UpdateRunSummary(store, rr.ID, status, report.Summary, report.Progress, message); uerr != nil {
		logger.Warnf("[backtest] run %s 汇总写入失败: %v", rr.ID, uerr)
	}
	return report, err
}
