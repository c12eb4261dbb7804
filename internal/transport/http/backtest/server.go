package backtesthttp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fxlayer/internal/backtest"
	"fxlayer/internal/fx"
	"fxlayer/internal/market"
	"fxlayer/internal/pkg/symbol"
	"fxlayer/internal/signals"

	"github.com/gin-gonic/gin"
)

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr    string
	runs    *backtest.RunService
	results *backtest.ResultStore
	ticks   *backtest.TickStore
	signals *signals.Store
	loc     *time.Location
	router  *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖。Ticks/Signals 可为空；Location 用于解析 day 参数，默认 UTC。
type Config struct {
	Addr     string
	Runs     *backtest.RunService
	Results  *backtest.ResultStore
	Ticks    *backtest.TickStore
	Signals  *signals.Store
	Location *time.Location
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("run service 不能为空")
	}
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		runs:    cfg.Runs,
		results: cfg.Results,
		ticks:   cfg.Ticks,
		signals: cfg.Signals,
		loc:     cfg.Location,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试或挂载到其他 server。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.POST("/runs/:id/cancel", s.handleRunCancel)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/skips", s.handleRunSkips)
	api.GET("/data", s.handleManifests)
	api.GET("/data/:pair", s.handleManifest)
	api.GET("/candles", s.handleCandles)
	api.GET("/signals/days", s.handleSignalDays)
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runs.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunCancel(c *gin.Context) {
	id := c.Param("id")
	if !s.runs.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run 不在运行中"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "canceled": true})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	day := c.Query("day")
	if day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day 需为 YYYY-MM-DD"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"), day, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunSkips(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	skips, err := s.results.ListSkips(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"skips": skips})
}

func (s *Server) handleManifests(c *gin.Context) {
	if s.ticks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报价存储未启用"})
		return
	}
	pairs, err := s.ticks.Pairs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	list := make([]backtest.Manifest, 0, len(pairs))
	for _, p := range pairs {
		m, err := s.ticks.Manifest(c.Request.Context(), p)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		list = append(list, m)
	}
	c.JSON(http.StatusOK, gin.H{"manifests": list})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.ticks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报价存储未启用"})
		return
	}
	pair := c.Param("pair")
	if !symbol.IsValid(pair) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知货币对"})
		return
	}
	known, err := s.ticks.Pairs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	code := symbol.Normalize(pair)
	found := false
	for _, p := range known {
		if p == code {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data for " + code})
		return
	}
	m, err := s.ticks.Manifest(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": m})
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.ticks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报价存储未启用"})
		return
	}
	pair := c.Query("pair")
	if !symbol.IsValid(pair) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pair 必填且需为货币对"})
		return
	}
	day, err := fx.ParseDay(c.Query("day"), s.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "5m"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	series, err := s.ticks.DaySeries(c.Request.Context(), symbol.Normalize(pair), day)
	if errors.Is(err, backtest.ErrNoData) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	bars := market.Resample(series, tf.Duration)
	c.JSON(http.StatusOK, gin.H{
		"pair":      series.Pair,
		"day":       fx.DayKey(day),
		"timeframe": tf.Key,
		"quotes":    series.Quotes.String(),
		"summary":   bars.Snapshot(tf.Key),
		"candles":   bars,
	})
}

func (s *Server) handleSignalDays(c *gin.Context) {
	if s.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "信号存储未启用"})
		return
	}
	days, err := s.signals.Days(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
