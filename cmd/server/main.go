// Package main serves opening-range backtests over a REST API: submit a run,
// poll its status, download the trade list.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"orb-backtest/services/clickhouse"
	"orb-backtest/services/engine"
	"orb-backtest/strategies"
)

type runRequest struct {
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	CSVPath  string `json:"csv_path,omitempty"`
	Start    string `json:"start,omitempty"` // RFC3339; ClickHouse source only
	End      string `json:"end,omitempty"`
}

// runJob is the shared record for one background run. The handlers read it
// while execute writes it, so every access goes through the mutex.
type runJob struct {
	mu        sync.Mutex
	id        string
	status    string // running, completed, failed
	errMsg    string
	summary   *engine.Summary
	trades    []engine.TradeRecord
	startedAt time.Time
}

// jobView is the JSON shape of a job at one point in time.
type jobView struct {
	ID        string          `json:"job_id"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Summary   *engine.Summary `json:"summary,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

func (j *runJob) view() jobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return jobView{ID: j.id, Status: j.status, Error: j.errMsg, Summary: j.summary, StartedAt: j.startedAt}
}

func (j *runJob) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = "failed"
	j.errMsg = err.Error()
}

func (j *runJob) complete(summary engine.Summary, trades []engine.TradeRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = "completed"
	j.summary = &summary
	j.trades = trades
}

// result returns the status and, when completed, the trade list.
func (j *runJob) result() (string, []engine.TradeRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.trades
}

type backtestServer struct {
	store *clickhouse.Store // nil when serving CSV-only
	log   *zap.Logger

	jobs sync.Map // job id -> *runJob
}

func (s *backtestServer) routes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleSubmit)
		api.GET("/backtest/:job_id", s.handleStatus)
		api.GET("/backtest/:job_id/trades", s.handleTrades)
		api.GET("/health", s.handleHealth)
	}
}

func (s *backtestServer) handleSubmit(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CSVPath == "" && s.store == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csv_path required without a ClickHouse backend"})
		return
	}

	cfg, err := strategies.Preset(req.Strategy, req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := &runJob{id: uuid.New().String(), status: "running", startedAt: time.Now()}
	s.jobs.Store(job.id, job)
	s.log.Info("backtest submitted",
		zap.String("job_id", job.id),
		zap.String("strategy", req.Strategy),
		zap.String("symbol", req.Symbol))

	go s.execute(job, req, cfg)
	c.JSON(http.StatusAccepted, job.view())
}

func (s *backtestServer) execute(job *runJob, req runRequest, cfg engine.Config) {
	fail := func(err error) {
		job.fail(err)
		s.log.Error("backtest failed", zap.String("job_id", job.id), zap.Error(err))
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fail(err)
		return
	}

	var series *engine.Series
	if req.CSVPath != "" {
		series, err = engine.LoadCSV(req.CSVPath, loc)
	} else {
		series, err = s.queryBars(req, loc)
	}
	if err != nil {
		fail(err)
		return
	}

	runner, err := engine.NewRunner(cfg, s.log)
	if err != nil {
		fail(err)
		return
	}
	res, err := runner.Run(series)
	if err != nil {
		fail(err)
		return
	}

	job.complete(engine.Summarize(res), res.Trades)

	if s.store != nil && len(res.Trades) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.store.InsertTrades(ctx, job.id, req.Symbol, res.Trades); err != nil {
			s.log.Warn("trade persist failed", zap.String("job_id", job.id), zap.Error(err))
		}
	}
}

func (s *backtestServer) queryBars(req runRequest, loc *time.Location) (*engine.Series, error) {
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return nil, fmt.Errorf("bad start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return nil, fmt.Errorf("bad end: %w", err)
	}
	interval := req.Interval
	if interval == "" {
		interval = "5m"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return s.store.QueryBars(ctx, req.Symbol, interval, start, end, loc)
}

func (s *backtestServer) handleStatus(c *gin.Context) {
	v, ok := s.jobs.Load(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, v.(*runJob).view())
}

func (s *backtestServer) handleTrades(c *gin.Context) {
	v, ok := s.jobs.Load(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	job := v.(*runJob)
	status, trades := job.result()
	if status != "completed" {
		c.JSON(http.StatusConflict, gin.H{"error": "job not completed", "status": status})
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="trades-%s.csv"`, job.id))
	if err := engine.WriteTradesCSV(c.Writer, trades, time.UTC); err != nil {
		s.log.Error("trade export failed", zap.String("job_id", job.id), zap.Error(err))
	}
}

func (s *backtestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func main() {
	httpPort := flag.Int("port", 8080, "HTTP port")
	chAddr := flag.String("ch-addr", "", "ClickHouse native addr (host:9000); empty = CSV-only mode")
	chDB := flag.String("ch-db", "backtest", "ClickHouse database")
	chUser := flag.String("ch-user", "backtest", "ClickHouse user")
	chPass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv := &backtestServer{log: logger}
	if *chAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := clickhouse.NewStore(ctx, clickhouse.Options{
			Addr:     *chAddr,
			Database: *chDB,
			Username: *chUser,
			Password: *chPass,
		}, logger)
		cancel()
		if err != nil {
			logger.Fatal("clickhouse connect failed", zap.Error(err))
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		srv.store = store
		defer store.Close()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.routes(router)

	go func() {
		logger.Info("http server up", zap.Int("port", *httpPort))
		if err := router.Run(fmt.Sprintf(":%d", *httpPort)); err != nil {
			logger.Fatal("http serve failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
}
