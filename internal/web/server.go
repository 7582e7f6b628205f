// Package web serves the operational read surface: health, status JSON, and
// Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/storage"
)

type Server struct {
	httpServer *http.Server
	repo       *storage.Repository
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		repo:   repo,
		config: cfg,
		logger: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("status server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Scanner   *storage.ScannerState   `json:"scanner"`
	Open      []storage.Trade         `json:"open_positions"`
	Networth  *storage.NetworthSample `json:"networth,omitempty"`
	TodayPnL  float64                 `json:"today_pnl"`
	TotalPnL  float64                 `json:"total_pnl"`
	FillCount int64                   `json:"fill_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{}

	state, err := s.repo.GetScannerState()
	if err != nil {
		s.logger.Error("status: scanner state", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	resp.Scanner = state

	if open, err := s.repo.GetOpenTrades(); err == nil {
		resp.Open = open
	}
	if nw, err := s.repo.GetLatestNetworth(); err == nil {
		resp.Networth = nw
	}
	resp.TodayPnL, _ = s.repo.GetTodayPnL()
	resp.TotalPnL, _ = s.repo.GetTotalPnL()
	resp.FillCount, _ = s.repo.CountFills()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("status: encode response", "error", err)
	}
}
