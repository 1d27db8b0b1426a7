// Package health serves the maintainer's health report and metrics.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntrixbase/reindexer/internal/reindexer"
)

// Status represents the health status of the maintainer.
type Status string

const (
	// StatusOK indicates the maintainer is scheduling normally.
	StatusOK Status = "ok"

	// StatusDegraded indicates the last tick failed.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates an enabled maintainer is not scheduling.
	StatusUnhealthy Status = "unhealthy"
)

// SlotReport describes this host's place in the schedule.
type SlotReport struct {
	Index  int    `json:"index"`
	Peers  int    `json:"peers"`
	Delay  string `json:"delay"`
	Stride string `json:"stride"`
}

// Report is the full health report.
type Report struct {
	Status     Status     `json:"status"`
	Uptime     string     `json:"uptime"`
	StartedAt  time.Time  `json:"startedAt"`
	Enabled    bool       `json:"enabled"`
	Hostname   string     `json:"hostname"`
	Cluster    string     `json:"cluster"`
	Slot       SlotReport `json:"slot"`
	Leader     bool       `json:"leader"`
	Ticks      int64      `json:"ticks"`
	LastTick   *time.Time `json:"lastTick,omitempty"`
	LastResult string     `json:"lastResult,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	NextTick   *time.Time `json:"nextTick,omitempty"`
}

// StatusSource reports the runner state. *reindexer.Runner implements it.
type StatusSource interface {
	Status() reindexer.Status
}

// Checker builds health reports from a runner.
type Checker struct {
	startedAt time.Time
	source    StatusSource
	logger    *slog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(source StatusSource, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		startedAt: time.Now(),
		source:    source,
		logger:    logger.With("component", "health"),
	}
}

// GetReport returns the current health report.
func (h *Checker) GetReport() Report {
	s := h.source.Status()
	report := Report{
		Status:    StatusOK,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
		Enabled:   s.Enabled,
		Hostname:  s.Hostname,
		Cluster:   s.Cluster,
		Slot: SlotReport{
			Index:  s.Slot.Index,
			Peers:  s.Slot.Peers,
			Delay:  s.Slot.Delay.String(),
			Stride: s.Slot.Stride.String(),
		},
		Leader:     s.Leader,
		Ticks:      s.Ticks,
		LastResult: string(s.LastResult),
		LastError:  s.LastError,
	}
	if !s.LastTick.IsZero() {
		report.LastTick = &s.LastTick
	}
	if s.Running && !s.NextTick.IsZero() {
		report.NextTick = &s.NextTick
	}

	switch {
	case s.Enabled && !s.Running:
		report.Status = StatusUnhealthy
	case s.LastResult == reindexer.TickError:
		report.Status = StatusDegraded
	}
	return report
}

// Check returns the overall health status.
func (h *Checker) Check() Status {
	return h.GetReport().Status
}

// ServeHTTP implements http.Handler for health endpoint.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.GetReport()

	w.Header().Set("Content-Type", "application/json")

	switch report.Status {
	case StatusOK, StatusDegraded:
		w.WriteHeader(http.StatusOK)
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("failed to write health report", "error", err)
	}
}

// Handler routes /health to the checker and /metrics to the Prometheus registry.
func Handler(checker *Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", checker)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartServer serves Handler on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, checker *Checker) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	checker.logger.Info("health server starting", "address", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
