// Package health tracks whether the user store is reachable and reports it
// through a readiness endpoint.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status values reported by the checker.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Pinger is implemented by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker probes the store periodically. It reports degraded only after
// FailThreshold consecutive failures, and healthy again on the next success.
type Checker struct {
	store     Pinger
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.RWMutex
	failCount int
	status    string
	lastErr   error
	checkedAt time.Time
}

// New creates a new Checker. The store is assumed healthy until proven otherwise.
func New(store Pinger, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{store: store, cfg: cfg, logger: logger, status: StatusHealthy}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the probe loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one probe and updates the status.
func (h *Checker) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	err := h.store.Ping(probeCtx)
	cancel()

	success := err == nil
	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	prev := h.status
	h.checkedAt = time.Now().UTC()
	h.lastErr = err
	if success {
		h.failCount = 0
		h.status = StatusHealthy
	} else {
		h.failCount++
		if h.failCount >= h.cfg.FailThreshold {
			h.status = StatusDegraded
		}
	}
	next, count := h.status, h.failCount
	h.mu.Unlock()

	switch {
	case prev == StatusDegraded && next == StatusHealthy:
		h.logger.Info("health: store recovered")
	case prev == StatusHealthy && next == StatusDegraded:
		h.logger.Warn("health: store degraded", zap.Int("fail_count", count), zap.Error(err))
	case !success:
		h.logger.Debug("health: probe failed", zap.Int("fail_count", count), zap.Error(err))
	}
}

// Status returns the current status string.
func (h *Checker) Status() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Ready reports whether the store is considered reachable.
func (h *Checker) Ready() bool {
	return h.Status() == StatusHealthy
}

// Handler serves the readiness state: 200 when healthy, 503 when degraded.
func (h *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.RLock()
		status, failCount, checkedAt := h.status, h.failCount, h.checkedAt
		h.mu.RUnlock()

		body := gin.H{"status": status, "consecutive_failures": failCount}
		if !checkedAt.IsZero() {
			body["checked_at"] = checkedAt
		}
		code := http.StatusOK
		if status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, body)
	}
}
