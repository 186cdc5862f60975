// Package monitoring exposes liveness and Prometheus metrics over HTTP for
// long-running decode sessions.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-scan/internal/logger"
	"github.com/23skdu/longbow-scan/internal/metrics"
	"github.com/23skdu/longbow-scan/internal/ssm"
)

// Status is the payload served by /status.
type Status struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Uptime          string    `json:"uptime"`
	GoVersion       string    `json:"go_version"`
	NumCPU          int       `json:"num_cpu"`
	MemoryUsedMB    int       `json:"memory_used_mb"`
	DecodeSteps     int64     `json:"decode_steps"`
	StateCacheSlots int       `json:"state_cache_slots"`
	StateCacheBytes int64     `json:"state_cache_bytes"`
}

// Monitor serves /healthz, /metrics and /status for a decode session.
// A nil cache is allowed; the cache fields then read zero.
type Monitor struct {
	startTime time.Time
	cache     *ssm.StateCache

	mu     sync.Mutex
	server *http.Server
}

func NewMonitor(cache *ssm.StateCache) *Monitor {
	return &Monitor{startTime: time.Now(), cache: cache}
}

// Start serves until the listener fails or Stop is called.
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", m.handleStatus)

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	logger.Log.Info("monitor listening", "addr", addr)
	return srv.ListenAndServe()
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := Status{
		Status:       "healthy",
		Timestamp:    time.Now(),
		Uptime:       time.Since(m.startTime).String(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		MemoryUsedMB: int(ms.Alloc / 1024 / 1024),
		DecodeSteps:  metrics.TotalDecodeSteps(),
	}
	if m.cache != nil {
		st.StateCacheSlots = m.cache.Slots()
		st.StateCacheBytes = m.cache.Bytes()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}
