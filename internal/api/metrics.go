package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Watchdog      WatchdogMetrics `json:"watchdog"`
	Subscriptions SubMetrics      `json:"subscriptions"`
	Integrations  IntegMetrics    `json:"integrations"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WatchdogMetrics contains availability watchdog statistics.
type WatchdogMetrics struct {
	Known       int `json:"known"`
	Available   int `json:"available"`
	Unavailable int `json:"unavailable"`
}

// SubMetrics contains subscription manager statistics.
type SubMetrics struct {
	ActiveWaiters int `json:"active_waiters"`
	ActiveSerials int `json:"active_serials"`
}

// IntegMetrics contains outbound integration bus statistics.
type IntegMetrics struct {
	RunningUsers int `json:"running_users"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns a JSON snapshot of watchdog, subscription,
// integration, and database pool state, per the frontend metrics surface.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.watchdog != nil {
		wdStats := s.watchdog.Stats()
		metrics.Watchdog = WatchdogMetrics{
			Known:       wdStats.Known,
			Available:   wdStats.Available,
			Unavailable: wdStats.Unavailable,
		}
	}

	if s.sub != nil {
		subStats := s.sub.Stats()
		metrics.Subscriptions = SubMetrics{
			ActiveWaiters: subStats.ActiveWaiters,
			ActiveSerials: subStats.ActiveSerials,
		}
	}

	if s.integ != nil {
		integStats := s.integ.Stats()
		metrics.Integrations = IntegMetrics{RunningUsers: integStats.RunningUsers}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
