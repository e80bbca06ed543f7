package api

import (
	"net/http"
	"runtime"
	"time"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string          `json:"status"`
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Gateway       GatewayHealth   `json:"gateway"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Database      *DatabaseHealth `json:"database,omitempty"`
}

// GatewayHealth summarises the device session.
type GatewayHealth struct {
	State    string `json:"state"`
	DeviceID string `json:"device_id,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DatabaseHealth reports the SQLite handle.
type DatabaseHealth struct {
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	OpenConnections int    `json:"open_connections"`
}

// handleHealth reports liveness. It answers 200 even while the device is
// disconnected; a failing database turns it into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	conn := s.gw.Connection()
	resp := HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Gateway: GatewayHealth{
			State:    conn.State.String(),
			DeviceID: conn.DeviceID,
		},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	status := http.StatusOK
	if s.deps.DB != nil {
		db := &DatabaseHealth{OK: true, OpenConnections: s.deps.DB.Stats().OpenConnections}
		if err := s.deps.DB.HealthCheck(r.Context()); err != nil {
			db.OK, db.Error = false, err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		resp.Database = db
	}

	writeJSON(w, status, resp)
}
