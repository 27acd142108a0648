package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
)

// SystemMetrics represents the system metrics response.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	WebSocket     WSMetrics           `json:"websocket"`
	MQTT          MQTTMetrics         `json:"mqtt"`
	Readiness     subsystem.Readiness `json:"readiness"`
	Devices       *DeviceMetrics      `json:"devices,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total      int            `json:"total"`
	ByProtocol map[string]int `json:"by_protocol"`
	ByDriver   map[string]int `json:"by_driver"`
	ByHealth   map[string]int `json:"by_health"`
}

// handleSystemMetrics returns a JSON summary of gateway health. Prometheus
// scrapes /metrics instead.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
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
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PendingTickets:   s.tickets.count(),
		},
		Readiness: s.subsystems.Readiness(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}

	if s.devices != nil {
		stats := s.devices.GetStats()
		dm := &DeviceMetrics{
			Total:      stats.TotalDevices,
			ByProtocol: make(map[string]int, len(stats.ByProtocol)),
			ByDriver:   stats.ByDriver,
			ByHealth:   make(map[string]int, len(stats.ByHealthStatus)),
		}
		for p, n := range stats.ByProtocol {
			dm.ByProtocol[string(p)] = n
		}
		for h, n := range stats.ByHealthStatus {
			dm.ByHealth[string(h)] = n
		}
		metrics.Devices = dm
	}

	writeJSON(w, http.StatusOK, metrics)
}
