package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/meterlink/meterlink-core/internal/ingest"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Ingest        *ingest.Stats   `json:"ingest,omitempty"`
	InfluxDB      *InfluxMetrics  `json:"influxdb,omitempty"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live viewer hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	Broadcasts       uint64 `json:"broadcasts"`
	Delivered        uint64 `json:"delivered"`
	Dropped          uint64 `json:"dropped"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
}

// InfluxMetrics contains reading mirror statistics.
type InfluxMetrics struct {
	Connected bool   `json:"connected"`
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hubStats := s.hub.Stats()
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
			Broadcasts:       hubStats.Broadcasts,
			Delivered:        hubStats.Delivered,
			Dropped:          hubStats.Dropped,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected:  s.mqtt.IsConnected(),
			Reconnects: s.mqtt.Reconnects(),
		}
	}

	if s.ingest != nil {
		st := s.ingest.Stats()
		metrics.Ingest = &st
	}

	if s.influx != nil {
		written, failed := s.influx.Stats()
		metrics.InfluxDB = &InfluxMetrics{
			Connected: s.influx.IsConnected(),
			Written:   written,
			Failed:    failed,
		}
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
