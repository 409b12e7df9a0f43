package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStats is the body of /debug/stats.
type SystemStats struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Hub           *HubMetrics    `json:"hub,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HubMetrics contains streaming session statistics.
type HubMetrics struct {
	Connected      bool   `json:"connected"`
	Reconnects     uint64 `json:"reconnects"`
	EventsReceived uint64 `json:"events_received"`
	Resyncs        uint64 `json:"resyncs"`
	LastDisconnect string `json:"last_disconnect,omitempty"`
}

// bytesPerMB converts bytes to megabytes.
const bytesPerMB = 1024 * 1024

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
	}
	if s.stats != nil {
		st := s.stats()
		out.Hub = &HubMetrics{
			Connected:      st.Connected,
			Reconnects:     st.Reconnects,
			EventsReceived: st.EventsReceived,
			Resyncs:        st.Resyncs,
		}
		if !st.LastDisconnect.IsZero() {
			out.Hub.LastDisconnect = st.LastDisconnect.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
