package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatusResponse is the /health response body.
type StatusResponse struct {
	Status string `json:"status"`
}

// MemoryStats mirrors the teacher's system memory snapshot.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUStats mirrors the teacher's system CPU snapshot.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// ResolverStats reports the resolver-internal state from SPEC_FULL.md §4.8:
// admission capacity, cache occupancy, and a per-upstream latency/in-flight
// snapshot, in place of the teacher's DNS-server/filtering counters.
type ResolverStats struct {
	Ready        int          `json:"ready"`
	Active       int          `json:"active"`
	CacheEntries int          `json:"cache_entries"`
	Servers      []ServerStat `json:"servers"`
}

// ServerStatsResponse is the /stats response body.
type ServerStatsResponse struct {
	Uptime        string        `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     time.Time     `json:"start_time"`
	CPU           CPUStats      `json:"cpu"`
	Memory        MemoryStats   `json:"memory"`
	Resolver      ResolverStats `json:"resolver"`
}

// Health reports liveness. It never consults the resolver: a process that
// can answer HTTP requests at all is, by definition, alive.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Stats reports process/system resource usage alongside the last resolver
// Snapshot handed to Update.
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)
	snap := h.current()

	memStats := MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	c.JSON(http.StatusOK, ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Resolver: ResolverStats{
			Ready:        snap.Ready,
			Active:       snap.Active,
			CacheEntries: snap.CacheEntries,
			Servers:      snap.Servers,
		},
	})
}
