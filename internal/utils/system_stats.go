package utils

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

var startTime = time.Now()

// SystemStats is the host and process snapshot served by the status endpoint.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memoria_percent"`
	MemoryUsed    string  `json:"memoria_usada"`
	MemoryTotal   string  `json:"memoria_total"`
	HeapAlloc     string  `json:"heap_proceso"`
	Goroutines    int     `json:"goroutines"`
	Uptime        string  `json:"uptime"`
}

// CollectSystemStats gathers CPU, memory and process statistics. Collection
// errors degrade to zero values rather than failing the status endpoint.
func CollectSystemStats() SystemStats {
	stats := SystemStats{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(startTime).Round(time.Second).String(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	} else if err != nil {
		log.Debugf("Failed to read CPU usage: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsed = FormatBytes(vm.Used)
		stats.MemoryTotal = FormatBytes(vm.Total)
	} else {
		log.Debugf("Failed to read memory usage: %v", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.HeapAlloc = FormatBytes(ms.HeapAlloc)

	return stats
}

// FormatBytes renders a byte count in a human-readable unit.
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
