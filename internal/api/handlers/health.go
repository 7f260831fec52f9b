package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	statusHealthy   = "healthy"
	statusDisabled  = "disabled"
	statusUnhealthy = "unhealthy"
)

// HealthChecker is implemented by the Postgres and Redis connections
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ResourceStats describes the process and host memory
type ResourceStats struct {
	Goroutines       int     `json:"goroutines"`
	ProcessRSSBytes  uint64  `json:"process_rss_bytes,omitempty"`
	ProcessCPU       float64 `json:"process_cpu_percent,omitempty"`
	HostMemoryUsed   float64 `json:"host_memory_used_percent,omitempty"`
	HostMemoryTotal  uint64  `json:"host_memory_total_bytes,omitempty"`
	ResourceWarnings string  `json:"resource_warnings,omitempty"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Mode      string            `json:"mode,omitempty"`
	Services  map[string]string `json:"services"`
	Resources ResourceStats     `json:"resources"`
}

type HealthHandler struct {
	db      HealthChecker
	redis   HealthChecker
	version string
	mode    string
	started time.Time
}

// NewHealthHandler creates the health handler. A nil checker reports the
// dependency as disabled, which does not degrade the status.
func NewHealthHandler(db, redis HealthChecker, version, mode string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, version: version, mode: mode, started: time.Now()}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{
		"database": checkDependency(ctx, h.db),
		"redis":    checkDependency(ctx, h.redis),
	}

	status := statusHealthy
	for _, s := range services {
		if s != statusHealthy && s != statusDisabled {
			status = statusUnhealthy
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Mode:      h.mode,
		Services:  services,
		Resources: collectResources(ctx),
	}

	code := http.StatusOK
	if status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

func checkDependency(ctx context.Context, checker HealthChecker) string {
	if checker == nil {
		return statusDisabled
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return statusUnhealthy + ": " + err.Error()
	}
	return statusHealthy
}

// collectResources reports what gopsutil can read; sandboxed hosts may
// refuse some of it, which is not a health failure.
func collectResources(ctx context.Context) ResourceStats {
	stats := ResourceStats{Goroutines: runtime.NumGoroutine()}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRSSBytes = info.RSS
		}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.ProcessCPU = pct
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.HostMemoryUsed = vm.UsedPercent
		stats.HostMemoryTotal = vm.Total
		if vm.UsedPercent > 90 {
			stats.ResourceWarnings = "host memory above 90%"
		}
	}
	return stats
}
