package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemHandler exposes process-level runtime metrics.
type SystemHandler struct {
	startTime time.Time
	workers   WorkerController
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(workers WorkerController) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		workers:   workers,
	}
}

// SystemStatus is the system status payload.
type SystemStatus struct {
	CPUPercent     float64  `json:"cpu_percent" doc:"Process CPU usage percentage"`
	MemoryRSSMB    float64  `json:"memory_rss_mb" doc:"Resident set size in MiB"`
	Goroutines     int      `json:"goroutines" doc:"Number of live goroutines"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	RunningWorkers []string `json:"running_workers" doc:"Channels with an active caption worker"`
}

type systemStatusOutput struct {
	Body SystemStatus
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemStatus",
		Method:      "GET",
		Path:        "/api/system/status",
		Summary:     "Get process runtime metrics",
		Tags:        []string{"System"},
	}, h.GetStatus)
}

// GetStatus returns CPU, memory and worker information for the
// running process. Metric collection failures degrade to zero values.
func (h *SystemHandler) GetStatus(ctx context.Context, _ *struct{}) (*systemStatusOutput, error) {
	status := SystemStatus{
		Goroutines:     runtime.NumGoroutine(),
		UptimeSeconds:  time.Since(h.startTime).Seconds(),
		RunningWorkers: h.workers.Running(),
	}
	if status.RunningWorkers == nil {
		status.RunningWorkers = []string{}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			status.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			status.MemoryRSSMB = float64(mem.RSS) / 1024 / 1024
		}
	}

	return &systemStatusOutput{Body: status}, nil
}
