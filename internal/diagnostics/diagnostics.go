// Package diagnostics reports this process's own resource usage for the
// diagnose CLI subcommand: CPU time, memory, and goroutine count, the
// same sampling idiom the host agent uses for a monitored machine,
// turned inward on pulsecore's own process instead.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Report is a point-in-time snapshot of process health.
type Report struct {
	PID             int32
	CPUPercent      float64
	MemoryRSSBytes  uint64
	MemoryPercent   float32
	NumGoroutines   int
	UptimeSeconds   float64
	OpenFileHandles int32
}

// Collect samples the current process via gopsutil. ctx bounds the
// sampling calls, each of which does its own syscalls.
func Collect(ctx context.Context) (Report, error) {
	pid := int32(os.Getpid())
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Report{}, fmt.Errorf("opening process handle: %w", err)
	}

	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading cpu percent: %w", err)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading memory info: %w", err)
	}

	memPercent, err := proc.MemoryPercentWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading memory percent: %w", err)
	}

	createdAtMs, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading process start time: %w", err)
	}
	uptime := time.Since(time.UnixMilli(createdAtMs)).Seconds()

	numFDs, err := proc.NumFDsWithContext(ctx)
	if err != nil {
		numFDs = -1 // not supported on this platform; not fatal
	}

	return Report{
		PID:             pid,
		CPUPercent:      cpuPercent,
		MemoryRSSBytes:  memInfo.RSS,
		MemoryPercent:   memPercent,
		NumGoroutines:   runtime.NumGoroutine(),
		UptimeSeconds:   uptime,
		OpenFileHandles: numFDs,
	}, nil
}
