package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulsecore/internal/diagnostics"
)

func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Print a snapshot of this process's own resource usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			report, err := diagnostics.Collect(ctx)
			if err != nil {
				return fmt.Errorf("collecting diagnostics: %w", err)
			}

			fmt.Printf("pid:              %d\n", report.PID)
			fmt.Printf("uptime:           %.1fs\n", report.UptimeSeconds)
			fmt.Printf("cpu:              %.1f%%\n", report.CPUPercent)
			fmt.Printf("memory rss:       %d bytes\n", report.MemoryRSSBytes)
			fmt.Printf("memory:           %.1f%%\n", report.MemoryPercent)
			fmt.Printf("goroutines:       %d\n", report.NumGoroutines)
			if report.OpenFileHandles >= 0 {
				fmt.Printf("open file handles: %d\n", report.OpenFileHandles)
			} else {
				fmt.Println("open file handles: unsupported on this platform")
			}
			return nil
		},
	}
}
