// Command pulsecore runs the stream-processing and alerting engine: it
// ingests log/span events, aggregates them into rolling baselines,
// detects anomalies and service downtime, deduplicates across
// replicas, and persists and streams the resulting alerts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "pulsecore",
		Short: "Stream-processing anomaly detection and alerting engine",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newDiagnoseCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pulsecore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("pulsecore " + version)
			return nil
		},
	}
}
