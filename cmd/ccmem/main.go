package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "ccmem",
		Short:   "Local memory layer for Claude Code - incremental transcript ingestion and session save state",
		Version: version,
	}

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(doctorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
