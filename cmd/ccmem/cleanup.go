package main

import (
	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "cleanup <session-id>",
		Short: "Finalize a session at termination and apply the retention policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(projectDir)
			if err != nil {
				return err
			}
			defer env.Close()

			res := env.cleaner().Finalize(args[0])
			return emit(res, res.Success, res.Message)
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "project directory")
	return cmd
}

func sweepCmd() *cobra.Command {
	var projectDir string
	var graceDays int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete uncommitted sessions older than the grace window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(projectDir)
			if err != nil {
				return err
			}
			defer env.Close()

			days := graceDays
			if days <= 0 {
				days = env.cfg.GraceDays
			}
			res := env.cleaner().SweepStale(days)
			return emit(res, res.Success, res.Message)
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "project directory")
	cmd.Flags().IntVar(&graceDays, "grace-days", 0, "override the configured grace window")
	return cmd
}
