package main

import (
	"github.com/seiyakubo/ccmem/internal/ingest"
	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "backup <session-id> <log-path>",
		Short: "Snapshot the session's interactions ahead of a compaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(projectDir)
			if err != nil {
				return err
			}
			defer env.Close()

			res := env.ingester().SaveBackup(ingest.Request{
				LogID:      args[0],
				LogPath:    args[1],
				ProjectDir: env.projectDir,
			})
			return emit(res, res.Success, res.Message)
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "project directory")
	return cmd
}
