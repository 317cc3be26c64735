package main

import (
	"fmt"
	"os"
	"time"

	"github.com/seiyakubo/ccmem/internal/ingest"
	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "ingest <session-id> <log-path>",
		Short: "Incrementally ingest new transcript lines into the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(projectDir)
			if err != nil {
				return err
			}
			defer env.Close()

			// startup-time breadcrumb bookkeeping; failures never block ingest
			if err := env.resolver.SweepBreadcrumbs(time.Now().UTC()); err != nil {
				fmt.Fprintf(os.Stderr, "WARN: sweep breadcrumbs: %v\n", err)
			}

			res := env.ingester().Run(ingest.Request{
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
