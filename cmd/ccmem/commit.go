package main

import (
	"github.com/spf13/cobra"
)

func commitCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "commit <session-id>",
		Short: "Mark a session's data as retained regardless of later sweeps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(projectDir)
			if err != nil {
				return err
			}
			defer env.Close()

			res := env.cleaner().Commit(args[0], env.projectDir)
			return emit(res, res.Success, res.Message)
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "project directory")
	return cmd
}
