package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func doctorCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Self-check: verify store, FTS5, and show stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(projectDir)
			if err != nil {
				return err
			}
			defer env.Close()

			fmt.Println(headerStyle.Render("=== Store ==="))
			saveStates, err := env.db.SaveStateCount()
			if err != nil {
				return fmt.Errorf("count save states: %w", err)
			}
			interactions, err := env.db.InteractionCount()
			if err != nil {
				return fmt.Errorf("count interactions: %w", err)
			}
			links, err := env.db.LinkCount()
			if err != nil {
				return fmt.Errorf("count links: %w", err)
			}
			touches, err := env.db.FileTouchCount()
			if err != nil {
				return fmt.Errorf("count file touches: %w", err)
			}
			fmt.Printf("  Save states:  %d\n", saveStates)
			fmt.Printf("  Interactions: %d\n", interactions)
			fmt.Printf("  Links:        %d\n", links)
			fmt.Printf("  File touches: %d\n", touches)

			fmt.Println(headerStyle.Render("=== FTS5 ==="))
			ftsCount, err := env.db.FTSCount()
			if err != nil {
				fmt.Printf("  %s %v\n", badStyle.Render("error:"), err)
			} else if ftsCount == interactions {
				fmt.Printf("  Entries: %d %s\n", ftsCount, okStyle.Render("(synced)"))
			} else {
				fmt.Printf("  Entries: %d %s\n", ftsCount,
					badStyle.Render(fmt.Sprintf("(MISMATCH, interactions=%d)", interactions)))
			}

			fmt.Println(headerStyle.Render("=== Files ==="))
			checkDir("Records", env.cfg.RecordsDir(env.projectDir))
			checkDir("Backups", env.cfg.BackupsDir(env.projectDir))
			checkDir("Breadcrumbs", env.cfg.BreadcrumbsDir(env.projectDir))

			if info, err := os.Stat(env.cfg.DBPath(env.projectDir)); err == nil {
				sizeMB := float64(info.Size()) / 1024 / 1024
				fmt.Println(headerStyle.Render(fmt.Sprintf("=== DB Size: %.1f MB ===", sizeMB)))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", ".", "project directory")
	return cmd
}

func checkDir(name, dir string) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		fmt.Printf("  %s: %s %s\n", name, dir, okStyle.Render("(ok)"))
	} else {
		fmt.Printf("  %s: %s (empty)\n", name, dir)
	}
}
