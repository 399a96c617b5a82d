package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"delphi/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			line := fmt.Sprintf("%s  %-9s  %s", r.CreatedAt.Format("2006-01-02 15:04"), r.Status, r.Question)
			if r.TerminationReason != "" {
				line += fmt.Sprintf("  (%s)", r.TerminationReason)
			}
			fmt.Println(line)
			fmt.Printf("    id: %s\n", r.ID)
		}
		return nil
	},
}
