package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"delphi/internal/store"
)

var showRaw bool

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Render a stored report in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetRun(args[0])
		if err != nil {
			return err
		}
		if rec.ReportMarkdown == "" {
			return fmt.Errorf("run %s has no report (status: %s)", rec.ID, rec.Status)
		}

		content, err := os.ReadFile(rec.ReportMarkdown)
		if err != nil {
			return fmt.Errorf("failed to read report: %w", err)
		}
		if showRaw {
			fmt.Print(string(content))
			return nil
		}

		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return fmt.Errorf("failed to build renderer: %w", err)
		}
		out, err := renderer.Render(string(content))
		if err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "print the raw Markdown without rendering")
}
