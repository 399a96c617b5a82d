package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"delphi/internal/delphi"
	"delphi/internal/registry"
	"delphi/internal/store"
)

var (
	runContext     string
	runConstraints []string
	runExperts     int
	runRounds      int
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Execute a Delphi consensus run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		// An operator interrupt must abort in-flight rounds and leave no
		// partial report artifact.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := registry.New(cfg, st, logger)
		result, err := reg.Execute(ctx, registry.RunParams{
			Prompt: delphi.Prompt{
				Question:    args[0],
				Context:     runContext,
				Constraints: runConstraints,
			},
			ExpertCount: runExperts,
			MaxRounds:   runRounds,
		})
		if err != nil {
			return err
		}

		printRunSummary(result)
		return nil
	},
}

func printRunSummary(result *registry.RunResult) {
	m := result.Report.ConvergenceAnalysis
	fmt.Println(headerStyle.Render("Delphi run complete"))
	fmt.Printf("%s %s\n", labelStyle.Render("Termination:"), valueStyle.Render(string(m.TerminationReason)))
	fmt.Printf("%s %d\n", labelStyle.Render("Rounds:"), m.RoundsCompleted)
	fmt.Printf("%s %.2f  %s %.2f\n",
		labelStyle.Render("Stability:"), m.PositionStability,
		labelStyle.Render("Clarity:"), m.ConsensusClarity)
	fmt.Printf("%s %s\n", labelStyle.Render("Report:"), result.MarkdownPath)
	fmt.Printf("%s %s\n", labelStyle.Render("JSON:"), result.JSONPath)
	fmt.Printf("%s %s\n", labelStyle.Render("Interactions:"), result.InteractionLog)
}

func init() {
	runCmd.Flags().StringVar(&runContext, "context", "", "additional free-text context for the question")
	runCmd.Flags().StringArrayVar(&runConstraints, "constraint", nil, "constraint to impose on the panel (repeatable)")
	runCmd.Flags().IntVar(&runExperts, "experts", 5, "number of expert personas (clamped to 3-10)")
	runCmd.Flags().IntVar(&runRounds, "rounds", 3, "maximum number of rounds (clamped to 1-5)")
}
