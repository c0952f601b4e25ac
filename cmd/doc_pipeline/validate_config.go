package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config [FILE]",
	Short: "Validate a pipeline configuration file",
	Long: `Loads FILE (or --config), fills defaults and checks thresholds, iteration budgets,
retry targets and the escalation policy. Prints the effective stage table on success.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidateConfig,
}

func init() {
	rootCmd.AddCommand(validateConfigCmd)
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	path := rootConfigPath
	if len(args) == 1 {
		path = args[0]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	printConfig(cmd.OutOrStdout(), cfg)
	return nil
}

//nolint:errcheck // writing to stdout
func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Configuration is valid\n")
	fmt.Fprintf(w, "overall_target=%.1f human_handoff_score=%.1f on_escalate=%s worker_timeout=%s\n",
		cfg.OverallTarget, cfg.HumanHandoffScore, cfg.OnEscalate, cfg.WorkerTimeout())
	for _, st := range cfg.Stages {
		fmt.Fprintf(w, "  %-18s floor=%-5.1f minimum=%-5.1f good=%-5.1f excellent=%-5.1f max_iterations=%d",
			st.Name, st.EscalationFloor, st.Minimum, st.Good, st.Excellent, st.MaxIterations)
		if st.RetryTarget != "" {
			fmt.Fprintf(w, " retry_target=%s", st.RetryTarget)
		}
		fmt.Fprintln(w)
	}
}
