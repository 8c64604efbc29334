// -- cmd/run.go --
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pagepilot/internal/agent"
	"pagepilot/internal/config"
	"pagepilot/internal/observability"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		goal      string
		debugMode bool
		noReread  bool
		headful   bool
		noBridge  bool
		planDir   string
		outputFmt string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the data portal toward a goal and print the results",
		Long: `Run opens the portal, plans a sequence of browser actions for the goal,
executes them, and prints up to ten matching datasets. Results go to stdout;
all logging goes to stderr, so the output is safe to pipe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if strings.TrimSpace(goal) == "" {
				return fmt.Errorf("a goal is required; pass one with --goal")
			}

			cfg := appConfig
			cfg.SetRunConfig(config.RunConfig{
				Goal:      goal,
				Debug:     debugMode,
				Reread:    !noReread,
				PlanDir:   planDir,
				OutputFmt: outputFmt,
			})
			if headful {
				cfg.SetBrowserHeadless(false)
			}
			if noBridge {
				cfg.SetBridgeEnabled(false)
			}

			logger.Info("Starting goal run", zap.String("goal", goal))

			orch := agent.New(cfg, logger)
			defer orch.Close()
			results := orch.RunGoal(ctx, goal)

			if err := ctx.Err(); err != nil {
				return err
			}
			return printResults(os.Stdout, results, outputFmt)
		},
	}

	runCmd.Flags().StringVarP(&goal, "goal", "g", "", "user goal in plain English (required)")
	runCmd.Flags().BoolVar(&debugMode, "debug", false, "print and save the generated plan JSON")
	runCmd.Flags().BoolVar(&noReread, "no-reread", false, "skip re-reading the page context after plan execution")
	runCmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
	runCmd.Flags().BoolVar(&noBridge, "no-bridge", false, "disable the MCP tool server bridge")
	runCmd.Flags().StringVar(&planDir, "plan-dir", "debug", "directory for saved plan dumps")
	runCmd.Flags().StringVarP(&outputFmt, "output", "o", "json", "output format: json or text")
	_ = runCmd.MarkFlagRequired("goal")

	return runCmd
}

// printResults writes the harvested results to w. JSON is the default so the
// command composes with jq and scripts; text is for humans.
func printResults(w io.Writer, results []agent.Result, format string) error {
	switch strings.ToLower(format) {
	case "text":
		if len(results) == 0 {
			fmt.Fprintln(w, "No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(w, "%2d. %s\n    %s\n", i+1, r.Title, r.URL)
		}
		return nil
	case "json", "":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return fmt.Errorf("unknown output format %q (want json or text)", format)
	}
}
