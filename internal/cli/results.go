/*
PURPOSE:
  Defines the 'results' subcommand.
  Prints a JSON Lines results file, or compares two of them model by model
  (for example a standard suite against a reduced-precision one).

ARCHITECTURE INTEGRATION:
  - Calls: internal/output.ReadJSONLines, internal/output.Compare

ERROR HANDLING:
  - Returns file and decode errors, including the offending line number.

USAGE:
  infer-bench results infer_results.jsonl
  infer-bench results infer_results.jsonl infer_results.jsonl.1
*/

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daryltucker/infer-bench/internal/model"
	"github.com/daryltucker/infer-bench/internal/output"
)

var resultsCmd = &cobra.Command{
	Use:   "results BASE.jsonl [OTHER.jsonl]",
	Short: "Show a results file or compare two suites",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := output.ReadJSONLines(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			printResults(out, base)
			return nil
		}
		other, err := output.ReadJSONLines(args[1])
		if err != nil {
			return err
		}
		rows := output.Compare(base, other)
		if len(rows) == 0 {
			return fmt.Errorf("no model completed in both %s and %s", args[0], args[1])
		}
		fmt.Fprintf(out, "%-16s %-18s %-18s %12s %12s %8s\n", "MODEL", "BASE MODE", "OTHER MODE", "BASE MS", "OTHER MS", "SPEEDUP")
		for _, c := range rows {
			fmt.Fprintf(out, "%-16s %-18s %-18s %12.3f %12.3f %7.2fx\n",
				c.Model, c.Base.Mode, c.Other.Mode, c.Base.AverageMS, c.Other.AverageMS, c.Speedup)
		}
		return nil
	},
}

func printResults(w io.Writer, rs []model.Result) {
	fmt.Fprintf(w, "%-16s %-18s %-8s %6s %12s  %s\n", "MODEL", "MODE", "DEVICE", "STEPS", "AVERAGE MS", "ERROR")
	for _, r := range rs {
		fmt.Fprintf(w, "%-16s %-18s %-8s %6d %12.3f  %s\n", r.Model, r.Mode, r.Device, r.NumSteps, r.AverageMS, r.Error)
	}
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}
