/*
PURPOSE:
  Defines the 'list-models' subcommand.
  Shows the architectures in the model library and the configured suite.

REQUIREMENTS:
  User-specified:
  - List available models.

  Implementation-discovered:
  - Useful validation step before full run: shows which entries the
    current filters would skip.

ARCHITECTURE INTEGRATION:
  - Calls: internal/nn/zoo, internal/engine.Models()

ERROR HANDLING:
  - Returns config errors.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  infer-bench list-models --exclude vgg
*/

package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/daryltucker/infer-bench/internal/config"
	"github.com/daryltucker/infer-bench/internal/engine"
	"github.com/daryltucker/infer-bench/internal/nn/zoo"
	"github.com/daryltucker/infer-bench/internal/output"
)

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available architectures and configured models",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(excludeOverride) > 0 {
			cfg.Exclude = excludeOverride
		}
		if len(modelsOverride) > 0 {
			cfg.Only = modelsOverride
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Architectures:")
		for _, name := range zoo.Names() {
			e, _ := zoo.Lookup(name)
			fmt.Fprintf(out, "- %s: %s, inputs %s\n", e.Name, e.Description, e.Inputs)
		}

		selected := engine.New(cfg).Models()
		fmt.Fprintln(out, "Configured models:")
		for _, m := range cfg.Models {
			mark := " "
			if slices.ContainsFunc(selected, func(s config.ModelConfig) bool { return s.Name == m.Name }) {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s (%s) %s\n", mark, m.Name, m.ArchOf(), output.FormatShapes(m.InputShapes))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	listModelsCmd.Flags().StringSliceVar(&excludeOverride, "exclude", nil, "Comma-separated list of substrings to exclude from model names")
	listModelsCmd.Flags().StringSliceVar(&modelsOverride, "models", nil, "Comma-separated list of specific models to show as selected")
}
