package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/envinfo"
)

var envJSON bool

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the software and hardware environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("device") {
			cfg.Device = deviceOverride
		}
		spec, err := device.Parse(cfg.Device)
		if err != nil {
			return err
		}
		dev, err := device.Resolve(spec, cfg.Policy(), device.HostProbe)
		if err != nil {
			return err
		}
		mode, err := cfg.Mode()
		if err != nil {
			return err
		}

		info := envinfo.Collect(cmd.Context(), envinfo.Options{Device: dev, Flags: cfg.Flags(), Mode: mode})
		out := cmd.OutOrStdout()
		if envJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		for _, f := range info.Fields {
			fmt.Fprintf(out, "%s: %s\n", f.Key, f.Value)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
	envCmd.Flags().StringVar(&deviceOverride, "device", "", "Device to describe (default from config)")
	envCmd.Flags().BoolVar(&envJSON, "json", false, "Print as JSON")
}
