package cli

import (
	"os"

	"github.com/spf13/cobra"

	"panosphere/internal/config"
	"panosphere/internal/stitcher"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or reset the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(cmd, root)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(cmd, root)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check-tools",
		Short: "Report which external stitching tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("Checking stitching tools...\n\n")
			any := false
			for _, tool := range stitcher.KnownTools() {
				if stitcher.ToolAvailable(tool) {
					cmd.Printf("  %s: available\n", tool)
					any = true
				} else {
					cmd.Printf("  %s: not found\n", tool)
				}
			}
			if !any {
				cmd.Printf("\nNo stitching tools found; stitch jobs will emit a manifest only.\n")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Write the default configuration to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := config.Save(cfg); err != nil {
				return err
			}
			*root.cfg = *cfg
			cmd.Printf("Configuration reset to defaults.\n")
			return nil
		},
	})

	return cmd
}

func configShow(cmd *cobra.Command, root *Root) error {
	cfgPath := os.Getenv("PANOSPHERE_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/panosphere/config.json"
	}
	cfg := root.cfg

	cmd.Printf("Current configuration:\n")
	cmd.Printf("Config file: %s\n", cfgPath)
	cmd.Printf("\nCapture:\n")
	cmd.Printf("  Sphere radius: %.1f\n", cfg.Capture.SphereRadiusM)
	cmd.Printf("  Field of view: %.0f x %.0f\n", cfg.Capture.HFOVDeg, cfg.Capture.VFOVDeg)
	cmd.Printf("  Max targets: %d\n", cfg.Capture.MaxTargets)
	cmd.Printf("  Sharpen: %t (%s)\n", cfg.Capture.Sharpen, cfg.Capture.SharpenTool)
	cmd.Printf("\nAlignment gate:\n")
	cmd.Printf("  Motion threshold: %.2f\n", cfg.Gate.MotionThreshold)
	cmd.Printf("  Dwell: %dms\n", cfg.Gate.DwellMs)
	cmd.Printf("  Center tolerance: %.2f\n", cfg.Gate.CenterTolerance)
	cmd.Printf("\nStitcher:\n")
	cmd.Printf("  Preferred: %s\n", cfg.Stitcher.Preferred)
	cmd.Printf("  Projection: %s\n", cfg.Stitcher.Projection)
	cmd.Printf("  Blending: %s\n", cfg.Stitcher.Blending)
	cmd.Printf("\nSource:\n")
	cmd.Printf("  Kind: %s\n", cfg.Source.Kind)
	if cfg.Source.Kind == "dir" {
		cmd.Printf("  Watch directory: %s\n", cfg.Source.WatchDir)
	}
	cmd.Printf("\nServer:\n")
	cmd.Printf("  Listen address: %s\n", cfg.Server.Addr)
	return nil
}
