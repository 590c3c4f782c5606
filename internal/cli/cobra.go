package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"panosphere/internal/config"
	"panosphere/internal/sphere"
	"panosphere/internal/stitcher"
)

const version = "panosphere v1.0.0"

// Root carries shared dependencies across commands.
type Root struct {
	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := &Root{cfg: cfg, log: log}

	rootCmd := &cobra.Command{
		Use:   "panosphere",
		Short: "Panosphere guides a handheld camera through a 360-degree capture",
		Long: `Panosphere plans a gapless grid of capture orientations over the viewing
sphere, gates each capture on device stability and centering, and hands the
captured tiles to an external stitcher for compositing.`,
	}

	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newPlanCmd(root))
	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newPlanCmd(root *Root) *cobra.Command {
	var (
		asJSON bool
		hfov   float64
		vfov   float64
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the coverage plan for the configured bands",
		Long: `Compute and print the ordered capture plan: one line per target, grouped by
elevation band. The total is always derived from the active band/step table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg.PlanConfig()
			if hfov > 0 {
				cfg.HFOVDeg = hfov
			}
			if vfov > 0 {
				cfg.VFOVDeg = vfov
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			plan := sphere.Plan(cfg)

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(plan)
			}

			fw, fh := sphere.Footprint(cfg.RadiusM, cfg.HFOVDeg, cfg.VFOVDeg)
			cmd.Printf("Coverage plan: %d targets (truncated: %t)\n", plan.Count(), plan.Truncated)
			cmd.Printf("Tile footprint: %.2f x %.2f\n\n", fw, fh)
			for i, t := range plan.Targets {
				cmd.Printf("%3d  az %6.1f  el %6.1f\n", i, t.AzimuthDeg, t.ElevationDeg)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the plan as JSON")
	cmd.Flags().Float64Var(&hfov, "hfov", 0, "Override horizontal field of view (degrees)")
	cmd.Flags().Float64Var(&vfov, "vfov", 0, "Override vertical field of view (degrees)")
	return cmd
}

func newStitchCmd(root *Root) *cobra.Command {
	var (
		projection string
		blending   string
		quality    string
		tool       string
	)

	cmd := &cobra.Command{
		Use:   "stitch <tile_directory> [output_path]",
		Short: "Stitch an exported tile set into a panorama",
		Long: `Composite a directory of captured tiles into one panorama using the
configured external stitcher (Hugin chain with ImageMagick fallback).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := ""
			if len(args) > 1 {
				output = args[1]
			}
			if output == "" {
				var err error
				output, err = config.ExpandUser(root.cfg.Paths.OutputDir)
				if err != nil {
					return err
				}
			}

			req := stitcher.Request{
				InputDir:   args[0],
				Output:     output,
				Projection: firstNonEmpty(projection, root.cfg.Stitcher.Projection),
				Blending:   firstNonEmpty(blending, root.cfg.Stitcher.Blending),
				Quality:    firstNonEmpty(quality, root.cfg.Stitcher.Quality),
				Preferred:  firstNonEmpty(tool, root.cfg.Stitcher.Preferred),
				Fallbacks:  root.cfg.Stitcher.Fallbacks,
			}

			res, err := stitcher.Assemble(context.Background(), req, root.log)
			if err != nil {
				return fmt.Errorf("stitching failed: %w", err)
			}
			cmd.Printf("Stitched %d tiles with %s: %s\n", res.TileCount, res.ToolUsed, res.OutputFile)
			if res.Dimensions != "" {
				cmd.Printf("Dimensions: %s\n", res.Dimensions)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projection, "projection", "", "Projection (spherical, cylindrical, planar, ...)")
	cmd.Flags().StringVar(&blending, "blending", "", "Blending mode (multiband, feather, none)")
	cmd.Flags().StringVar(&quality, "quality", "", "Render quality (fast, normal, high, ultra)")
	cmd.Flags().StringVar(&tool, "tool", "", "Preferred stitch tool (hugin, imagemagick)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
