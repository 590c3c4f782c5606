package stitcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"panosphere/internal/fsutil"
)

// Request defines inputs for one stitching run. Tiles must already be on disk;
// the engine hands them over in capture order and never inspects the result.
type Request struct {
	InputDir   string   // directory of exported tiles, used when Tiles is empty
	Tiles      []string // explicit ordered tile paths
	Output     string
	Projection string // spherical, cylindrical, planar, ...
	Blending   string // multiband, feather, none
	Quality    string // fast, normal, high, ultra
	Preferred  string // "hugin" or "imagemagick"
	Fallbacks  []string
}

// Result captures output metadata for the caller and the job record.
type Result struct {
	OutputFile string
	Projection string
	Blending   string
	Quality    string
	TileCount  int
	ToolUsed   string
	Dimensions string
}

// Assemble composites the captured tiles into one panorama. Tool order follows
// the request preference; a manifest file is the last resort so the session's
// capture history is never lost on stitcher failure.
func Assemble(ctx context.Context, req Request, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if req.Projection == "" {
		req.Projection = "spherical"
	}
	if req.Blending == "" {
		req.Blending = "multiband"
	}
	if req.Quality == "" {
		req.Quality = "normal"
	}

	tiles := req.Tiles
	if len(tiles) == 0 {
		var err error
		tiles, err = fsutil.ListImages(req.InputDir)
		if err != nil {
			return Result{}, fmt.Errorf("failed to list tiles: %w", err)
		}
	}
	if len(tiles) < 2 {
		return Result{}, fmt.Errorf("need at least 2 tiles to stitch, got %d", len(tiles))
	}

	output, err := resolveOutput(req.Output)
	if err != nil {
		return Result{}, err
	}

	logger.Info("starting stitch",
		"tiles", len(tiles),
		"output", output,
		"projection", req.Projection,
		"blending", req.Blending,
		"quality", req.Quality,
	)

	result := Result{
		OutputFile: output,
		Projection: req.Projection,
		Blending:   req.Blending,
		Quality:    req.Quality,
		TileCount:  len(tiles),
	}

	tools := append([]string{req.Preferred}, req.Fallbacks...)
	for _, tool := range tools {
		switch tool {
		case "", "hugin":
			if !huginAvailable() {
				logger.Debug("hugin toolchain not available, skipping")
				continue
			}
			if err := stitchHugin(ctx, tiles, output, req, logger); err != nil {
				logger.Warn("hugin stitching failed", "error", err)
				continue
			}
			result.ToolUsed = "hugin"
			result.Dimensions = identifyDimensions(output)
			logger.Info("stitch completed", "tool", "hugin", "output", output)
			return result, nil
		case "imagemagick":
			if !commandExists("convert") {
				logger.Debug("imagemagick convert not available, skipping")
				continue
			}
			if err := stitchAppend(ctx, tiles, output); err != nil {
				logger.Warn("imagemagick append failed", "error", err)
				continue
			}
			result.ToolUsed = "imagemagick"
			result.Dimensions = identifyDimensions(output)
			logger.Info("stitch completed", "tool", "imagemagick", "output", output)
			return result, nil
		default:
			logger.Warn("unknown stitch tool", "tool", tool)
		}
	}

	// Last resort: manifest so the tile list survives for a retry.
	logger.Warn("all stitch tools failed, writing manifest")
	manifestPath := strings.TrimSuffix(output, filepath.Ext(output)) + ".txt"
	var b strings.Builder
	fmt.Fprintf(&b, "Stitch failed\nProjection: %s\nBlending: %s\nTiles: %d\n", req.Projection, req.Blending, len(tiles))
	for _, t := range tiles {
		fmt.Fprintln(&b, t)
	}
	if err := os.WriteFile(manifestPath, []byte(b.String()), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write manifest: %w", err)
	}
	result.OutputFile = manifestPath
	result.ToolUsed = "manifest"
	return result, nil
}

func resolveOutput(output string) (string, error) {
	if output == "" {
		output = "./output"
	}
	if strings.HasSuffix(output, string(filepath.Separator)) || isDirectory(output) {
		if err := os.MkdirAll(output, 0o755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
		return filepath.Join(output, "panorama.jpg"), nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return output, nil
}

var huginTools = []string{"pto_gen", "cpfind", "cpclean", "autooptimiser", "pano_modify", "nona", "enblend"}

// KnownTools lists every external binary the stitcher may invoke.
func KnownTools() []string {
	tools := append([]string{}, huginTools...)
	return append(tools, "convert", "identify")
}

// ToolAvailable reports whether an external tool is on PATH.
func ToolAvailable(name string) bool { return commandExists(name) }

func huginAvailable() bool {
	for _, tool := range huginTools {
		if !commandExists(tool) {
			return false
		}
	}
	return true
}

// stitchHugin runs the Hugin chain: project generation, control points,
// cleaning, optimization, canvas sizing, then render + blend. Every optional
// step degrades to its input on failure; only project generation and rendering
// are fatal.
func stitchHugin(ctx context.Context, tiles []string, output string, req Request, logger *slog.Logger) error {
	workDir, err := os.MkdirTemp("", "panosphere_hugin_")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	ptoFile := filepath.Join(workDir, "project.pto")
	args := append([]string{"-o", ptoFile}, tiles...)
	if out, err := exec.CommandContext(ctx, "pto_gen", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("pto_gen failed: %v, output: %s", err, out)
	}

	cpFile := filepath.Join(workDir, "project_cp.pto")
	if out, err := exec.CommandContext(ctx, "cpfind", "--multirow", "-o", cpFile, ptoFile).CombinedOutput(); err != nil {
		logger.Warn("cpfind failed, continuing without control points", "error", err, "output", string(out))
		cpFile = ptoFile
	}
	if n := countControlPoints(cpFile); n > 0 {
		logger.Info("control points found", "count", n)
	} else {
		logger.Warn("no control points found, tiles may not overlap enough")
	}

	cleanedFile := cpFile
	if cpFile != ptoFile {
		cleanedFile = filepath.Join(workDir, "project_cleaned.pto")
		if out, err := exec.CommandContext(ctx, "cpclean", "-o", cleanedFile, cpFile).CombinedOutput(); err != nil {
			logger.Warn("cpclean failed, using uncleaned control points", "error", err, "output", string(out))
			cleanedFile = cpFile
		}
	}

	optimized := filepath.Join(workDir, "optimized.pto")
	if out, err := exec.CommandContext(ctx, "autooptimiser", "-a", "-m", "-l", "-s", "-o", optimized, cleanedFile).CombinedOutput(); err != nil {
		logger.Warn("full autooptimiser failed, trying position-only", "error", err, "output", string(out))
		if out, err := exec.CommandContext(ctx, "autooptimiser", "-a", "-s", "-o", optimized, cleanedFile).CombinedOutput(); err != nil {
			logger.Warn("position-only autooptimiser failed, using unoptimized project", "error", err, "output", string(out))
			optimized = cleanedFile
		}
	}

	if err := setProjection(optimized, req.Projection); err != nil {
		logger.Warn("failed to set projection, keeping default", "error", err)
	}

	finalPto := filepath.Join(workDir, "final.pto")
	if out, err := exec.CommandContext(ctx, "pano_modify", "--canvas=AUTO", "--crop=AUTO", "-o", finalPto, optimized).CombinedOutput(); err != nil {
		logger.Warn("pano_modify failed, skipping canvas optimization", "error", err, "output", string(out))
		finalPto = optimized
	}

	prefix := filepath.Join(workDir, "pano")
	args = []string{"-o", prefix, "-m", "TIFF_m"}
	switch req.Quality {
	case "fast":
		args = append(args, "-i", "0")
	case "high":
		args = append(args, "-i", "2")
	case "ultra":
		args = append(args, "-i", "3", "-a")
	default:
		args = append(args, "-i", "1")
	}
	args = append(args, finalPto)
	if out, err := exec.CommandContext(ctx, "nona", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("nona failed: %v, output: %s", err, out)
	}

	rendered, err := filepath.Glob(prefix + "*.tif")
	if err != nil || len(rendered) == 0 {
		return fmt.Errorf("no rendered tiles found from nona (pattern %s*.tif)", prefix)
	}

	args = []string{"-o", output}
	switch req.Blending {
	case "feather":
		args = append(args, "--no-optimize")
	case "none":
		args = append(args, "--no-blend")
	default: // multiband
		args = append(args, "--levels=29")
	}
	args = append(args, rendered...)
	if out, err := exec.CommandContext(ctx, "enblend", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("enblend failed: %v, output: %s", err, out)
	}
	return nil
}

// stitchAppend is the crude fallback: a horizontal append of the tiles.
func stitchAppend(ctx context.Context, tiles []string, output string) error {
	args := append(append([]string{}, tiles...), "+append", output)
	return exec.CommandContext(ctx, "convert", args...).Run()
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// identifyDimensions shells out to ImageMagick identify; empty on failure.
func identifyDimensions(path string) string {
	cmd := exec.Command("identify", "-format", "%wx%h", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}
