package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"panosphere/internal/config"
	"panosphere/internal/stitcher"
)

// stitchFunc matches stitcher.Assemble, swappable in tests.
type stitchFunc func(ctx context.Context, req stitcher.Request, logger *slog.Logger) (stitcher.Result, error)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	stitchCfg config.Stitcher
	stitchFn  stitchFunc
}

func newRouter(logger *slog.Logger, stitchCfg config.Stitcher) Processor {
	return &router{
		log:       logger,
		stitchCfg: stitchCfg,
		stitchFn:  stitcher.Assemble,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStitch:
		return r.handleStitch(ctx, job)
	case JobExport:
		return r.handleExport(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleStitch(ctx context.Context, job Job) Result {
	req := stitcher.Request{
		InputDir:   job.InputDir,
		Output:     job.Output,
		Projection: r.stitchCfg.Projection,
		Blending:   r.stitchCfg.Blending,
		Quality:    r.stitchCfg.Quality,
		Preferred:  r.stitchCfg.Preferred,
		Fallbacks:  r.stitchCfg.Fallbacks,
	}
	if v, ok := job.Options["projection"].(string); ok && v != "" {
		req.Projection = v
	}
	if v, ok := job.Options["blending"].(string); ok && v != "" {
		req.Blending = v
	}
	if v, ok := job.Options["quality"].(string); ok && v != "" {
		req.Quality = v
	}

	res, err := r.stitchFn(ctx, req, r.log)
	meta := map[string]any{
		"output":     res.OutputFile,
		"tool":       res.ToolUsed,
		"tiles":      res.TileCount,
		"projection": res.Projection,
	}
	if res.Dimensions != "" {
		meta["dimensions"] = res.Dimensions
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// handleExport copies a finished panorama (or any artifact) to its final
// destination; the hand-off imposes no format beyond opaque image bytes.
func (r *router) handleExport(ctx context.Context, job Job) Result {
	_ = ctx
	data, err := os.ReadFile(job.InputDir)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("failed to read artifact: %w", err)}
	}
	if err := os.MkdirAll(filepath.Dir(job.Output), 0o755); err != nil {
		return Result{Job: job, Error: fmt.Errorf("failed to create export directory: %w", err)}
	}
	if err := os.WriteFile(job.Output, data, 0o644); err != nil {
		return Result{Job: job, Error: fmt.Errorf("failed to write artifact: %w", err)}
	}
	return Result{Job: job, Meta: map[string]any{"output": job.Output, "bytes": len(data)}}
}
