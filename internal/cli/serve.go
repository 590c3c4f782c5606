package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"panosphere/internal/config"
	"panosphere/internal/enhance"
	"panosphere/internal/motion"
	"panosphere/internal/pipeline"
	"panosphere/internal/server"
	"panosphere/internal/session"
	"panosphere/internal/source"
	"panosphere/internal/storage"
)

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		sourceKind string
		watchDir   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture orchestration service",
		Long: `Start the capture session and its HTTP/websocket surface.

Examples:
  # Device link over websocket (default)
  panosphere serve --addr :8480

  # Frames dropped into a watched directory
  panosphere serve --source dir --watch ./frames`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if sourceKind != "" {
				cfg.Source.Kind = sourceKind
			}
			if watchDir != "" {
				cfg.Source.WatchDir = watchDir
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dbPath, err := config.ExpandUser(cfg.Paths.DatabasePath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return err
			}
			store, err := storage.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			frameMaxAge := time.Duration(cfg.Source.FrameMaxAge) * time.Millisecond
			var (
				frames  session.FrameSource
				motions source.MotionSource
				live    *source.LiveSource
			)
			switch cfg.Source.Kind {
			case "dir":
				dir, err := source.NewDirectorySource(cfg.Source.WatchDir, frameMaxAge, root.log)
				if err != nil {
					return fmt.Errorf("failed to watch frame directory: %w", err)
				}
				defer dir.Close()
				frames, motions = dir, dir
			default: // "ws"
				live = source.NewLiveSource(frameMaxAge, cfg.Source.MotionBuffer)
				defer live.Close()
				frames, motions = live, live
			}

			var enhancer session.EnhanceFunc
			if cfg.Capture.Sharpen {
				enhancer = enhance.ForTool(cfg.Capture.SharpenTool)
			}

			sess, err := session.New(frames, session.Options{
				Plan: cfg.PlanConfig(),
				Gate: motion.Gate{
					Stability: motion.StabilityFilter{
						Threshold: cfg.Gate.MotionThreshold,
						Dwell:     time.Duration(cfg.Gate.DwellMs) * time.Millisecond,
					},
					HFOVDeg:      cfg.Capture.HFOVDeg,
					VFOVDeg:      cfg.Capture.VFOVDeg,
					CenterTol:    cfg.Gate.CenterTolerance,
					MaxSampleAge: time.Duration(cfg.Gate.SampleMaxAgeMs) * time.Millisecond,
				},
				Enhance: enhancer,
				Logger:  root.log,
			})
			if err != nil {
				return err
			}

			planJSON := "{}"
			if data, err := json.Marshal(sess.Plan()); err == nil {
				planJSON = string(data)
			}
			if err := store.RecordSessionStart(sess.ID(), sess.Plan().Count(), planJSON); err != nil {
				root.log.Warn("failed to record session", "error", err)
			}

			// Motion samples gate auto-captures; the session only ever reads
			// the queue head from this path.
			go func() {
				for sample := range motions.Samples() {
					sess.HandleMotion(ctx, sample)
				}
			}()

			pipe := pipeline.New(ctx, 2, root.log, store, cfg.Stitcher)
			defer pipe.Stop()

			srv := server.New(cfg, sess, live, store, pipe, root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (host:port)")
	cmd.Flags().StringVar(&sourceKind, "source", "", "Frame source kind: ws or dir")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch when --source dir")
	return cmd
}
