package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"panosphere/internal/config"
	"panosphere/internal/pipeline"
	"panosphere/internal/session"
	"panosphere/internal/source"
	"panosphere/internal/sphere"
	"panosphere/internal/storage"
)

// Server exposes the capture session over HTTP and websockets: a JSON API for
// control, a device link for incoming frames/sensor data, and a state stream
// for the renderer.
type Server struct {
	addr      string
	cfg       *config.Config
	sess      *session.Session
	live      *source.LiveSource // nil when frames come from a watched directory
	store     *storage.Store
	pipe      *pipeline.Pipeline
	log       *slog.Logger
	hub       *hub
	server    *http.Server
	outputDir string
}

// New creates a server wired to the session and its collaborators.
func New(cfg *config.Config, sess *session.Session, live *source.LiveSource, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	outputDir, err := config.ExpandUser(cfg.Paths.OutputDir)
	if err != nil {
		outputDir = cfg.Paths.OutputDir
	}
	return &Server{
		addr:      cfg.Server.Addr,
		cfg:       cfg,
		sess:      sess,
		live:      live,
		store:     store,
		pipe:      pipe,
		log:       log,
		hub:       newHub(log),
		outputDir: outputDir,
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.mirrorEvents(ctx)

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler builds the full route set, exported for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/session", s.handleSession).Methods("GET")
	r.HandleFunc("/api/session/capture", s.handleCapture).Methods("POST")
	r.HandleFunc("/api/session/reset", s.handleReset).Methods("POST")
	r.HandleFunc("/api/plan", s.handlePlan).Methods("GET")
	r.HandleFunc("/api/stitch", s.handleStitch).Methods("POST")
	r.HandleFunc("/api/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/ws/device", s.handleDeviceWS)
	r.HandleFunc("/ws/state", s.handleStateWS)
}

// mirrorEvents persists committed tiles and fans session state out to the
// renderer stream.
func (s *Server) mirrorEvents(ctx context.Context) {
	events, cancel := s.sess.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.persistEvent(ev)
			s.hub.broadcastJSON(map[string]any{
				"kind":  string(ev.Kind),
				"state": ev.State,
				"scene": ev.Scene,
			})
		}
	}
}

func (s *Server) persistEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventCaptured, session.EventComplete:
		if ev.Tile != nil {
			s.persistTile(*ev.Tile)
		}
		if ev.Kind == session.EventComplete && s.store != nil {
			_ = s.store.RecordSessionComplete(s.sess.ID())
		}
	case session.EventReset:
		if s.store != nil {
			_ = s.store.RecordSessionReset(s.sess.ID())
		}
	}
}

func (s *Server) persistTile(t session.Tile) {
	dir := filepath.Join(s.outputDir, s.sess.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("failed to create tile directory", "error", err)
		return
	}
	name := fmt.Sprintf("tile_%04d_az%03.0f_el%+03.0f.jpg", t.Sequence, t.Target.AzimuthDeg, t.Target.ElevationDeg)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, t.Image, 0o644); err != nil {
		s.log.Warn("failed to write tile", "path", path, "error", err)
		return
	}
	if s.store != nil {
		_ = s.store.RecordTile(storage.TileRecord{
			ID:           t.ID,
			SessionID:    s.sess.ID(),
			Sequence:     t.Sequence,
			AzimuthDeg:   t.Target.AzimuthDeg,
			ElevationDeg: t.Target.ElevationDeg,
			ByteSize:     len(t.Image),
			FilePath:     path,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.sess.State(),
		"scene": s.sess.Scene(),
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	err := s.sess.TriggerManualCapture(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.sess.State())
	case errors.Is(err, session.ErrManualAfterFirst),
		errors.Is(err, session.ErrQueueEmpty),
		errors.Is(err, session.ErrComplete):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.sess.Reset()
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan := s.sess.Plan()
	fw, fh := sphere.Footprint(s.cfg.Capture.SphereRadiusM, s.cfg.Capture.HFOVDeg, s.cfg.Capture.VFOVDeg)
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":        plan,
		"count":       plan.Count(),
		"footprint_w": fw,
		"footprint_h": fh,
	})
}

func (s *Server) handleStitch(w http.ResponseWriter, r *http.Request) {
	st := s.sess.State()
	if st.CapturedCount < 2 {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "need at least 2 captured tiles to stitch"})
		return
	}

	tileDir := filepath.Join(s.outputDir, s.sess.ID(), "export")
	if _, err := s.sess.ExportTiles(tileDir); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoTiles) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	var body struct {
		Output     string `json:"output"`
		Projection string `json:"projection"`
		Blending   string `json:"blending"`
		Quality    string `json:"quality"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Output == "" {
		body.Output = filepath.Join(s.outputDir, s.sess.ID(), "panorama.jpg")
	}

	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobStitch,
		SessionID: s.sess.ID(),
		InputDir:  tileDir,
		Output:    body.Output,
		Options: map[string]any{
			"projection": body.Projection,
			"blending":   body.Blending,
			"quality":    body.Quality,
		},
	}
	if err := s.pipe.Submit(job); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	meta, _ := s.store.JobMeta(id)
	writeJSON(w, http.StatusOK, map[string]any{"job": rec, "meta": meta})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
