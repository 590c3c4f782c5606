package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"panosphere/internal/motion"
	"panosphere/internal/sphere"
)

// FrameSource supplies one frame from the live video feed on demand.
type FrameSource interface {
	AcquireFrame(ctx context.Context) ([]byte, error)
}

// EnhanceFunc optionally post-processes a captured frame (sharpening).
type EnhanceFunc func([]byte) ([]byte, error)

// Tile is one committed capture. Never mutated after commit except for the
// next-direction annotation, which is set once when its successor is captured.
type Tile struct {
	ID         string         `json:"id"`
	Target     sphere.Target  `json:"target"`
	Image      []byte         `json:"-"`
	Sequence   int            `json:"sequence"`
	NextTarget *sphere.Target `json:"next_target,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
}

// Phase is the capture pipeline state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseCapturing:
		return "capturing"
	case PhaseComplete:
		return "complete"
	default:
		return "idle"
	}
}

var (
	// ErrQueueEmpty means the session has no targets left (or none at all).
	ErrQueueEmpty = errors.New("capture queue is empty")
	// ErrNoTiles means no captures have been committed yet.
	ErrNoTiles = errors.New("no tiles captured")
	// ErrManualAfterFirst rejects manual taps once auto-capture has taken over.
	ErrManualAfterFirst = errors.New("manual capture is only allowed for the first frame")
	// ErrComplete rejects triggers on a finished session.
	ErrComplete = errors.New("session is complete; reset to capture again")
)

// State is the session snapshot exposed to the UI and API.
type State struct {
	SessionID     string         `json:"session_id"`
	Phase         string         `json:"phase"`
	CapturedCount int            `json:"captured_count"`
	Total         int            `json:"total"`
	Remaining     int            `json:"remaining"`
	Complete      bool           `json:"complete"`
	Instruction   string         `json:"instruction"`
	Alignment     motion.State   `json:"alignment"`
	NextTarget    *sphere.Target `json:"next_target,omitempty"`
}

// EventKind labels session events for subscribers.
type EventKind string

const (
	EventCaptured      EventKind = "captured"
	EventCaptureFailed EventKind = "capture_failed"
	EventComplete      EventKind = "complete"
	EventReset         EventKind = "reset"
)

// Event is pushed to subscribers on every pipeline transition worth rendering.
type Event struct {
	Kind  EventKind
	State State
	Scene SceneModel
	Tile  *Tile // set for EventCaptured / EventComplete
}

// Options configures a session.
type Options struct {
	Plan    sphere.PlanConfig
	Gate    motion.Gate
	Enhance EnhanceFunc // nil disables sharpening
	Logger  *slog.Logger
}

// Session owns the coverage plan, the capture queue, the alignment gate, the
// captured tile list, and the pipeline state machine. All engine state lives
// here; collaborators only see snapshots and events.
type Session struct {
	mu sync.Mutex

	id      string
	planCfg sphere.PlanConfig
	plan    sphere.CoveragePlan
	queue   *Queue
	gate    motion.Gate
	source  FrameSource
	enhance EnhanceFunc
	log     *slog.Logger

	phase      Phase
	inFlight   bool
	generation uint64
	firstDone  bool

	tiles       []Tile
	instruction string
	lastSample  *motion.Sample
	lastGate    motion.State

	subs   map[int]chan Event
	nextID int
}

// New validates the plan config, generates the plan, and returns an idle
// session ready for its first manual capture.
func New(src FrameSource, opts Options) (*Session, error) {
	if err := opts.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan config: %w", err)
	}
	if src == nil {
		return nil, errors.New("nil frame source")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	plan := sphere.Plan(opts.Plan)
	s := &Session{
		id:          uuid.NewString(),
		planCfg:     opts.Plan,
		plan:        plan,
		queue:       NewQueue(plan),
		gate:        opts.Gate,
		source:      src,
		enhance:     opts.Enhance,
		log:         logger,
		instruction: "Tap capture to take the first frame",
		subs:        make(map[int]chan Event),
	}
	logger.Info("session created",
		"session_id", s.id,
		"targets", plan.Count(),
		"truncated", plan.Truncated,
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Plan returns the immutable coverage plan the session was built from.
func (s *Session) Plan() sphere.CoveragePlan { return s.plan }

// Subscribe returns an event channel and a cancel function, in the same shape
// the job pipeline uses. Slow subscribers drop events rather than block the
// engine.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) publishLocked(ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// State returns the current session snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		SessionID:     s.id,
		Phase:         s.phase.String(),
		CapturedCount: len(s.tiles),
		Total:         s.plan.Count(),
		Remaining:     s.queue.Len(),
		Complete:      s.phase == PhaseComplete,
		Instruction:   s.instruction,
		Alignment:     s.lastGate,
	}
	if head, ok := s.queue.PeekNext(); ok {
		st.NextTarget = &head
	}
	return st
}

// Scene returns the renderable model mirroring current engine state.
func (s *Session) Scene() SceneModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sceneLocked()
}

func (s *Session) sceneLocked() SceneModel {
	var head *sphere.Target
	if h, ok := s.queue.PeekNext(); ok {
		head = &h
	}
	return buildScene(s.planCfg, head, s.tiles, s.phase == PhaseComplete)
}

// Tiles returns the committed tiles in capture order. The returned slice is a
// copy; image bytes are shared.
func (s *Session) Tiles() []Tile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tile, len(s.tiles))
	copy(out, s.tiles)
	return out
}

// Reset replaces the queue with a fresh copy of the plan, clears the tile list
// and counters, and discards any in-flight capture result once it resolves.
// Safe to call in any pipeline state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.queue.Reset(s.plan)
	s.tiles = nil
	s.phase = PhaseIdle
	s.inFlight = false
	s.firstDone = false
	s.lastSample = nil
	s.lastGate = motion.State{}
	s.gate.Reset()
	s.instruction = "Tap capture to take the first frame"
	s.log.Info("session reset", "session_id", s.id, "targets", s.plan.Count())
	s.publishLocked(Event{Kind: EventReset, State: s.stateLocked(), Scene: s.sceneLocked()})
}

// HandleMotion ingests one sensor sample, evaluates the alignment gate against
// the current queue head, and fires an auto-capture when both sub-checks pass.
// Samples never mutate the queue or tile list directly.
func (s *Session) HandleMotion(ctx context.Context, sample motion.Sample) motion.State {
	s.mu.Lock()
	head, ok := s.queue.PeekNext()
	if !ok {
		s.lastGate = motion.State{}
		s.mu.Unlock()
		return motion.State{}
	}
	s.lastSample = &sample
	st := s.gate.Evaluate(&sample, head, sample.At)
	s.lastGate = st
	fire := st.Pass() && s.phase == PhaseIdle && !s.inFlight && s.firstDone
	if fire {
		s.beginCaptureLocked(ctx, head)
	}
	s.mu.Unlock()
	return st
}

// TriggerManualCapture starts the very first capture of the session. Later
// captures are exclusively gate-driven. A tap while a capture is in flight is
// silently ignored.
func (s *Session) TriggerManualCapture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight || s.phase == PhaseCapturing {
		return nil // conflict is a no-op, not an error
	}
	if s.phase == PhaseComplete {
		return ErrComplete
	}
	if s.firstDone {
		return ErrManualAfterFirst
	}
	head, ok := s.queue.PeekNext()
	if !ok {
		return ErrQueueEmpty
	}
	s.beginCaptureLocked(ctx, head)
	return nil
}

func (s *Session) beginCaptureLocked(ctx context.Context, target sphere.Target) {
	s.inFlight = true
	s.phase = PhaseCapturing
	gen := s.generation
	s.instruction = "Hold steady..."
	go s.runCapture(ctx, gen, target)
}

// runCapture performs the asynchronous half of the pipeline: frame acquisition
// and enhancement happen outside the lock, the commit happens under it. A reset
// while the capture is in flight bumps the generation and the result is
// discarded on resolve.
func (s *Session) runCapture(ctx context.Context, gen uint64, target sphere.Target) {
	frame, err := s.source.AcquireFrame(ctx)
	if err == nil && s.enhance != nil {
		if enhanced, enhErr := s.enhance(frame); enhErr == nil {
			frame = enhanced
		} else {
			s.log.Warn("enhancement failed, keeping raw frame", "error", enhErr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.log.Debug("discarding stale capture result", "session_id", s.id)
		return
	}
	s.inFlight = false

	if err != nil {
		// Abort without dequeuing: the target stays at the head for retry.
		s.phase = PhaseIdle
		s.instruction = "Camera not ready - hold position and try again"
		s.log.Warn("frame acquisition failed",
			"session_id", s.id,
			"azimuth", target.AzimuthDeg,
			"elevation", target.ElevationDeg,
			"error", err,
		)
		s.publishLocked(Event{Kind: EventCaptureFailed, State: s.stateLocked(), Scene: s.sceneLocked()})
		return
	}

	head, ok := s.queue.Dequeue()
	if !ok {
		// Guarded but unreachable: captures only start with a non-empty queue
		// and nothing else dequeues.
		s.phase = PhaseComplete
		s.instruction = "Panorama complete"
		s.publishLocked(Event{Kind: EventComplete, State: s.stateLocked(), Scene: s.sceneLocked()})
		return
	}

	tile := Tile{
		ID:         uuid.NewString(),
		Target:     head,
		Image:      frame,
		Sequence:   len(s.tiles),
		CapturedAt: time.Now(),
	}

	// The previous tile learns where the next capture will happen, purely to
	// drive the pointer indicator.
	if next, ok := s.queue.PeekNext(); ok && len(s.tiles) > 0 {
		n := next
		s.tiles[len(s.tiles)-1].NextTarget = &n
	}
	s.tiles = append(s.tiles, tile)
	s.firstDone = true

	s.log.Info("tile captured",
		"session_id", s.id,
		"sequence", tile.Sequence,
		"azimuth", head.AzimuthDeg,
		"elevation", head.ElevationDeg,
		"bytes", len(frame),
	)

	if s.queue.IsEmpty() {
		s.phase = PhaseComplete
		s.instruction = "Panorama complete"
		s.publishLocked(Event{Kind: EventComplete, State: s.stateLocked(), Scene: s.sceneLocked(), Tile: &tile})
		return
	}
	s.phase = PhaseIdle
	s.instruction = fmt.Sprintf("Captured %d of %d - aim at the next marker", len(s.tiles), s.plan.Count())
	s.publishLocked(Event{Kind: EventCaptured, State: s.stateLocked(), Scene: s.sceneLocked(), Tile: &tile})
}

// ExportTiles writes every committed tile into dir as sequentially named JPEG
// files and returns the paths in capture order, the hand-off format the
// stitcher consumes.
func (s *Session) ExportTiles(dir string) ([]string, error) {
	tiles := s.Tiles()
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	paths := make([]string, 0, len(tiles))
	for _, t := range tiles {
		name := fmt.Sprintf("tile_%04d_az%03.0f_el%+03.0f.jpg", t.Sequence, t.Target.AzimuthDeg, t.Target.ElevationDeg)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, t.Image, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write tile %d: %w", t.Sequence, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
