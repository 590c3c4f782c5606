package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"panosphere/internal/motion"
	"panosphere/internal/sphere"
)

type stubSource struct {
	frame []byte
	err   error
	gate  chan struct{} // when set, AcquireFrame blocks until closed
	calls int
}

func (s *stubSource) AcquireFrame(ctx context.Context) ([]byte, error) {
	s.calls++
	if s.gate != nil {
		<-s.gate
	}
	return s.frame, s.err
}

func threeTargetOptions() Options {
	return Options{
		Plan: sphere.PlanConfig{
			RadiusM: 10,
			HFOVDeg: 60,
			VFOVDeg: 45,
			Bands:   []sphere.Band{{ElevationDeg: 0, AzimuthStepDeg: 120}},
		},
		Gate: motion.Gate{
			Stability: motion.StabilityFilter{Threshold: 1000},
			HFOVDeg:   60, VFOVDeg: 45, CenterTol: 0.5,
		},
	}
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// aimedAt returns a still sample pointing straight at the target.
func aimedAt(target sphere.Target) motion.Sample {
	return motion.Sample{
		At:           time.Now(),
		AzimuthDeg:   target.AzimuthDeg,
		ElevationDeg: target.ElevationDeg,
	}
}

func TestFullCaptureSequence(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	sess, err := New(src, threeTargetOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, cancel := sess.Subscribe()
	defer cancel()

	ctx := context.Background()

	// First capture is manual.
	if err := sess.TriggerManualCapture(ctx); err != nil {
		t.Fatalf("manual capture: %v", err)
	}
	waitEvent(t, events, EventCaptured)

	// The rest are gate-driven.
	st := sess.State()
	if st.NextTarget == nil {
		t.Fatalf("expected a next target after the first capture")
	}
	sess.HandleMotion(ctx, aimedAt(*st.NextTarget))
	waitEvent(t, events, EventCaptured)

	st = sess.State()
	sess.HandleMotion(ctx, aimedAt(*st.NextTarget))
	ev := waitEvent(t, events, EventComplete)

	if !ev.State.Complete || ev.State.Phase != "complete" {
		t.Fatalf("final state not complete: %+v", ev.State)
	}
	tiles := sess.Tiles()
	if len(tiles) != 3 {
		t.Fatalf("expected 3 tiles, got %d", len(tiles))
	}
	want := []float64{0, 120, 240}
	for i, tile := range tiles {
		if tile.Target.AzimuthDeg != want[i] {
			t.Fatalf("tile %d azimuth %.0f, want %.0f", i, tile.Target.AzimuthDeg, want[i])
		}
		if tile.Sequence != i {
			t.Fatalf("tile %d carries sequence %d", i, tile.Sequence)
		}
	}
	if st := sess.State(); st.Remaining != 0 || st.CapturedCount != 3 {
		t.Fatalf("final counters wrong: %+v", st)
	}
}

func TestNextTargetAnnotation(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	waitEvent(t, events, EventCaptured)
	sess.HandleMotion(ctx, aimedAt(*sess.State().NextTarget))
	waitEvent(t, events, EventCaptured)

	tiles := sess.Tiles()
	if tiles[0].NextTarget == nil {
		t.Fatalf("first tile never learned the follow-up direction")
	}
	if tiles[0].NextTarget.AzimuthDeg != 240 {
		t.Fatalf("first tile points at az %.0f, want 240", tiles[0].NextTarget.AzimuthDeg)
	}
	// The newest tile has no successor yet.
	if tiles[1].NextTarget != nil {
		t.Fatalf("latest tile should not carry a next direction")
	}
}

func TestManualOnlyForFirstCapture(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	waitEvent(t, events, EventCaptured)

	if err := sess.TriggerManualCapture(ctx); !errors.Is(err, ErrManualAfterFirst) {
		t.Fatalf("expected ErrManualAfterFirst, got %v", err)
	}
}

func TestFailedAcquisitionKeepsTarget(t *testing.T) {
	src := &stubSource{err: errors.New("no frame")}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	before := sess.State()
	sess.TriggerManualCapture(ctx)
	ev := waitEvent(t, events, EventCaptureFailed)

	if ev.State.CapturedCount != 0 {
		t.Fatalf("failed capture committed a tile")
	}
	if ev.State.Remaining != before.Remaining {
		t.Fatalf("failed capture dequeued the target: %d -> %d", before.Remaining, ev.State.Remaining)
	}
	if ev.State.Phase != "idle" {
		t.Fatalf("expected idle after failure, got %s", ev.State.Phase)
	}
	if ev.State.NextTarget == nil || *ev.State.NextTarget != *before.NextTarget {
		t.Fatalf("head target changed after failure")
	}

	// The first capture is still manual; retry succeeds.
	src.err = nil
	src.frame = []byte("frame")
	if err := sess.TriggerManualCapture(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitEvent(t, events, EventCaptured)
}

func TestManualDuringCaptureIsNoOp(t *testing.T) {
	src := &stubSource{frame: []byte("frame"), gate: make(chan struct{})}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	// In flight: a second tap neither errors nor starts another capture.
	if err := sess.TriggerManualCapture(ctx); err != nil {
		t.Fatalf("tap during capture returned %v", err)
	}
	close(src.gate)
	waitEvent(t, events, EventCaptured)

	if src.calls != 1 {
		t.Fatalf("expected a single acquisition, got %d", src.calls)
	}
	if len(sess.Tiles()) != 1 {
		t.Fatalf("expected a single tile, got %d", len(sess.Tiles()))
	}
}

func TestMotionDuringCaptureDoesNotFire(t *testing.T) {
	src := &stubSource{frame: []byte("frame"), gate: make(chan struct{})}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	close(src.gate)
	waitEvent(t, events, EventCaptured)

	src.gate = make(chan struct{})
	head := *sess.State().NextTarget
	sess.HandleMotion(ctx, aimedAt(head))
	// Second sample arrives while the capture is in flight.
	sess.HandleMotion(ctx, aimedAt(head))
	close(src.gate)
	waitEvent(t, events, EventCaptured)

	if src.calls != 2 {
		t.Fatalf("expected 2 acquisitions, got %d", src.calls)
	}
}

func TestMotionWithoutGatePassDoesNotFire(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	waitEvent(t, events, EventCaptured)

	// Aimed well off the queue head: centering fails and nothing fires.
	off := aimedAt(*sess.State().NextTarget)
	off.AzimuthDeg += 90
	if st := sess.HandleMotion(ctx, off); st.Pass() {
		t.Fatalf("gate passed on a misaimed sample")
	}
	time.Sleep(50 * time.Millisecond)

	if src.calls != 1 {
		t.Fatalf("misaimed sample triggered an acquisition, %d calls", src.calls)
	}
	if st := sess.State(); st.Remaining != 2 || st.CapturedCount != 1 {
		t.Fatalf("session advanced without a gate pass: %+v", st)
	}
}

func TestResetDiscardsInFlightCapture(t *testing.T) {
	src := &stubSource{frame: []byte("frame"), gate: make(chan struct{})}
	sess, _ := New(src, threeTargetOptions())
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	sess.Reset()
	waitEvent(t, events, EventReset)
	close(src.gate)

	// The stale result resolves and is dropped; nothing commits.
	time.Sleep(50 * time.Millisecond)
	st := sess.State()
	if st.CapturedCount != 0 {
		t.Fatalf("stale capture committed after reset")
	}
	if st.Remaining != 3 {
		t.Fatalf("reset queue holds %d targets, want 3", st.Remaining)
	}
	if st.Phase != "idle" {
		t.Fatalf("expected idle after reset, got %s", st.Phase)
	}

	// The session starts over, manual-first.
	if err := sess.TriggerManualCapture(ctx); err != nil {
		t.Fatalf("manual capture after reset: %v", err)
	}
	waitEvent(t, events, EventCaptured)
}

func TestResetIsIdempotent(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	sess, _ := New(src, threeTargetOptions())

	sess.Reset()
	once := sess.State()
	sess.Reset()
	twice := sess.State()

	if once.Remaining != twice.Remaining || once.CapturedCount != twice.CapturedCount {
		t.Fatalf("double reset diverged: %+v vs %+v", once, twice)
	}
	if *once.NextTarget != *twice.NextTarget {
		t.Fatalf("double reset changed the head target")
	}
}

func TestCompleteSessionRejectsTriggers(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	opts := threeTargetOptions()
	opts.Plan.Bands = []sphere.Band{{ElevationDeg: 0, AzimuthStepDeg: 360}}
	sess, _ := New(src, opts)
	events, cancel := sess.Subscribe()
	defer cancel()
	ctx := context.Background()

	sess.TriggerManualCapture(ctx)
	waitEvent(t, events, EventComplete)

	if err := sess.TriggerManualCapture(ctx); !errors.Is(err, ErrComplete) {
		t.Fatalf("expected ErrComplete, got %v", err)
	}
	// Motion samples on a finished session are inert.
	st := sess.HandleMotion(ctx, aimedAt(sphere.Target{}))
	if st.Pass() {
		t.Fatalf("gate passed on a complete session")
	}
	if src.calls != 1 {
		t.Fatalf("finished session acquired another frame")
	}
}

func TestEnhanceApplied(t *testing.T) {
	src := &stubSource{frame: []byte("raw")}
	opts := threeTargetOptions()
	opts.Enhance = func(b []byte) ([]byte, error) {
		return append([]byte("sharp:"), b...), nil
	}
	sess, _ := New(src, opts)
	events, cancel := sess.Subscribe()
	defer cancel()

	sess.TriggerManualCapture(context.Background())
	waitEvent(t, events, EventCaptured)

	if got := sess.Tiles()[0].Image; !bytes.Equal(got, []byte("sharp:raw")) {
		t.Fatalf("tile image = %q", got)
	}
}

func TestEnhanceFailureKeepsRawFrame(t *testing.T) {
	src := &stubSource{frame: []byte("raw")}
	opts := threeTargetOptions()
	opts.Enhance = func(b []byte) ([]byte, error) {
		return nil, errors.New("decode failed")
	}
	sess, _ := New(src, opts)
	events, cancel := sess.Subscribe()
	defer cancel()

	sess.TriggerManualCapture(context.Background())
	waitEvent(t, events, EventCaptured)

	if got := sess.Tiles()[0].Image; !bytes.Equal(got, []byte("raw")) {
		t.Fatalf("tile image = %q, want raw frame", got)
	}
}

func TestExportTiles(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	opts := threeTargetOptions()
	opts.Plan.Bands = []sphere.Band{{ElevationDeg: -30, AzimuthStepDeg: 360}}
	sess, _ := New(src, opts)
	events, cancel := sess.Subscribe()
	defer cancel()

	sess.TriggerManualCapture(context.Background())
	waitEvent(t, events, EventComplete)

	dir := t.TempDir()
	paths, err := sess.ExportTiles(dir)
	if err != nil {
		t.Fatalf("ExportTiles: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 exported tile, got %d", len(paths))
	}
	want := filepath.Join(dir, "tile_0000_az000_el-30.jpg")
	if paths[0] != want {
		t.Fatalf("exported %s, want %s", paths[0], want)
	}
	data, err := os.ReadFile(paths[0])
	if err != nil || !bytes.Equal(data, []byte("frame")) {
		t.Fatalf("exported tile content %q err %v", data, err)
	}
}

func TestExportTilesEmptySession(t *testing.T) {
	src := &stubSource{frame: []byte("frame")}
	sess, _ := New(src, threeTargetOptions())
	if _, err := sess.ExportTiles(t.TempDir()); !errors.Is(err, ErrNoTiles) {
		t.Fatalf("expected ErrNoTiles, got %v", err)
	}
}
