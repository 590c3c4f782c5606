package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"panosphere/internal/sphere"
)

func TestStabilityFilterDebounce(t *testing.T) {
	f := StabilityFilter{Threshold: 0.35, Dwell: 300 * time.Millisecond}
	t0 := time.Now()

	// Calm readings inside the dwell window are not yet stable.
	assert.False(t, f.Observe(t0, 0.1))
	assert.False(t, f.Observe(t0.Add(100*time.Millisecond), 0.1))
	assert.False(t, f.Observe(t0.Add(299*time.Millisecond), 0.1))

	// The full window elapses.
	assert.True(t, f.Observe(t0.Add(300*time.Millisecond), 0.1))
	assert.True(t, f.Observe(t0.Add(400*time.Millisecond), 0.1))
}

func TestStabilityFilterExcursionRestartsDwell(t *testing.T) {
	f := StabilityFilter{Threshold: 0.35, Dwell: 300 * time.Millisecond}
	t0 := time.Now()

	assert.False(t, f.Observe(t0, 0.1))
	// An excursion at the threshold counts as movement.
	assert.False(t, f.Observe(t0.Add(200*time.Millisecond), 0.35))
	// The clock restarted; 300ms from the excursion has not yet passed.
	assert.False(t, f.Observe(t0.Add(250*time.Millisecond), 0.1))
	assert.False(t, f.Observe(t0.Add(500*time.Millisecond), 0.1))
	assert.True(t, f.Observe(t0.Add(550*time.Millisecond), 0.1))
}

func TestStabilityFilterZeroDwell(t *testing.T) {
	f := StabilityFilter{Threshold: 0.35}
	assert.True(t, f.Observe(time.Now(), 0.1))
}

func TestSampleMagnitude(t *testing.T) {
	s := Sample{Accel: r3.Vec{X: 3, Y: 4}, Gyro: r3.Vec{Z: 2}}
	assert.InDelta(t, 7, s.Magnitude(), 1e-9)
}

func TestGateFailsClosedOnMissingSample(t *testing.T) {
	g := Gate{
		Stability: StabilityFilter{Threshold: 0.35},
		HFOVDeg:   60, VFOVDeg: 45, CenterTol: 0.05,
	}
	st := g.Evaluate(nil, sphere.Target{}, time.Now())
	assert.False(t, st.Stable)
	assert.False(t, st.Centered)
	assert.False(t, st.Pass())
}

func TestGateFailsClosedOnStaleSample(t *testing.T) {
	g := Gate{
		Stability:    StabilityFilter{Threshold: 0.35},
		HFOVDeg:      60,
		VFOVDeg:      45,
		CenterTol:    0.05,
		MaxSampleAge: 500 * time.Millisecond,
	}
	now := time.Now()
	target := sphere.Target{AzimuthDeg: 0, ElevationDeg: 0}

	// A fresh, perfectly aimed, perfectly still sample passes with zero dwell.
	fresh := &Sample{At: now}
	st := g.Evaluate(fresh, target, now)
	require.True(t, st.Pass())

	// The same sample a second later is stale and clears the dwell.
	st = g.Evaluate(fresh, target, now.Add(time.Second))
	assert.False(t, st.Stable)
	assert.False(t, st.Centered)
}

func TestCentered(t *testing.T) {
	target := sphere.Target{AzimuthDeg: 40, ElevationDeg: 0}

	// Dead on.
	assert.True(t, Centered(40, 0, target, 60, 45, 0.05))
	// Slightly off but under tolerance with a wide view.
	assert.True(t, Centered(40.5, 0, target, 60, 45, 0.05))
	// Well off to the side.
	assert.False(t, Centered(70, 0, target, 60, 45, 0.05))
	// Off vertically.
	assert.False(t, Centered(40, 30, target, 60, 45, 0.05))
	// Behind the camera is never centered, even with an absurd tolerance.
	assert.False(t, Centered(220, 0, target, 60, 45, 100))
}

func TestCenteredAtPoleTarget(t *testing.T) {
	target := sphere.Target{AzimuthDeg: 0, ElevationDeg: 90}
	assert.True(t, Centered(0, 90, target, 60, 45, 0.05))
	assert.True(t, Centered(180, 90, target, 60, 45, 0.05))
	assert.False(t, Centered(0, 0, target, 60, 45, 0.05))
}
