package motion

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"panosphere/internal/sphere"
)

// Sample is one orientation/motion reading from the device sensor stream.
type Sample struct {
	At           time.Time `json:"at"`
	AzimuthDeg   float64   `json:"azimuth_deg"`
	ElevationDeg float64   `json:"elevation_deg"`
	Accel        r3.Vec    `json:"accel"` // linear acceleration, m/s^2
	Gyro         r3.Vec    `json:"gyro"`  // rotation rate, rad/s
}

// Magnitude combines linear acceleration and angular rate into the single
// motion figure the stability filter debounces on.
func (s Sample) Magnitude() float64 {
	return r3.Norm(s.Accel) + r3.Norm(s.Gyro)
}

// StabilityFilter is a two-state debounce over the motion magnitude. The device
// counts as stable only after the magnitude has stayed below Threshold for the
// full Dwell window; any excursion at or above Threshold restarts the clock.
type StabilityFilter struct {
	Threshold float64
	Dwell     time.Duration

	calmSince time.Time
	calm      bool
	stable    bool
}

// Observe feeds one magnitude reading and reports whether the device is stable.
func (f *StabilityFilter) Observe(at time.Time, magnitude float64) bool {
	if magnitude >= f.Threshold {
		f.calm = false
		f.stable = false
		return false
	}
	if !f.calm {
		f.calm = true
		f.calmSince = at
	}
	if at.Sub(f.calmSince) >= f.Dwell {
		f.stable = true
	}
	return f.stable
}

// Reset drops any accumulated dwell, forcing the filter back to moving.
func (f *StabilityFilter) Reset() {
	f.calm = false
	f.stable = false
}

// State is the transient gate verdict for one evaluation tick.
type State struct {
	Stable   bool `json:"stable"`
	Centered bool `json:"centered"`
}

// Pass reports whether an auto-capture is allowed this tick.
func (s State) Pass() bool { return s.Stable && s.Centered }

// Gate decides, from live sensor samples, whether it is safe to auto-capture
// the current target. Missing or stale input fails closed: neither sub-check
// passes without fresh data.
type Gate struct {
	Stability    StabilityFilter
	HFOVDeg      float64
	VFOVDeg      float64
	CenterTol    float64       // normalized device coordinate tolerance
	MaxSampleAge time.Duration // 0 disables the staleness check
}

// Evaluate runs both sub-checks against the current queue head.
func (g *Gate) Evaluate(s *Sample, target sphere.Target, now time.Time) State {
	if s == nil || (g.MaxSampleAge > 0 && now.Sub(s.At) > g.MaxSampleAge) {
		g.Stability.Reset()
		return State{}
	}
	return State{
		Stable:   g.Stability.Observe(s.At, s.Magnitude()),
		Centered: Centered(s.AzimuthDeg, s.ElevationDeg, target, g.HFOVDeg, g.VFOVDeg, g.CenterTol),
	}
}

// Reset clears the stability dwell, used when a session restarts.
func (g *Gate) Reset() { g.Stability.Reset() }

// Centered projects the target direction into the camera's view space and
// checks both normalized offsets against the tolerance. A target behind the
// camera is never centered.
func Centered(viewAzDeg, viewElevDeg float64, target sphere.Target, hfovDeg, vfovDeg, tol float64) bool {
	forward, right, up := sphere.Basis(viewAzDeg, viewElevDeg)
	dir := sphere.Direction(target.AzimuthDeg, target.ElevationDeg)

	depth := r3.Dot(dir, forward)
	if depth <= 0 {
		return false
	}
	nx := r3.Dot(dir, right) / (depth * math.Tan(hfovDeg*math.Pi/360))
	ny := r3.Dot(dir, up) / (depth * math.Tan(vfovDeg*math.Pi/360))
	return math.Abs(nx) < tol && math.Abs(ny) < tol
}
