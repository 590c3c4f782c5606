package sphere

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Target is one cell of sphere coverage: the orientation the camera must face
// when the corresponding frame is taken.
type Target struct {
	AzimuthDeg   float64 `json:"azimuth_deg"`
	ElevationDeg float64 `json:"elevation_deg"`
}

// Band pairs an elevation angle with the azimuth increment used across it.
// A step of 360 means a single capture for the whole band (the poles).
type Band struct {
	ElevationDeg   float64 `json:"elevation_deg"`
	AzimuthStepDeg float64 `json:"azimuth_step_deg"`
}

// PlanConfig holds everything needed to generate a coverage plan.
type PlanConfig struct {
	RadiusM    float64 `json:"radius_m"`
	OffsetM    float64 `json:"offset_m"`
	HFOVDeg    float64 `json:"hfov_deg"`
	VFOVDeg    float64 `json:"vfov_deg"`
	Bands      []Band  `json:"bands"`
	MaxTargets int     `json:"max_targets"` // 0 disables the clamp
}

// DefaultBands is the equator-first band table: dense steps near the equator,
// sparser poleward, one shot at each pole.
func DefaultBands() []Band {
	return []Band{
		{ElevationDeg: 0, AzimuthStepDeg: 40},
		{ElevationDeg: 30, AzimuthStepDeg: 45},
		{ElevationDeg: 60, AzimuthStepDeg: 60},
		{ElevationDeg: 90, AzimuthStepDeg: 360},
		{ElevationDeg: -30, AzimuthStepDeg: 45},
		{ElevationDeg: -60, AzimuthStepDeg: 60},
		{ElevationDeg: -90, AzimuthStepDeg: 360},
	}
}

// Validate checks the numeric ranges before planning.
func (c PlanConfig) Validate() error {
	if c.HFOVDeg <= 0 || c.HFOVDeg >= 180 {
		return fmt.Errorf("hfov %.1f out of range (0, 180)", c.HFOVDeg)
	}
	if c.VFOVDeg <= 0 || c.VFOVDeg >= 180 {
		return fmt.Errorf("vfov %.1f out of range (0, 180)", c.VFOVDeg)
	}
	if c.RadiusM <= 0 {
		return fmt.Errorf("sphere radius %.2f must be positive", c.RadiusM)
	}
	if len(c.Bands) == 0 {
		return fmt.Errorf("no elevation bands configured")
	}
	for _, b := range c.Bands {
		if b.AzimuthStepDeg <= 0 {
			return fmt.Errorf("band %.0f: azimuth step %.1f must be positive", b.ElevationDeg, b.AzimuthStepDeg)
		}
		if b.ElevationDeg < -90 || b.ElevationDeg > 90 {
			return fmt.Errorf("band elevation %.1f out of range [-90, 90]", b.ElevationDeg)
		}
	}
	return nil
}

// CoveragePlan is the ordered target sequence for one session. Immutable once
// built; the capture queue copies it on reset.
type CoveragePlan struct {
	Targets   []Target `json:"targets"`
	Truncated bool     `json:"truncated"`
}

// Count reports how many captures the plan requires.
func (p CoveragePlan) Count() int { return len(p.Targets) }

// Plan generates the coverage plan: for each band, in table order, ceil(360/step)
// targets at azimuths 0, step, 2*step, ... Azimuths are plain multiples, never
// wrapped below 360, so the last target of a band may sit next to the 0 one.
// That seam overlap is intentional and must not be clamped away.
func Plan(cfg PlanConfig) CoveragePlan {
	var plan CoveragePlan
	for _, band := range cfg.Bands {
		n := int(math.Ceil(360 / band.AzimuthStepDeg))
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			plan.Targets = append(plan.Targets, Target{
				AzimuthDeg:   float64(i) * band.AzimuthStepDeg,
				ElevationDeg: band.ElevationDeg,
			})
		}
	}
	if cfg.MaxTargets > 0 && len(plan.Targets) > cfg.MaxTargets {
		plan.Targets = plan.Targets[:cfg.MaxTargets]
		plan.Truncated = true
	}
	return plan
}

// Footprint returns the width and height of the plane a single tile occupies on
// the sphere surface, from the camera field of view.
func Footprint(radius, hfovDeg, vfovDeg float64) (w, h float64) {
	w = 2 * radius * math.Tan(deg2rad(hfovDeg)/2)
	h = 2 * radius * math.Tan(deg2rad(vfovDeg)/2)
	return w, h
}

// Project maps an orientation to a position on the sphere (pulled inward by
// offset) and the unit facing vector pointing back at the sphere center. Tiles
// face inward, toward a viewer standing at the origin.
func Project(azDeg, elevDeg, radius, offset float64) (pos, facing r3.Vec) {
	r := radius - offset
	az := deg2rad(azDeg)
	el := deg2rad(elevDeg)
	pos = r3.Vec{
		X: r * math.Cos(el) * math.Sin(az),
		Y: r * math.Sin(el),
		Z: -r * math.Cos(el) * math.Cos(az),
	}
	if n := r3.Norm(pos); n > 0 {
		facing = r3.Scale(-1/n, pos)
	} else {
		facing = Direction(azDeg, elevDeg)
	}
	return pos, facing
}

// Direction is the unit view direction for an orientation, the outward ray from
// the sphere center.
func Direction(azDeg, elevDeg float64) r3.Vec {
	az := deg2rad(azDeg)
	el := deg2rad(elevDeg)
	return r3.Vec{
		X: math.Cos(el) * math.Sin(az),
		Y: math.Sin(el),
		Z: -math.Cos(el) * math.Cos(az),
	}
}

// Angles recovers (azimuth, elevation) from a position, azimuth normalized to
// [0, 360).
func Angles(pos r3.Vec) (azDeg, elevDeg float64) {
	n := r3.Norm(pos)
	if n == 0 {
		return 0, 0
	}
	elevDeg = rad2deg(math.Asin(pos.Y / n))
	azDeg = rad2deg(math.Atan2(pos.X, -pos.Z))
	if azDeg < 0 {
		azDeg += 360
	}
	return azDeg, elevDeg
}

// Basis returns the camera right and up vectors for a view orientation. Near
// the poles the world-up cross product degenerates, so right falls back to the
// horizontal direction 90 degrees clockwise of the azimuth.
func Basis(azDeg, elevDeg float64) (forward, right, up r3.Vec) {
	forward = Direction(azDeg, elevDeg)
	worldUp := r3.Vec{Y: 1}
	right = r3.Cross(forward, worldUp)
	if n := r3.Norm(right); n > 1e-9 {
		right = r3.Scale(1/n, right)
	} else {
		right = Direction(azDeg+90, 0)
	}
	up = r3.Cross(right, forward)
	return forward, right, up
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }
