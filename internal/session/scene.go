package session

import (
	"gonum.org/v1/gonum/spatial/r3"

	"panosphere/internal/sphere"
)

// Vec is a JSON-friendly 3D vector for the renderable model.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func vec(v r3.Vec) Vec { return Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Pose is a placement on the sphere: where a tile sits and which way it faces.
type Pose struct {
	Position Vec `json:"position"`
	Facing   Vec `json:"facing"`
}

// PlacedTile mirrors one committed capture for the renderer. NextTarget, when
// set, drives the pointer indicator toward the upcoming capture.
type PlacedTile struct {
	Sequence   int            `json:"sequence"`
	Target     sphere.Target  `json:"target"`
	Pose       Pose           `json:"pose"`
	NextTarget *sphere.Target `json:"next_target,omitempty"`
	NextPose   *Pose          `json:"next_pose,omitempty"`
}

// SceneModel is the derived visual model handed to the renderer: the live video
// tile and guide marker at the current queue head, every captured tile in
// order, and the completion flag. Rebuilt in lockstep with the queue.
type SceneModel struct {
	Live       *Pose        `json:"live,omitempty"`
	Marker     *Pose        `json:"marker,omitempty"`
	Tiles      []PlacedTile `json:"tiles"`
	FootprintW float64      `json:"footprint_w"`
	FootprintH float64      `json:"footprint_h"`
	Complete   bool         `json:"complete"`
}

func poseAt(t sphere.Target, radius, offset float64) Pose {
	pos, facing := sphere.Project(t.AzimuthDeg, t.ElevationDeg, radius, offset)
	return Pose{Position: vec(pos), Facing: vec(facing)}
}

// buildScene projects current engine state into the renderable model. Pure with
// respect to its inputs; callers hold the session lock.
func buildScene(cfg sphere.PlanConfig, head *sphere.Target, tiles []Tile, complete bool) SceneModel {
	w, h := sphere.Footprint(cfg.RadiusM, cfg.HFOVDeg, cfg.VFOVDeg)
	scene := SceneModel{
		FootprintW: w,
		FootprintH: h,
		Complete:   complete,
		Tiles:      make([]PlacedTile, 0, len(tiles)),
	}

	// Captured tiles sit flush on the sphere; the live feed and marker float
	// slightly inside it so they draw in front.
	for _, t := range tiles {
		placed := PlacedTile{
			Sequence: t.Sequence,
			Target:   t.Target,
			Pose:     poseAt(t.Target, cfg.RadiusM, cfg.OffsetM),
		}
		if t.NextTarget != nil {
			next := *t.NextTarget
			placed.NextTarget = &next
			np := poseAt(next, cfg.RadiusM, cfg.OffsetM)
			placed.NextPose = &np
		}
		scene.Tiles = append(scene.Tiles, placed)
	}

	if head != nil {
		live := poseAt(*head, cfg.RadiusM, cfg.OffsetM*2)
		marker := poseAt(*head, cfg.RadiusM, cfg.OffsetM*3)
		scene.Live = &live
		scene.Marker = &marker
	}
	return scene
}
