// Package source supplies live frames and motion samples to the capture
// engine. Two implementations exist: a watched directory the device drops
// files into, and an in-process live source fed by the websocket device link.
// Both fail closed: no fresh frame means ErrNoFrame, and the engine treats
// that as "abort, retry later".
package source

import (
	"errors"

	"panosphere/internal/motion"
)

// ErrNoFrame means the video source has no fresh frame to hand out.
var ErrNoFrame = errors.New("no frame available from video source")

// MotionSource delivers orientation/motion samples as they arrive.
type MotionSource interface {
	Samples() <-chan motion.Sample
	Close() error
}
