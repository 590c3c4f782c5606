//go:build !cgo

package enhance

import "errors"

// SharpenWand requires the ImageMagick cgo bindings; this stub stands in when
// the binary is built with cgo disabled.
func SharpenWand(frame []byte) ([]byte, error) {
	return nil, errors.New("imagick sharpening requires a build with cgo enabled")
}
