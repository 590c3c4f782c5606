//go:build cgo

package enhance

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// SharpenWand sharpens a frame through the ImageMagick bindings instead of the
// native kernel. Used when the configured enhancement tool is "imagick";
// produces an unsharp-mask result rather than the exact 3x3 kernel, traded for
// ImageMagick's resampling quality on large frames.
func SharpenWand(frame []byte) ([]byte, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImageBlob(frame); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if err := mw.UnsharpMaskImage(0, 1.0, 1.0, 0.02); err != nil {
		return nil, fmt.Errorf("unsharp mask failed: %w", err)
	}
	if err := mw.SetImageFormat("JPEG"); err != nil {
		return nil, fmt.Errorf("failed to set output format: %w", err)
	}
	if err := mw.SetImageCompressionQuality(jpegQuality); err != nil {
		return nil, fmt.Errorf("failed to set quality: %w", err)
	}
	return mw.GetImageBlob(), nil
}
