package enhance

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
)

// sharpenKernel is the fixed 3x3 convolution applied to captured frames.
var sharpenKernel = [3][3]int32{
	{0, -1, 0},
	{-1, 5, -1},
	{0, -1, 0},
}

const jpegQuality = 92

// Sharpen decodes a frame, applies the sharpening kernel per channel with
// clamping to [0, 255], and re-encodes as JPEG. Edge pixels use only in-bounds
// kernel taps; out-of-bounds taps contribute zero, with no renormalization.
func Sharpen(frame []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	out := SharpenImage(img)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode sharpened frame: %w", err)
	}
	return buf.Bytes(), nil
}

// SharpenImage runs the kernel over a decoded image and returns a new RGBA.
// Alpha passes through untouched.
func SharpenImage(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	src := image.NewRGBA(bounds)
	draw.Draw(src, bounds, img, bounds.Min, draw.Src)
	dst := image.NewRGBA(bounds)

	w, h := bounds.Dx(), bounds.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum [3]int32
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					weight := sharpenKernel[ky+1][kx+1]
					if weight == 0 {
						continue
					}
					sx, sy := x+kx, y+ky
					if sx < 0 || sx >= w || sy < 0 || sy >= h {
						continue
					}
					o := src.PixOffset(bounds.Min.X+sx, bounds.Min.Y+sy)
					sum[0] += weight * int32(src.Pix[o])
					sum[1] += weight * int32(src.Pix[o+1])
					sum[2] += weight * int32(src.Pix[o+2])
				}
			}
			o := dst.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			dst.Pix[o] = clamp8(sum[0])
			dst.Pix[o+1] = clamp8(sum[1])
			dst.Pix[o+2] = clamp8(sum[2])
			dst.Pix[o+3] = src.Pix[src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)+3]
		}
	}
	return dst
}

func clamp8(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
