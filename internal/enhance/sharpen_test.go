package enhance

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestSharpenUniformInterior(t *testing.T) {
	img := uniformImage(5, 5, color.RGBA{R: 100, G: 150, B: 200, A: 255})
	out := SharpenImage(img)

	// All four kernel neighbors cancel the center boost, so interior pixels
	// are unchanged.
	for y := 1; y < 4; y++ {
		for x := 1; x < 4; x++ {
			got := out.RGBAAt(x, y)
			if got.R != 100 || got.G != 150 || got.B != 200 {
				t.Fatalf("interior pixel (%d,%d) changed: %+v", x, y, got)
			}
		}
	}
}

func TestSharpenEdgeDropsMissingTaps(t *testing.T) {
	img := uniformImage(3, 3, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	out := SharpenImage(img)

	// A corner sees only two of the four -1 taps: 5*100 - 2*100 = 300,
	// clamped to 255.
	if got := out.RGBAAt(0, 0); got.R != 255 {
		t.Fatalf("corner pixel = %d, want clamp to 255", got.R)
	}
	// An edge midpoint sees three: 5*100 - 3*100 = 200.
	if got := out.RGBAAt(1, 0); got.R != 200 {
		t.Fatalf("edge pixel = %d, want 200", got.R)
	}
}

func TestSharpenClampsNegative(t *testing.T) {
	// A black pixel surrounded by bright neighbors goes negative and clamps
	// to zero.
	img := uniformImage(3, 3, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	img.SetRGBA(1, 1, color.RGBA{A: 255})
	out := SharpenImage(img)

	if got := out.RGBAAt(1, 1); got.R != 0 || got.G != 0 || got.B != 0 {
		t.Fatalf("center pixel should clamp at zero, got %+v", got)
	}
}

func TestSharpenBoostsEdgeContrast(t *testing.T) {
	img := uniformImage(4, 3, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	for y := 0; y < 3; y++ {
		img.SetRGBA(2, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		img.SetRGBA(3, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	}
	out := SharpenImage(img)

	// The dark side of the boundary gets darker, the bright side brighter.
	if got := out.RGBAAt(1, 1); got.R >= 100 {
		t.Fatalf("dark boundary pixel = %d, want < 100", got.R)
	}
	if got := out.RGBAAt(2, 1); got.R <= 200 {
		t.Fatalf("bright boundary pixel = %d, want > 200", got.R)
	}
}

func TestSharpenPreservesAlpha(t *testing.T) {
	img := uniformImage(3, 3, color.RGBA{R: 50, G: 50, B: 50, A: 128})
	out := SharpenImage(img)
	if got := out.RGBAAt(1, 1); got.A != 128 {
		t.Fatalf("alpha changed: %d", got.A)
	}
}

func TestSharpenRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, uniformImage(8, 8, color.RGBA{R: 10, G: 20, B: 30, A: 255})); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	out, err := Sharpen(buf.Bytes())
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("output format %s, want jpeg", format)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Fatalf("output bounds changed: %v", img.Bounds())
	}
}

func TestSharpenRejectsGarbage(t *testing.T) {
	if _, err := Sharpen([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}
