package stitcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const ptoFixture = `# hugin project file
p f0 w3000 h1500 v360 E0 R0 n"TIFF_m c:LZW"
m i0
i w1920 h1080 f0 v60 n"tile_0000.jpg"
i w1920 h1080 f0 v60 n"tile_0001.jpg"
c n0 N1 x100 y200 X300 Y400 t0
c n0 N1 x500 y600 X700 Y800 t0
c n1 N0 x10 y20 X30 Y40 t0
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.pto")
	if err := os.WriteFile(path, []byte(ptoFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestSetProjection(t *testing.T) {
	path := writeFixture(t)
	if err := setProjection(path, "cylindrical"); err != nil {
		t.Fatalf("setProjection: %v", err)
	}
	content, _ := os.ReadFile(path)
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, "p ") {
			if !strings.Contains(line, " f1 ") {
				t.Fatalf("panorama line not rewritten: %q", line)
			}
			return
		}
	}
	t.Fatalf("panorama line missing after rewrite")
}

func TestSetProjectionUnknownFallsBackToSpherical(t *testing.T) {
	path := writeFixture(t)
	if err := setProjection(path, "dodecahedral"); err != nil {
		t.Fatalf("setProjection: %v", err)
	}
	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "p f2 ") {
		t.Fatalf("unknown projection should rewrite to f2, got %q", content)
	}
}

func TestSetProjectionLeavesImageLinesAlone(t *testing.T) {
	path := writeFixture(t)
	if err := setProjection(path, "mercator"); err != nil {
		t.Fatalf("setProjection: %v", err)
	}
	content, _ := os.ReadFile(path)
	// Image lines carry their own f parameter and must keep it.
	if !strings.Contains(string(content), `i w1920 h1080 f0 v60 n"tile_0000.jpg"`) {
		t.Fatalf("image line modified: %q", content)
	}
}

func TestCountControlPoints(t *testing.T) {
	path := writeFixture(t)
	if got := countControlPoints(path); got != 3 {
		t.Fatalf("counted %d control points, want 3", got)
	}
}

func TestCountControlPointsMissingFile(t *testing.T) {
	if got := countControlPoints(filepath.Join(t.TempDir(), "nope.pto")); got != 0 {
		t.Fatalf("missing file counted %d", got)
	}
}
