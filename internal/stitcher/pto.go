package stitcher

import (
	"os"
	"strings"
)

// huginProjections maps projection names to Hugin projection numbers (the f
// parameter of the panorama line).
var huginProjections = map[string]string{
	"planar":        "0",
	"cylindrical":   "1",
	"spherical":     "2",
	"fisheye":       "3",
	"stereographic": "5",
	"mercator":      "6",
}

// setProjection rewrites the f parameter of the PTO panorama line. Unknown
// projection names fall back to spherical.
func setProjection(ptoFile, projection string) error {
	content, err := os.ReadFile(ptoFile)
	if err != nil {
		return err
	}
	projNum, ok := huginProjections[projection]
	if !ok {
		projNum = "2"
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "p ") {
			continue
		}
		parts := strings.Fields(line)
		for j, part := range parts {
			if strings.HasPrefix(part, "f") {
				parts[j] = "f" + projNum
				break
			}
		}
		lines[i] = strings.Join(parts, " ")
		break
	}
	return os.WriteFile(ptoFile, []byte(strings.Join(lines, "\n")), 0o644)
}

// countControlPoints counts c lines in a PTO file.
func countControlPoints(ptoFile string) int {
	content, err := os.ReadFile(ptoFile)
	if err != nil {
		return 0
	}
	count := 0
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, "c ") {
			count++
		}
	}
	return count
}
