package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"panosphere/internal/sphere"
)

const defaultConfigPath = "~/.config/panosphere/config.json"

// Config holds user-editable settings for the capture service.
type Config struct {
	Capture  Capture  `json:"capture"`
	Gate     Gate     `json:"gate"`
	Stitcher Stitcher `json:"stitcher"`
	Source   Source   `json:"source"`
	Server   Server   `json:"server"`
	Logging  Logging  `json:"logging"`
	Paths    Paths    `json:"paths"`
}

// Capture configures the coverage plan and per-frame enhancement.
type Capture struct {
	SphereRadiusM float64       `json:"sphere_radius_m"`
	TileOffsetM   float64       `json:"tile_offset_m"`
	HFOVDeg       float64       `json:"hfov_deg"`
	VFOVDeg       float64       `json:"vfov_deg"`
	Bands         []sphere.Band `json:"bands"`
	MaxTargets    int           `json:"max_targets"`
	Sharpen       bool          `json:"sharpen"`
	SharpenTool   string        `json:"sharpen_tool"` // "native", "imagick"
}

// Gate configures the alignment gate thresholds.
type Gate struct {
	MotionThreshold float64 `json:"motion_threshold"`  // combined accel+gyro magnitude
	DwellMs         int     `json:"dwell_ms"`          // sustained-calm window
	CenterTolerance float64 `json:"center_tolerance"`  // normalized device coordinates
	SampleMaxAgeMs  int     `json:"sample_max_age_ms"` // stale samples fail closed
}

// Stitcher selects the external stitching toolchain.
type Stitcher struct {
	Preferred  string   `json:"preferred"` // "hugin", "imagemagick"
	Fallbacks  []string `json:"fallbacks"`
	Projection string   `json:"projection"` // spherical, cylindrical, ...
	Blending   string   `json:"blending"`   // multiband, feather, none
	Quality    string   `json:"quality"`    // fast, normal, high, ultra
}

// Source configures where frames and motion samples come from.
type Source struct {
	Kind         string `json:"kind"` // "ws" (device link), "dir" (watched directory)
	WatchDir     string `json:"watch_dir"`
	FrameMaxAge  int    `json:"frame_max_age_ms"`
	MotionBuffer int    `json:"motion_buffer"`
}

// Server configures the HTTP/WS control surface.
type Server struct {
	Addr string `json:"addr"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // text, json
	FileOutput bool   `json:"file_output"`
	LogDir     string `json:"log_dir"`
}

// Paths configures default output locations.
type Paths struct {
	OutputDir    string `json:"output_dir"`
	DatabasePath string `json:"database_path"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("PANOSPHERE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the default (or overridden) path.
func Save(cfg *Config) error {
	configPath := os.Getenv("PANOSPHERE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	expanded, err := expandUser(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o644)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Capture: Capture{
			SphereRadiusM: 10,
			TileOffsetM:   0.1,
			HFOVDeg:       60,
			VFOVDeg:       45,
			Bands:         sphere.DefaultBands(),
			MaxTargets:    64,
			Sharpen:       true,
			SharpenTool:   "native",
		},
		Gate: Gate{
			MotionThreshold: 0.35,
			DwellMs:         300,
			CenterTolerance: 0.05,
			SampleMaxAgeMs:  500,
		},
		Stitcher: Stitcher{
			Preferred:  "hugin",
			Fallbacks:  []string{"imagemagick"},
			Projection: "spherical",
			Blending:   "multiband",
			Quality:    "normal",
		},
		Source: Source{
			Kind:         "ws",
			WatchDir:     "./frames",
			FrameMaxAge:  2000,
			MotionBuffer: 64,
		},
		Server: Server{Addr: ":8480"},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "~/.local/share/panosphere/logs",
		},
		Paths: Paths{
			OutputDir:    "./output",
			DatabasePath: "~/.local/share/panosphere/panosphere.db",
		},
	}
}

// PlanConfig assembles the sphere.PlanConfig from the capture section.
func (c *Config) PlanConfig() sphere.PlanConfig {
	bands := c.Capture.Bands
	if len(bands) == 0 {
		bands = sphere.DefaultBands()
	}
	return sphere.PlanConfig{
		RadiusM:    c.Capture.SphereRadiusM,
		OffsetM:    c.Capture.TileOffsetM,
		HFOVDeg:    c.Capture.HFOVDeg,
		VFOVDeg:    c.Capture.VFOVDeg,
		Bands:      bands,
		MaxTargets: c.Capture.MaxTargets,
	}
}

func expandUser(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ExpandUser resolves a leading ~ against the current user's home directory.
func ExpandUser(path string) (string, error) { return expandUser(path) }
