// Package config handles viewer configuration loading and management.
package config

import "time"

// Config holds all viewer settings.
type Config struct {
	Graphics    GraphicsConfig    `yaml:"graphics"`
	Viewer      ViewerConfig      `yaml:"viewer"`
	XR          XRConfig          `yaml:"xr"`
	Assets      AssetsConfig      `yaml:"assets"`
	Annotations AnnotationsConfig `yaml:"annotations"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// GraphicsConfig holds window and surface settings.
type GraphicsConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
}

// ViewerConfig holds viewer session behaviour.
type ViewerConfig struct {
	ProbeDelay       time.Duration `yaml:"probe_delay"`
	DampingFactor    float32       `yaml:"damping_factor"`
	MaxFrameFailures int           `yaml:"max_frame_failures"`
	Background       [4]float32    `yaml:"background"`
	HighlightColor   [3]float32    `yaml:"highlight_color"`
	HighlightOpacity float32       `yaml:"highlight_opacity"`
	GridSize         float32       `yaml:"grid_size"`
	GridDivisions    int           `yaml:"grid_divisions"`
	ScreenshotDir    string        `yaml:"screenshot_dir"`
	WatchModel       bool          `yaml:"watch_model"`
}

// XRConfig selects the XR device the host exposes.
type XRConfig struct {
	Profile     string `yaml:"profile"`      // built-in profile name
	ProfilePath string `yaml:"profile_path"` // YAML device profile, overrides Profile
}

// AssetsConfig holds model asset fetching settings.
type AssetsConfig struct {
	CacheEntries int           `yaml:"cache_entries"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	MaxBytes     int64         `yaml:"max_bytes"` // remote model size cap
	S3Region     string        `yaml:"s3_region"`
	S3Endpoint   string        `yaml:"s3_endpoint"`
	S3PathStyle  bool          `yaml:"s3_path_style"`
}

// AnnotationsConfig selects where the host persists element edits.
type AnnotationsConfig struct {
	Driver string `yaml:"driver"` // none, sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: GraphicsConfig{
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Viewer: ViewerConfig{
			ProbeDelay:       500 * time.Millisecond,
			DampingFactor:    0.05,
			MaxFrameFailures: 3,
			Background:       [4]float32{0.94, 0.94, 0.94, 1},
			HighlightColor:   [3]float32{1.0, 0.42, 0.42},
			HighlightOpacity: 0.8,
			GridSize:         100,
			GridDivisions:    100,
			ScreenshotDir:    "screenshots",
		},
		XR: XRConfig{
			Profile: "desktop",
		},
		Assets: AssetsConfig{
			CacheEntries: 8,
			HTTPTimeout:  30 * time.Second,
			MaxBytes:     512 << 20,
			S3Region:     "us-east-1",
		},
		Annotations: AnnotationsConfig{
			Driver: "sqlite",
			DSN:    "bimview.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
