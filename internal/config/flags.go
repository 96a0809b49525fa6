package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagModel      = flag.String("model", "", "Model asset URL (file://, https://, s3://)")
	flagProject    = flag.String("project", "", "Project identifier")
	flagGuest      = flag.Bool("guest", false, "Open the viewer read-only")
	flagXRProfile  = flag.String("xr-profile", "", "Emulated XR device profile name or YAML path")
	flagMetrics    = flag.String("metrics", "", "Prometheus listen address")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
)

// Session holds per-launch values that do not belong in the config file.
type Session struct {
	ModelURL  string
	ProjectID string
	Guest     bool
}

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// SessionFlags returns the per-launch values given on the command line.
func SessionFlags() Session {
	s := Session{
		ModelURL:  *flagModel,
		ProjectID: *flagProject,
		Guest:     *flagGuest,
	}
	if s.ModelURL == "" && flag.NArg() > 0 {
		s.ModelURL = flag.Arg(0)
	}
	if s.ProjectID == "" {
		s.ProjectID = "local"
	}
	return s
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagXRProfile != "" {
		if isYAMLPath(*flagXRProfile) {
			cfg.XR.ProfilePath = *flagXRProfile
		} else {
			cfg.XR.Profile = *flagXRProfile
			cfg.XR.ProfilePath = ""
		}
	}
	if *flagMetrics != "" {
		cfg.Metrics.Listen = *flagMetrics
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
}

func isYAMLPath(s string) bool {
	n := len(s)
	return (n > 5 && s[n-5:] == ".yaml") || (n > 4 && s[n-4:] == ".yml")
}
