package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Graphics.Width != 1280 {
		t.Errorf("expected width 1280, got %d", cfg.Graphics.Width)
	}
	if cfg.Graphics.Height != 720 {
		t.Errorf("expected height 720, got %d", cfg.Graphics.Height)
	}
	if !cfg.Graphics.VSync {
		t.Error("expected vsync to be true by default")
	}

	if cfg.Viewer.ProbeDelay != 500*time.Millisecond {
		t.Errorf("expected probe delay 500ms, got %v", cfg.Viewer.ProbeDelay)
	}
	if cfg.Viewer.DampingFactor != 0.05 {
		t.Errorf("expected damping 0.05, got %f", cfg.Viewer.DampingFactor)
	}
	if cfg.Viewer.MaxFrameFailures != 3 {
		t.Errorf("expected 3 frame failures, got %d", cfg.Viewer.MaxFrameFailures)
	}
	if cfg.Viewer.GridDivisions != 100 {
		t.Errorf("expected 100 grid divisions, got %d", cfg.Viewer.GridDivisions)
	}

	if cfg.XR.Profile != "desktop" {
		t.Errorf("expected xr profile 'desktop', got %s", cfg.XR.Profile)
	}
	if cfg.Annotations.Driver != "sqlite" {
		t.Errorf("expected sqlite annotations, got %s", cfg.Annotations.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bimview.yaml")

	yamlContent := `
graphics:
  width: 1920
  height: 1080
  fullscreen: true
  vsync: false

viewer:
  probe_delay: 2s
  max_frame_failures: 5
  highlight_color: [0.2, 0.4, 0.6]

xr:
  profile: hololens

assets:
  cache_entries: 2
  s3_endpoint: "http://minio.local:9000"
  s3_path_style: true

annotations:
  driver: postgres
  dsn: "postgres://localhost/bim?sslmode=disable"

logging:
  level: "debug"
  log_file: "viewer.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Graphics.Width != 1920 || cfg.Graphics.Height != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d", cfg.Graphics.Width, cfg.Graphics.Height)
	}
	if !cfg.Graphics.Fullscreen {
		t.Error("expected fullscreen to be true")
	}
	if cfg.Viewer.ProbeDelay != 2*time.Second {
		t.Errorf("expected probe delay 2s, got %v", cfg.Viewer.ProbeDelay)
	}
	if cfg.Viewer.MaxFrameFailures != 5 {
		t.Errorf("expected 5 frame failures, got %d", cfg.Viewer.MaxFrameFailures)
	}
	if cfg.Viewer.HighlightColor != [3]float32{0.2, 0.4, 0.6} {
		t.Errorf("unexpected highlight color %v", cfg.Viewer.HighlightColor)
	}
	// Untouched keys keep defaults.
	if cfg.Viewer.DampingFactor != 0.05 {
		t.Errorf("expected default damping to survive, got %f", cfg.Viewer.DampingFactor)
	}
	if cfg.XR.Profile != "hololens" {
		t.Errorf("expected profile hololens, got %s", cfg.XR.Profile)
	}
	if !cfg.Assets.S3PathStyle || cfg.Assets.CacheEntries != 2 {
		t.Errorf("unexpected assets config %+v", cfg.Assets)
	}
	if cfg.Annotations.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Annotations.Driver)
	}
	if cfg.Logging.LogFile != "viewer.log" {
		t.Errorf("expected log file 'viewer.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
graphics:
  width: not a number
  invalid syntax here
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if err := loadFromFile(Default(), configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if err := loadFromFile(Default(), "/nonexistent/path/bimview.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero width", func(c *Config) { c.Graphics.Width = 0 }, true},
		{"no failures allowed", func(c *Config) { c.Viewer.MaxFrameFailures = 0 }, true},
		{"negative probe delay", func(c *Config) { c.Viewer.ProbeDelay = -time.Second }, true},
		{"unknown driver", func(c *Config) { c.Annotations.Driver = "mongo" }, true},
		{"disabled annotations", func(c *Config) { c.Annotations.Driver = "none" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*testing.T, *Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "xr profile by name",
			setup: func() { *flagXRProfile = "phone-ar" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.XR.Profile != "phone-ar" || cfg.XR.ProfilePath != "" {
					t.Errorf("unexpected xr config %+v", cfg.XR)
				}
			},
			teardown: func() { *flagXRProfile = "" },
		},
		{
			name:  "xr profile by path",
			setup: func() { *flagXRProfile = "devices/quest.yaml" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.XR.ProfilePath != "devices/quest.yaml" {
					t.Errorf("expected profile path, got %+v", cfg.XR)
				}
			},
			teardown: func() { *flagXRProfile = "" },
		},
		{
			name:  "metrics flag",
			setup: func() { *flagMetrics = ":9102" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Metrics.Listen != ":9102" {
					t.Errorf("expected metrics :9102, got %s", cfg.Metrics.Listen)
				}
			},
			teardown: func() { *flagMetrics = "" },
		},
		{
			name:  "fullscreen flag",
			setup: func() { *flagFullscreen = true },
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Graphics.Fullscreen {
					t.Error("expected fullscreen to be true with fullscreen flag")
				}
			},
			teardown: func() { *flagFullscreen = false },
		},
		{
			name: "size flags",
			setup: func() {
				*flagWidth = 2560
				*flagHeight = 1440
			},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Graphics.Width != 2560 || cfg.Graphics.Height != 1440 {
					t.Errorf("expected 2560x1440, got %dx%d", cfg.Graphics.Width, cfg.Graphics.Height)
				}
			},
			teardown: func() {
				*flagWidth = 0
				*flagHeight = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)
			tt.verify(t, cfg)
		})
	}
}

func TestSessionFlags(t *testing.T) {
	*flagModel = "s3://models/plant.glb"
	*flagGuest = true
	defer func() {
		*flagModel = ""
		*flagGuest = false
	}()

	s := SessionFlags()
	if s.ModelURL != "s3://models/plant.glb" {
		t.Errorf("unexpected model url %s", s.ModelURL)
	}
	if !s.Guest {
		t.Error("expected guest session")
	}
	if s.ProjectID != "local" {
		t.Errorf("expected default project id 'local', got %s", s.ProjectID)
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bimview.yaml")

	yamlContent := `
graphics:
  width: 1600
  height: 900
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	*flagWidth = 1920
	defer func() {
		*flagConfig = ""
		*flagWidth = 0
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Graphics.Width != 1920 {
		t.Errorf("expected width 1920 from flag, got %d", cfg.Graphics.Width)
	}
	if cfg.Graphics.Height != 900 {
		t.Errorf("expected height 900 from file, got %d", cfg.Graphics.Height)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bimview.yaml")
	cfg := Default()
	cfg.XR.Profile = "headset-vr"

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if loaded.XR.Profile != "headset-vr" {
		t.Errorf("expected saved profile, got %s", loaded.XR.Profile)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the config file, found %d entries", len(entries))
	}
}
