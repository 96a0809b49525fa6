// Package emulator provides an XR runtime driven by YAML device profiles,
// for desktops without a headset and for tests.
package emulator

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/bimview/internal/xr"
)

// DefaultViewerHeight is the eye height used when a profile sets none.
const DefaultViewerHeight = 1.6

// Profile describes an emulated device.
type Profile struct {
	Name           string        `yaml:"name"`
	Modes          []xr.Mode     `yaml:"modes"`
	Features       []xr.Feature  `yaml:"features"`
	RejectRequests bool          `yaml:"reject_requests"`
	ViewerHeight   float32       `yaml:"viewer_height"`
	ProbeLatency   time.Duration `yaml:"probe_latency"`
}

var builtins = map[string]Profile{
	"desktop": {Name: "desktop"},
	"phone-ar": {
		Name:     "phone-ar",
		Modes:    []xr.Mode{xr.ModeImmersiveAR, xr.ModeInline},
		Features: []xr.Feature{xr.FeatureLocalFloor, xr.FeatureHitTest, xr.FeatureDOMOverlay},
	},
	"headset-vr": {
		Name:     "headset-vr",
		Modes:    []xr.Mode{xr.ModeImmersiveVR, xr.ModeInline},
		Features: []xr.Feature{xr.FeatureLocalFloor},
	},
	"hololens": {
		Name:     "hololens",
		Modes:    []xr.Mode{xr.ModeImmersiveAR, xr.ModeImmersiveVR, xr.ModeInline},
		Features: []xr.Feature{xr.FeatureLocalFloor, xr.FeatureHitTest},
	},
}

// Builtin returns a built-in profile by name.
func Builtin(name string) (Profile, bool) {
	p, ok := builtins[name]
	if !ok {
		return Profile{}, false
	}
	p.Modes = slices.Clone(p.Modes)
	p.Features = slices.Clone(p.Features)
	return p.withDefaults(), true
}

// BuiltinNames lists the built-in profiles.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing device profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p.withDefaults(), nil
}

// LoadProfile reads a YAML profile file.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading device profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Resolve loads the profile at path when set, otherwise the named built-in.
func Resolve(name, path string) (Profile, error) {
	if path != "" {
		return LoadProfile(path)
	}
	p, ok := Builtin(name)
	if !ok {
		return Profile{}, fmt.Errorf("unknown device profile %q (built-in: %v)", name, BuiltinNames())
	}
	return p, nil
}

// Validate checks mode and feature names.
func (p Profile) Validate() error {
	for _, m := range p.Modes {
		if !m.Valid() {
			return fmt.Errorf("profile %q: unknown mode %q", p.Name, m)
		}
	}
	for _, f := range p.Features {
		switch f {
		case xr.FeatureLocalFloor, xr.FeatureHitTest, xr.FeatureDOMOverlay:
		default:
			return fmt.Errorf("profile %q: unknown feature %q", p.Name, f)
		}
	}
	if p.ViewerHeight < 0 || p.ProbeLatency < 0 {
		return fmt.Errorf("profile %q: negative viewer height or probe latency", p.Name)
	}
	return nil
}

func (p Profile) withDefaults() Profile {
	if p.ViewerHeight == 0 {
		p.ViewerHeight = DefaultViewerHeight
	}
	return p
}

// Supports reports whether the profile offers mode m.
func (p Profile) Supports(m xr.Mode) bool {
	return slices.Contains(p.Modes, m)
}

// Has reports whether the profile offers feature f.
func (p Profile) Has(f xr.Feature) bool {
	return slices.Contains(p.Features, f)
}
