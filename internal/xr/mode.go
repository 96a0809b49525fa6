// Package xr models XR session capability discovery and the session state machine.
package xr

import "fmt"

// Mode is an XR session mode. Values are the runtime's wire names.
type Mode string

const (
	ModeImmersiveAR Mode = "immersive-ar"
	ModeImmersiveVR Mode = "immersive-vr"
	ModeInline      Mode = "inline"
)

// Priority lists modes from most to least preferred.
var Priority = []Mode{ModeImmersiveAR, ModeImmersiveVR, ModeInline}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeImmersiveAR, ModeImmersiveVR, ModeInline:
		return true
	}
	return false
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("xr: unknown mode %q", s)
	}
	return m, nil
}

// Feature is a named session feature. Values are the runtime's wire names.
type Feature string

const (
	FeatureLocalFloor Feature = "local-floor"
	FeatureHitTest    Feature = "hit-test"
	FeatureDOMOverlay Feature = "dom-overlay"
)

// FeatureSet is the feature negotiation sent with a session request.
type FeatureSet struct {
	Required []Feature
	Optional []Feature
}

// FeaturesFor returns the features requested for mode.
func FeaturesFor(m Mode) FeatureSet {
	switch m {
	case ModeImmersiveAR:
		return FeatureSet{
			Required: []Feature{FeatureLocalFloor, FeatureHitTest},
			Optional: []Feature{FeatureDOMOverlay},
		}
	case ModeImmersiveVR:
		return FeatureSet{
			Required: []Feature{FeatureLocalFloor},
			Optional: []Feature{FeatureDOMOverlay},
		}
	default:
		return FeatureSet{Optional: []Feature{FeatureDOMOverlay}}
	}
}
