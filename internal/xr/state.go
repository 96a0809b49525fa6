package xr

import "fmt"

// State is the session state. The implementations are Idle, Discovering, Active and Ending.
type State interface {
	fmt.Stringer
	isState()
}

// Idle means no mode is known to be usable and no session runs.
type Idle struct{}

// Discovering means a probe found a supported mode and entry may be requested.
type Discovering struct{ mode Mode }

// Active means a session of Mode owns the camera and frame scheduling.
type Active struct{ mode Mode }

// Ending means the active session is being torn down.
type Ending struct{ mode Mode }

// NewDiscovering records mode as the best supported mode.
func NewDiscovering(m Mode) (Discovering, error) {
	if !m.Valid() {
		return Discovering{}, fmt.Errorf("xr: discovering: invalid mode %q", m)
	}
	return Discovering{mode: m}, nil
}

// NewActive returns the active state for mode.
func NewActive(m Mode) (Active, error) {
	if !m.Valid() {
		return Active{}, fmt.Errorf("xr: active: invalid mode %q", m)
	}
	return Active{mode: m}, nil
}

// NewEnding returns the ending state for mode.
func NewEnding(m Mode) (Ending, error) {
	if !m.Valid() {
		return Ending{}, fmt.Errorf("xr: ending: invalid mode %q", m)
	}
	return Ending{mode: m}, nil
}

// Mode returns the supported mode.
func (s Discovering) Mode() Mode { return s.mode }

// Mode returns the session mode.
func (s Active) Mode() Mode { return s.mode }

// Mode returns the mode of the session being ended.
func (s Ending) Mode() Mode { return s.mode }

func (Idle) isState()        {}
func (Discovering) isState() {}
func (Active) isState()      {}
func (Ending) isState()      {}

func (Idle) String() string          { return "idle" }
func (s Discovering) String() string { return "discovering(" + string(s.mode) + ")" }
func (s Active) String() string      { return "active(" + string(s.mode) + ")" }
func (s Ending) String() string      { return "ending(" + string(s.mode) + ")" }

// IsActive reports whether s is Active.
func IsActive(s State) bool {
	_, ok := s.(Active)
	return ok
}
