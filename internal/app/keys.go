package app

import "github.com/veandco/go-sdl2/sdl"

// command is a keyboard action of the desktop host.
type command int

const (
	cmdNone command = iota
	cmdToggleXR
	cmdBack
	cmdResetView
	cmdWireframe
	cmdScreenshot
	cmdCycleStatus
	cmdDisconnect
	cmdRetry
)

func (c command) String() string {
	switch c {
	case cmdToggleXR:
		return "toggle-xr"
	case cmdBack:
		return "back"
	case cmdResetView:
		return "reset-view"
	case cmdWireframe:
		return "wireframe"
	case cmdScreenshot:
		return "screenshot"
	case cmdCycleStatus:
		return "cycle-status"
	case cmdDisconnect:
		return "disconnect"
	case cmdRetry:
		return "retry"
	default:
		return "none"
	}
}

var keymap = map[sdl.Scancode]command{
	sdl.SCANCODE_X:      cmdToggleXR,
	sdl.SCANCODE_ESCAPE: cmdBack,
	sdl.SCANCODE_R:      cmdResetView,
	sdl.SCANCODE_W:      cmdWireframe,
	sdl.SCANCODE_P:      cmdScreenshot,
	sdl.SCANCODE_S:      cmdCycleStatus,
	sdl.SCANCODE_D:      cmdDisconnect,
	sdl.SCANCODE_L:      cmdRetry,
}

func commandFor(key sdl.Scancode) command {
	return keymap[key]
}
