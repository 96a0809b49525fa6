package app

import (
	"fmt"
	"strings"

	"github.com/Faultbox/bimview/internal/model"
	"github.com/Faultbox/bimview/internal/viewer"
	"github.com/Faultbox/bimview/internal/xr"
)

// hostStatus is what the window title shows.
type hostStatus struct {
	project     string
	load        viewer.LoadState
	selected    *model.ElementRecord
	xr          xr.State
	xrMode      xr.Mode
	xrAvailable bool
	xrProbed    bool
}

func (s hostStatus) title() string {
	parts := []string{title}
	if s.project != "" {
		parts = append(parts, s.project)
	}

	switch s.load.Phase {
	case viewer.Failed:
		parts = append(parts, "model unavailable (L to retry)")
	case viewer.Loading:
		parts = append(parts, "loading")
	default:
		parts = append(parts, fmt.Sprintf("%d elements", s.load.Elements))
	}

	if s.selected != nil {
		parts = append(parts, fmt.Sprintf("%s [%s] %s", s.selected.DisplayName, s.selected.ElementType, s.selected.Status))
	}

	switch {
	case s.xr != nil && xr.IsActive(s.xr):
		parts = append(parts, s.xr.String())
	case s.xrProbed && s.xrAvailable:
		parts = append(parts, "X: "+string(s.xrMode))
	case s.xrProbed:
		parts = append(parts, "XR unavailable")
	}
	return strings.Join(parts, " | ")
}
