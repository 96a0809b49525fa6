package model

import "github.com/Faultbox/bimview/internal/engine/scene"

const (
	placeholderSize  = 5
	placeholderColor = 0x4a90e2
)

// Placeholder returns a fresh reference cube shown while no model is loaded.
func Placeholder() *scene.Node {
	box := scene.NewMesh("placeholder",
		scene.BoxGeometry(placeholderSize, placeholderSize, placeholderSize),
		scene.NewMaterial(scene.HexColor(placeholderColor)))
	box.Translation = [3]float32{0, placeholderSize / 2.0, 0}
	return box
}
