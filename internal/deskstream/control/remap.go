package control

import (
	"math"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// Remapper converts viewport coordinates into screen coordinates.
type Remapper struct {
	Viewport core.Geometry
	Screen   core.Geometry
}

func NewRemapper(viewport, screen core.Geometry) Remapper {
	return Remapper{Viewport: viewport, Screen: screen}
}

// Map scales (x, y) proportionally and clamps the result to the screen.
func (r Remapper) Map(x, y int) (int, int) {
	return scale(x, r.Viewport.Width, r.Screen.Width), scale(y, r.Viewport.Height, r.Screen.Height)
}

func scale(v, from, to int) int {
	if from <= 0 || to <= 0 {
		return 0
	}
	s := int(math.Round(float64(v) * float64(to) / float64(from)))
	if s < 0 {
		return 0
	}
	if s > to-1 {
		return to - 1
	}
	return s
}
