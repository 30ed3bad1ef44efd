package indicators

import (
	"math"
	"sort"
)

// Level is a cluster of nearby price levels.
type Level struct {
	Price   float64
	Touches int
}

// ClusterLevels sorts levels and merges each into the current group while it
// lies within tolerance (relative) of the group's running average. Groups
// are returned in ascending price order.
func ClusterLevels(levels []float64, tolerance float64) []Level {
	if len(levels) == 0 {
		return nil
	}

	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)

	groups := []Level{{Price: sorted[0], Touches: 1}}
	for _, p := range sorted[1:] {
		g := &groups[len(groups)-1]
		if g.Price != 0 && math.Abs(p-g.Price)/g.Price <= tolerance {
			g.Price = (g.Price*float64(g.Touches) + p) / float64(g.Touches+1)
			g.Touches++
			continue
		}
		groups = append(groups, Level{Price: p, Touches: 1})
	}
	return groups
}

// Strongest returns the group with the most touches. Ties go to the first
// group in slice order. ok is false for an empty slice.
func Strongest(groups []Level) (Level, bool) {
	if len(groups) == 0 {
		return Level{}, false
	}
	best := groups[0]
	for _, g := range groups[1:] {
		if g.Touches > best.Touches {
			best = g
		}
	}
	return best, true
}
