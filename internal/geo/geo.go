// Package geo implements the point-in-polygon test used by geofence
// evaluation.
package geo

import "github.com/mkarlsen/shipwatch/internal/domain"

// Contains reports whether p lies inside the closed ring using the even-odd
// ray-cast rule (a horizontal ray toward +x, counting edge crossings).
//
// Boundary convention: the crossing rule counts the lower endpoint of an
// edge and not the upper one, so for an axis-aligned ring points on the
// left and bottom edges report inside while points on the right and top
// edges report outside. The result is the same on every call for a given
// point and ring.
//
// The ring may or may not repeat its first vertex at the end; both forms
// are handled. Rings with fewer than three distinct vertices contain
// nothing.
func Contains(p domain.Point, ring []domain.Point) bool {
	n := len(ring)
	// Drop an explicit closing vertex.
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > p.Lat) == (vj.Lat > p.Lat) {
			continue
		}
		crossX := (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
		if p.Lon < crossX {
			inside = !inside
		}
	}
	return inside
}
