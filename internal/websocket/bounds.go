package websocket

import "fmt"

// Bounds is a geographic bounding box. A box whose west edge lies east of
// its east edge wraps across the antimeridian.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks the box edges for sanity
func (b *Bounds) Validate() error {
	if b.North < -90 || b.North > 90 || b.South < -90 || b.South > 90 {
		return fmt.Errorf("latitude edges out of range: north=%v south=%v", b.North, b.South)
	}
	if b.South > b.North {
		return fmt.Errorf("south edge %v above north edge %v", b.South, b.North)
	}
	if b.East < -180 || b.East > 180 || b.West < -180 || b.West > 180 {
		return fmt.Errorf("longitude edges out of range: east=%v west=%v", b.East, b.West)
	}
	return nil
}

// Contains reports whether a point falls inside the box, edges inclusive
func (b *Bounds) Contains(lat, lon float64) bool {
	if lat < b.South || lat > b.North {
		return false
	}
	if b.West <= b.East {
		return lon >= b.West && lon <= b.East
	}
	// wraps the antimeridian
	return lon >= b.West || lon <= b.East
}
