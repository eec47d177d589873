package geofence

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/hut8/soar-sub007/internal/geo"
)

// Containment is the outcome of evaluating one fix against a geofence
type Containment int

const (
	// Inside means at least one layer at the fix's altitude contains it
	Inside Containment = iota
	// Outside means a layer covers the altitude but the fix is beyond its radius
	Outside
	// NoLayerAtAltitude means no layer's band covers the fix's altitude
	NoLayerAtAltitude
	// MissingAltitude means the fix carries no altitude to test against
	MissingAltitude
)

func (c Containment) String() string {
	switch c {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	case NoLayerAtAltitude:
		return "no_layer_at_altitude"
	default:
		return "missing_altitude"
	}
}

// Layer is one altitude-banded cylinder of a geofence
type Layer struct {
	FloorFt   float64 `toml:"floor_ft" json:"floor_ft"`
	CeilingFt float64 `toml:"ceiling_ft" json:"ceiling_ft"`
	RadiusNM  float64 `toml:"radius_nm" json:"radius_nm"`
}

// Geofence is a stack of cylindrical layers around a center point. Wider
// layers at lower altitude form a stepped boundary.
type Geofence struct {
	ID        string  `toml:"id" json:"id"`
	Name      string  `toml:"name" json:"name"`
	Latitude  float64 `toml:"latitude" json:"latitude"`
	Longitude float64 `toml:"longitude" json:"longitude"`
	Layers    []Layer `toml:"layers" json:"layers"`
}

// Evaluate tests a position and altitude against the geofence. The aircraft
// is inside if ANY layer whose band covers the altitude also contains it
// horizontally.
func (g *Geofence) Evaluate(lat, lon float64, altitudeMSLFt *float64) Containment {
	if altitudeMSLFt == nil {
		return MissingAltitude
	}
	alt := *altitudeMSLFt

	covered := false
	for i := range g.Layers {
		layer := &g.Layers[i]
		if alt < layer.FloorFt || alt > layer.CeilingFt {
			continue
		}
		covered = true
		dist := geo.Haversine(lat, lon, g.Latitude, g.Longitude)
		if dist <= layer.RadiusNM*geo.MetersPerNM {
			return Inside
		}
	}
	if !covered {
		return NoLayerAtAltitude
	}
	return Outside
}

// Validate checks layer sanity
func (g *Geofence) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("geofence missing id")
	}
	if len(g.Layers) == 0 {
		return fmt.Errorf("geofence %s has no layers", g.ID)
	}
	for i, layer := range g.Layers {
		if layer.FloorFt >= layer.CeilingFt {
			return fmt.Errorf("geofence %s layer %d: floor %f >= ceiling %f", g.ID, i, layer.FloorFt, layer.CeilingFt)
		}
		if layer.RadiusNM <= 0 {
			return fmt.Errorf("geofence %s layer %d: radius must be positive", g.ID, i)
		}
	}
	return nil
}

// definitionFile is the on-disk TOML shape
type definitionFile struct {
	Geofences []Geofence `toml:"geofences"`
}

// LoadDefinitions reads geofence definitions from a TOML file
func LoadDefinitions(path string) ([]Geofence, error) {
	var file definitionFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to load geofence definitions: %w", err)
	}
	for i := range file.Geofences {
		if err := file.Geofences[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Geofences, nil
}
