package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

const (
	// EarthRadiusM is the mean earth radius used for great-circle math
	EarthRadiusM = 6371000.0

	// MetersPerNM converts nautical miles to meters
	MetersPerNM = 1852.0

	// FeetPerMeter converts meters to feet
	FeetPerMeter = 3.28084

	// glitchSpeedCeilingKt is the implied instantaneous speed above which a
	// distance increment is treated as a GPS glitch and excluded from the
	// running total
	glitchSpeedCeilingKt = 600.0

	knotsToMetersPerSec = 0.514444
)

// Haversine returns the great-circle distance in meters between two points
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// InitialBearing returns the initial great-circle bearing in degrees from
// point 1 toward point 2, normalized to [0, 360)
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	brg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(brg+360, 360)
}

// AngularDiff returns the smallest absolute difference between two headings
// in degrees, in [0, 180]
func AngularDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// DistanceIncrement returns the great-circle distance between consecutive
// fixes, and whether the increment should count toward the flight's total.
// An increment implying an impossible instantaneous speed is a GPS glitch:
// the fix stays in the track but the jump is excluded from the total.
func DistanceIncrement(prevLat, prevLon float64, prevAt time.Time, lat, lon float64, at time.Time) (float64, bool) {
	d := Haversine(prevLat, prevLon, lat, lon)
	dt := at.Sub(prevAt).Seconds()
	if dt <= 0 {
		return d, d == 0
	}
	impliedKt := d / dt / knotsToMetersPerSec
	return d, impliedKt <= glitchSpeedCeilingKt
}

// MagneticVariation returns the magnetic declination in degrees (+East,
// -West) at a position. Failures fall back to zero declination, degrading a
// runway ident rather than blocking flight finalization.
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altFt*0.3048)
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0.0
	}
	return mag.D()
}

// AltitudeOffsetFt returns the difference between a reported MSL altitude
// and a known ground elevation, both in feet. Positive means the reported
// altitude reads high.
func AltitudeOffsetFt(reportedMSLFt, fieldElevationFt float64) float64 {
	return reportedMSLFt - fieldElevationFt
}
