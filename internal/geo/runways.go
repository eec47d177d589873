package geo

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/hut8/soar-sub007/pkg/logger"
)

// RunwayEnd is one threshold of a runway with its true heading
type RunwayEnd struct {
	AirportIdent string
	Ident        string
	Latitude     float64
	Longitude    float64
	HeadingTrue  float64
}

// RunwayMatch is the outcome of matching an event position+course to a
// runway: either a database end within tolerance or an ident inferred from
// the magnetic ground track.
type RunwayMatch struct {
	Ident    string
	Airport  string
	Inferred bool
}

// runwayRow maps one record of the OurAirports runways CSV. Numeric
// columns stay strings; empty cells mean the threshold is unsurveyed.
type runwayRow struct {
	AirportIdent string `csv:"airport_ident"`
	Closed       string `csv:"closed"`
	LeIdent      string `csv:"le_ident"`
	LeLatitude   string `csv:"le_latitude_deg"`
	LeLongitude  string `csv:"le_longitude_deg"`
	LeHeading    string `csv:"le_heading_degT"`
	HeIdent      string `csv:"he_ident"`
	HeLatitude   string `csv:"he_latitude_deg"`
	HeLongitude  string `csv:"he_longitude_deg"`
	HeHeading    string `csv:"he_heading_degT"`
}

// RunwayDB holds runway end geometry loaded from the runways CSV
type RunwayDB struct {
	ends            []RunwayEnd
	matchRadiusM    float64
	headingTolerDeg float64
	logger          *logger.Logger
}

func init() {
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(in) // Allows use of quotes in CSV
	})
}

// NewRunwayDB loads runway ends from the OurAirports-format runways CSV.
// Rows without threshold coordinates or headings are skipped; closed
// runways are excluded.
func NewRunwayDB(path string, matchRadiusM, headingTolerDeg float64, log *logger.Logger) (*RunwayDB, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open runways CSV: %w", err)
	}
	defer file.Close()

	var rows []*runwayRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to read runways CSV: %w", err)
	}

	db := &RunwayDB{
		matchRadiusM:    matchRadiusM,
		headingTolerDeg: headingTolerDeg,
		logger:          log.Named("runways"),
	}

	for _, row := range rows {
		if row.Closed == "1" {
			continue
		}
		if end, ok := parseRunwayEnd(row.AirportIdent, row.LeIdent, row.LeLatitude, row.LeLongitude, row.LeHeading); ok {
			db.ends = append(db.ends, end)
		}
		if end, ok := parseRunwayEnd(row.AirportIdent, row.HeIdent, row.HeLatitude, row.HeLongitude, row.HeHeading); ok {
			db.ends = append(db.ends, end)
		}
	}

	db.logger.Info("Loaded runway ends", logger.Int("count", len(db.ends)))
	return db, nil
}

func parseRunwayEnd(airport, ident, latS, lonS, hdgS string) (RunwayEnd, bool) {
	if ident == "" {
		return RunwayEnd{}, false
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	hdg, err3 := strconv.ParseFloat(hdgS, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return RunwayEnd{}, false
	}
	return RunwayEnd{
		AirportIdent: airport,
		Ident:        ident,
		Latitude:     lat,
		Longitude:    lon,
		HeadingTrue:  hdg,
	}, true
}

// Match finds the runway end nearest the event position whose true heading
// agrees with the course within tolerance. No candidate within range falls
// back to an inferred ident from the magnetic course.
func (db *RunwayDB) Match(lat, lon, courseTrue float64, at time.Time) RunwayMatch {
	best := RunwayMatch{}
	bestDist := math.MaxFloat64

	for i := range db.ends {
		end := &db.ends[i]
		d := Haversine(lat, lon, end.Latitude, end.Longitude)
		if d > db.matchRadiusM || d >= bestDist {
			continue
		}
		if AngularDiff(courseTrue, end.HeadingTrue) > db.headingTolerDeg {
			continue
		}
		bestDist = d
		best = RunwayMatch{Ident: end.Ident, Airport: end.AirportIdent}
	}

	if best.Ident != "" {
		return best
	}
	return RunwayMatch{Ident: InferRunwayIdent(lat, lon, courseTrue, at), Inferred: true}
}

// InferRunwayIdent derives a synthetic runway ident from the ground track:
// the course is converted to magnetic, rounded to the nearest ten degrees,
// with 0 rendered as 36.
func InferRunwayIdent(lat, lon, courseTrue float64, at time.Time) string {
	magnetic := courseTrue - MagneticVariation(lat, lon, 0, at)
	magnetic = math.Mod(magnetic+360, 360)
	n := int(math.Round(magnetic/10)) % 36
	if n == 0 {
		n = 36
	}
	return fmt.Sprintf("%02d", n)
}
