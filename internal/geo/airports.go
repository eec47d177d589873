package geo

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/hut8/soar-sub007/pkg/logger"
)

// Airport is one entry from the airports CSV
type Airport struct {
	Ident       string
	Name        string
	Latitude    float64
	Longitude   float64
	ElevationFt float64
	HasElev     bool
}

// airportRow maps one record of the OurAirports airports CSV
type airportRow struct {
	Ident       string `csv:"ident"`
	Name        string `csv:"name"`
	Latitude    string `csv:"latitude_deg"`
	Longitude   string `csv:"longitude_deg"`
	ElevationFt string `csv:"elevation_ft"`
}

// AirportDB answers nearest-airport queries for departure/arrival
// attribution and altitude-offset calibration
type AirportDB struct {
	airports []Airport
	logger   *logger.Logger
}

// NewAirportDB loads the OurAirports-format airports CSV
func NewAirportDB(path string, log *logger.Logger) (*AirportDB, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open airports CSV: %w", err)
	}
	defer file.Close()

	var rows []*airportRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to read airports CSV: %w", err)
	}

	db := &AirportDB{logger: log.Named("airports")}
	for _, row := range rows {
		lat, err1 := strconv.ParseFloat(row.Latitude, 64)
		lon, err2 := strconv.ParseFloat(row.Longitude, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		a := Airport{
			Ident:     row.Ident,
			Name:      row.Name,
			Latitude:  lat,
			Longitude: lon,
		}
		if row.ElevationFt != "" {
			if elev, err := strconv.ParseFloat(row.ElevationFt, 64); err == nil {
				a.ElevationFt = elev
				a.HasElev = true
			}
		}
		db.airports = append(db.airports, a)
	}

	db.logger.Info("Loaded airports", logger.Int("count", len(db.airports)))
	return db, nil
}

// Nearest returns the closest airport within maxDistM of the position, or
// nil when none is in range
func (db *AirportDB) Nearest(lat, lon, maxDistM float64) *Airport {
	var best *Airport
	bestDist := math.MaxFloat64
	for i := range db.airports {
		a := &db.airports[i]
		d := Haversine(lat, lon, a.Latitude, a.Longitude)
		if d <= maxDistM && d < bestDist {
			bestDist = d
			best = a
		}
	}
	return best
}
