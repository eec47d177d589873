package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hut8/soar-sub007/pkg/logger"
)

const runwaysCSV = `id,airport_ref,airport_ident,length_ft,width_ft,surface,lighted,closed,le_ident,le_latitude_deg,le_longitude_deg,le_elevation_ft,le_heading_degT,le_displaced_threshold_ft,he_ident,he_latitude_deg,he_longitude_deg,he_elevation_ft,he_heading_degT,he_displaced_threshold_ft
240504,2669,LSZB,5676,98,ASP,1,0,14,46.9180,7.4920,1668,140.0,,32,46.9080,7.5050,1665,320.0,
240505,2669,LSZB,2100,130,GRS,0,1,14L,46.9200,7.4900,1670,140.0,,32R,46.9100,7.5030,1667,320.0,
240506,2670,LSTB,2460,65,GRS,0,0,06,46.7400,7.2550,1905,62.0,,,,,,,
`

const airportsCSV = `id,ident,type,name,latitude_deg,longitude_deg,elevation_ft,continent,iso_country,iso_region,municipality,scheduled_service,gps_code,iata_code,local_code,home_link,wikipedia_link,keywords
2669,LSZB,medium_airport,"Bern Airport",46.9141,7.4971,1674,EU,CH,CH-BE,Bern,yes,LSZB,BRN,,,,
2670,LSTB,small_airport,"Zweisimmen Airport",46.5525,7.3806,,EU,CH,CH-BE,Zweisimmen,no,LSTB,,,,,
9999,XXXX,closed,"No Position",,,1000,EU,CH,CH-BE,,no,,,,,,
`

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNewRunwayDB(t *testing.T) {
	db, err := NewRunwayDB(writeCSV(t, "runways.csv", runwaysCSV), 2000, 30, logger.NewNop())
	if err != nil {
		t.Fatalf("NewRunwayDB: %v", err)
	}

	// open runway contributes both ends, the closed one none, the grass
	// strip only its surveyed low end
	if len(db.ends) != 3 {
		t.Fatalf("loaded ends = %d, want 3", len(db.ends))
	}
	le := db.ends[0]
	if le.AirportIdent != "LSZB" || le.Ident != "14" {
		t.Errorf("first end = %s/%s, want LSZB/14", le.AirportIdent, le.Ident)
	}
	if le.HeadingTrue != 140.0 {
		t.Errorf("first end heading = %v, want 140", le.HeadingTrue)
	}
	if db.ends[2].Ident != "06" {
		t.Errorf("third end = %s, want 06", db.ends[2].Ident)
	}
}

func TestNewAirportDB(t *testing.T) {
	db, err := NewAirportDB(writeCSV(t, "airports.csv", airportsCSV), logger.NewNop())
	if err != nil {
		t.Fatalf("NewAirportDB: %v", err)
	}

	// the row without coordinates is dropped
	if len(db.airports) != 2 {
		t.Fatalf("loaded airports = %d, want 2", len(db.airports))
	}
	bern := db.airports[0]
	if bern.Ident != "LSZB" || bern.Name != "Bern Airport" {
		t.Errorf("first airport = %s/%q, want LSZB/Bern Airport", bern.Ident, bern.Name)
	}
	if !bern.HasElev || bern.ElevationFt != 1674 {
		t.Errorf("Bern elevation = %v (has %v), want 1674", bern.ElevationFt, bern.HasElev)
	}
	if db.airports[1].HasElev {
		t.Error("Zweisimmen has no surveyed elevation, HasElev should be false")
	}

	got := db.Nearest(46.915, 7.50, 2000)
	if got == nil || got.Ident != "LSZB" {
		t.Fatalf("Nearest = %v, want LSZB", got)
	}
}
