package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
)

// UpsertFlight inserts or refreshes an open flight record
func (s *Storage) UpsertFlight(f *fix.Flight) error {
	_, err := s.db.Exec(`
		INSERT INTO flights (
			id, device, aircraft_type, state, takeoff_time, landing_time,
			timed_out_at, first_seen_airborne, departure_airport,
			arrival_airport, takeoff_runway, landing_runway, runways_inferred,
			takeoff_alt_offset_ft, landing_alt_offset_ft, towed_by_aircraft,
			towed_by_flight, tow_release_time, tow_release_alt_ft,
			total_distance_m, max_displacement_m, last_fix_at, last_phase,
			spurious, spurious_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			takeoff_time = excluded.takeoff_time,
			landing_time = excluded.landing_time,
			timed_out_at = excluded.timed_out_at,
			departure_airport = excluded.departure_airport,
			arrival_airport = excluded.arrival_airport,
			takeoff_runway = excluded.takeoff_runway,
			landing_runway = excluded.landing_runway,
			runways_inferred = excluded.runways_inferred,
			takeoff_alt_offset_ft = excluded.takeoff_alt_offset_ft,
			landing_alt_offset_ft = excluded.landing_alt_offset_ft,
			towed_by_aircraft = excluded.towed_by_aircraft,
			towed_by_flight = excluded.towed_by_flight,
			tow_release_time = excluded.tow_release_time,
			tow_release_alt_ft = excluded.tow_release_alt_ft,
			total_distance_m = excluded.total_distance_m,
			max_displacement_m = excluded.max_displacement_m,
			last_fix_at = excluded.last_fix_at,
			last_phase = excluded.last_phase,
			spurious = excluded.spurious,
			spurious_reason = excluded.spurious_reason
	`,
		f.ID, f.Device, f.AircraftType.String(), string(f.State),
		nullTime(f.TakeoffTime), nullTime(f.LandingTime), nullTime(f.TimedOutAt),
		boolInt(f.FirstSeenAirborne),
		nullString(f.DepartureAirport), nullString(f.ArrivalAirport),
		nullString(f.TakeoffRunway), nullString(f.LandingRunway),
		boolInt(f.RunwaysInferred),
		nullFloat(f.TakeoffAltOffset), nullFloat(f.LandingAltOffset),
		nullString(f.TowedByAircraft), nullString(f.TowedByFlight),
		nullTime(f.TowReleaseTime), nullFloat(f.TowReleaseAltFt),
		f.TotalDistanceM, f.MaxDisplacementM,
		f.LastFixAt.UTC().Format(time.RFC3339Nano), string(f.LastPhase),
		boolInt(f.Spurious), f.SpuriousReason,
		f.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert flight: %w", err)
	}
	return nil
}

// FinalizeFlight writes the terminal state of a flight. The record may or
// may not already exist depending on how short the flight was.
func (s *Storage) FinalizeFlight(f *fix.Flight) error {
	return s.UpsertFlight(f)
}

// GetFlight returns one flight by ID, or nil if not found
func (s *Storage) GetFlight(id string) (*fix.Flight, error) {
	rows, err := s.db.Query(flightSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanFlight(rows)
}

// GetFlightsByDevice returns flights for one aircraft, newest first
func (s *Storage) GetFlightsByDevice(device string, limit int) ([]*fix.Flight, error) {
	rows, err := s.db.Query(flightSelect+`
		WHERE device = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, device, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()
	return collectFlights(rows)
}

// GetRecentFlights returns flights created within a time window, newest
// first. Spurious flights are excluded.
func (s *Storage) GetRecentFlights(since time.Time, limit int) ([]*fix.Flight, error) {
	rows, err := s.db.Query(flightSelect+`
		WHERE created_at >= ? AND spurious = 0
		ORDER BY created_at DESC
		LIMIT ?
	`, since.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent flights: %w", err)
	}
	defer rows.Close()
	return collectFlights(rows)
}

// GetActiveFlights returns flights with no terminal state yet, newest first
func (s *Storage) GetActiveFlights(limit int) ([]*fix.Flight, error) {
	rows, err := s.db.Query(flightSelect+`
		WHERE state = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, string(fix.FlightActive), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active flights: %w", err)
	}
	defer rows.Close()
	return collectFlights(rows)
}

// GetFlightTrack returns the fixes spanning one flight, oldest first
func (s *Storage) GetFlightTrack(id string, limit int) ([]*fix.Fix, error) {
	flight, err := s.GetFlight(id)
	if err != nil {
		return nil, err
	}
	if flight == nil {
		return nil, nil
	}

	from := flight.CreatedAt
	if flight.TakeoffTime != nil && flight.TakeoffTime.Before(from) {
		from = *flight.TakeoffTime
	}
	to := flight.LastFixAt
	if flight.LandingTime != nil && flight.LandingTime.After(to) {
		to = *flight.LandingTime
	}
	fixes, err := s.GetFixesByDevice(flight.Device, from, to, limit)
	if err != nil {
		return nil, err
	}
	if fixes == nil {
		fixes = []*fix.Fix{}
	}
	return fixes, nil
}

const flightSelect = `
	SELECT id, device, aircraft_type, state, takeoff_time, landing_time,
		timed_out_at, first_seen_airborne, departure_airport, arrival_airport,
		takeoff_runway, landing_runway, runways_inferred,
		takeoff_alt_offset_ft, landing_alt_offset_ft, towed_by_aircraft,
		towed_by_flight, tow_release_time, tow_release_alt_ft,
		total_distance_m, max_displacement_m, last_fix_at, last_phase,
		spurious, spurious_reason, created_at
	FROM flights`

func collectFlights(rows *sql.Rows) ([]*fix.Flight, error) {
	var flights []*fix.Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flight rows: %w", err)
	}
	return flights, nil
}

func scanFlight(rows *sql.Rows) (*fix.Flight, error) {
	var f fix.Flight
	var aircraftType, state, lastFixAt, createdAt string
	var takeoff, landing, timedOut, towRelease sql.NullString
	var firstSeenAirborne, runwaysInferred, spurious int
	var depAirport, arrAirport, takeoffRwy, landingRwy sql.NullString
	var towBy, towByFlight, lastPhase, spuriousReason sql.NullString
	var takeoffOffset, landingOffset, towReleaseAlt sql.NullFloat64

	if err := rows.Scan(
		&f.ID, &f.Device, &aircraftType, &state, &takeoff, &landing,
		&timedOut, &firstSeenAirborne, &depAirport, &arrAirport,
		&takeoffRwy, &landingRwy, &runwaysInferred,
		&takeoffOffset, &landingOffset, &towBy, &towByFlight,
		&towRelease, &towReleaseAlt,
		&f.TotalDistanceM, &f.MaxDisplacementM, &lastFixAt, &lastPhase,
		&spurious, &spuriousReason, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan flight row: %w", err)
	}

	f.AircraftType = fix.AircraftTypeFromName(aircraftType)
	f.State = fix.FlightState(state)
	f.FirstSeenAirborne = firstSeenAirborne != 0
	f.RunwaysInferred = runwaysInferred != 0
	f.Spurious = spurious != 0
	f.DepartureAirport = stringPtr(depAirport)
	f.ArrivalAirport = stringPtr(arrAirport)
	f.TakeoffRunway = stringPtr(takeoffRwy)
	f.LandingRunway = stringPtr(landingRwy)
	f.TowedByAircraft = stringPtr(towBy)
	f.TowedByFlight = stringPtr(towByFlight)
	f.TakeoffAltOffset = floatPtr(takeoffOffset)
	f.LandingAltOffset = floatPtr(landingOffset)
	f.TowReleaseAltFt = floatPtr(towReleaseAlt)
	if lastPhase.Valid {
		f.LastPhase = fix.FlightPhase(lastPhase.String)
	}
	if spuriousReason.Valid {
		f.SpuriousReason = spuriousReason.String
	}

	var err error
	if f.TakeoffTime, err = timePtr(takeoff); err != nil {
		return nil, fmt.Errorf("failed to parse takeoff_time: %w", err)
	}
	if f.LandingTime, err = timePtr(landing); err != nil {
		return nil, fmt.Errorf("failed to parse landing_time: %w", err)
	}
	if f.TimedOutAt, err = timePtr(timedOut); err != nil {
		return nil, fmt.Errorf("failed to parse timed_out_at: %w", err)
	}
	if f.TowReleaseTime, err = timePtr(towRelease); err != nil {
		return nil, fmt.Errorf("failed to parse tow_release_time: %w", err)
	}
	if f.LastFixAt, err = time.Parse(time.RFC3339Nano, lastFixAt); err != nil {
		return nil, fmt.Errorf("failed to parse last_fix_at: %w", err)
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &f, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
