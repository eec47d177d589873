package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Receiver is one ground station known to have relayed traffic
type Receiver struct {
	Callsign      string    `json:"callsign"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	FromDirectory bool      `json:"from_directory"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// UpsertReceiver records a receiver sighting, creating it on first contact
func (s *Storage) UpsertReceiver(callsign string, fromDirectory bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO receivers (callsign, from_directory, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(callsign) DO UPDATE SET
			last_seen = excluded.last_seen,
			from_directory = from_directory OR excluded.from_directory
	`, callsign, boolInt(fromDirectory), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert receiver: %w", err)
	}
	return nil
}

// UpdateReceiverPosition stores the position from a receiver's own beacon
func (s *Storage) UpdateReceiverPosition(callsign string, lat, lon float64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO receivers (callsign, latitude, longitude, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(callsign) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			last_seen = excluded.last_seen
	`, callsign, lat, lon, now, now)
	if err != nil {
		return fmt.Errorf("failed to update receiver position: %w", err)
	}
	return nil
}

// GetReceivers returns all known receivers, most recently heard first
func (s *Storage) GetReceivers() ([]*Receiver, error) {
	rows, err := s.db.Query(`
		SELECT callsign, latitude, longitude, from_directory, first_seen, last_seen
		FROM receivers
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receivers: %w", err)
	}
	defer rows.Close()

	var receivers []*Receiver
	for rows.Next() {
		var r Receiver
		var lat, lon sql.NullFloat64
		var fromDirectory int
		var firstSeen, lastSeen string

		if err := rows.Scan(&r.Callsign, &lat, &lon, &fromDirectory, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan receiver row: %w", err)
		}
		r.Latitude = floatPtr(lat)
		r.Longitude = floatPtr(lon)
		r.FromDirectory = fromDirectory != 0
		if r.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
			return nil, fmt.Errorf("failed to parse first_seen: %w", err)
		}
		if r.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return nil, fmt.Errorf("failed to parse last_seen: %w", err)
		}
		receivers = append(receivers, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receiver rows: %w", err)
	}
	return receivers, nil
}
