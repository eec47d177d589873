package sqlite

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/pkg/logger"
	_ "modernc.org/sqlite"
)

// Storage is a SQLite-based store for fixes, flights and receivers
type Storage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStorage creates a new SQLite-based storage
func NewStorage(dbPath string, log *logger.Logger) (*Storage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA cache_size=10000"); err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fixes (
			id TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			aircraft_type TEXT,
			timestamp TIMESTAMP NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			altitude_msl_ft REAL,
			altitude_agl_ft REAL,
			ground_speed_kt REAL,
			track_deg REAL,
			climb_rate_fpm REAL,
			turn_rate_rot REAL,
			snr_db REAL,
			on_ground INTEGER,
			receiver TEXT,
			raw_hash TEXT NOT NULL,
			source TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fixes table: %w", err)
	}

	// Receivers that relayed an already-accepted payload
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS fix_receivers (
			fix_id TEXT NOT NULL,
			receiver TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			UNIQUE(fix_id, receiver),
			FOREIGN KEY (fix_id) REFERENCES fixes(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fix_receivers table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS receivers (
			callsign TEXT PRIMARY KEY,
			latitude REAL,
			longitude REAL,
			from_directory INTEGER DEFAULT 0,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create receivers table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flights (
			id TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			aircraft_type TEXT,
			state TEXT NOT NULL,
			takeoff_time TIMESTAMP,
			landing_time TIMESTAMP,
			timed_out_at TIMESTAMP,
			first_seen_airborne INTEGER DEFAULT 0,
			departure_airport TEXT,
			arrival_airport TEXT,
			takeoff_runway TEXT,
			landing_runway TEXT,
			runways_inferred INTEGER DEFAULT 0,
			takeoff_alt_offset_ft REAL,
			landing_alt_offset_ft REAL,
			towed_by_aircraft TEXT,
			towed_by_flight TEXT,
			tow_release_time TIMESTAMP,
			tow_release_alt_ft REAL,
			total_distance_m REAL DEFAULT 0,
			max_displacement_m REAL DEFAULT 0,
			last_fix_at TIMESTAMP NOT NULL,
			last_phase TEXT,
			spurious INTEGER DEFAULT 0,
			spurious_reason TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flights table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_fixes_device_timestamp ON fixes(device, timestamp DESC)`)
	if err != nil {
		return fmt.Errorf("failed to create index on fixes.device_timestamp: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_fixes_timestamp ON fixes(timestamp)`)
	if err != nil {
		return fmt.Errorf("failed to create index on fixes.timestamp: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_flights_device_created ON flights(device, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("failed to create index on flights.device_created: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_flights_state ON flights(state)`)
	if err != nil {
		return fmt.Errorf("failed to create index on flights.state: %w", err)
	}

	log.Info("Database schema initialized successfully")
	return nil
}

// InsertFix stores one accepted fix
func (s *Storage) InsertFix(f *fix.Fix) error {
	_, err := s.db.Exec(`
		INSERT INTO fixes (
			id, device, aircraft_type, timestamp, latitude, longitude,
			altitude_msl_ft, altitude_agl_ft, ground_speed_kt, track_deg,
			climb_rate_fpm, turn_rate_rot, snr_db, on_ground, receiver,
			raw_hash, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.Device, f.AircraftType.String(),
		f.Timestamp.UTC().Format(time.RFC3339Nano),
		f.Latitude, f.Longitude,
		nullFloat(f.AltitudeMSLFt), nullFloat(f.AltitudeAGLFt),
		nullFloat(f.GroundSpeedKt), nullFloat(f.TrackDeg),
		nullFloat(f.ClimbRateFpm), nullFloat(f.TurnRateRot),
		nullFloat(f.SNRdB), nullBool(f.OnGround),
		f.ReceiverCallsign, hex.EncodeToString(f.RawHash[:]), string(f.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fix: %w", err)
	}
	return nil
}

// AppendFixReceiver records a receiver that relayed an already-stored fix
func (s *Storage) AppendFixReceiver(fixID, receiver string, receivedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO fix_receivers (fix_id, receiver, received_at)
		VALUES (?, ?, ?)
	`, fixID, receiver, receivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append fix receiver: %w", err)
	}
	return nil
}

// GetFixesByDevice returns fixes for one aircraft within a time window,
// oldest first
func (s *Storage) GetFixesByDevice(device string, from, to time.Time, limit int) ([]*fix.Fix, error) {
	rows, err := s.db.Query(`
		SELECT id, device, aircraft_type, timestamp, latitude, longitude,
			altitude_msl_ft, altitude_agl_ft, ground_speed_kt, track_deg,
			climb_rate_fpm, turn_rate_rot, snr_db, on_ground, receiver, source
		FROM fixes
		WHERE device = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`, device, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var fixes []*fix.Fix
	for rows.Next() {
		f, err := scanFix(rows)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fix rows: %w", err)
	}
	return fixes, nil
}

func scanFix(rows *sql.Rows) (*fix.Fix, error) {
	var f fix.Fix
	var aircraftType, timestamp, source string
	var altMSL, altAGL, speed, track, climb, turn, snr sql.NullFloat64
	var onGround sql.NullInt64
	var receiver sql.NullString

	if err := rows.Scan(
		&f.ID, &f.Device, &aircraftType, &timestamp, &f.Latitude, &f.Longitude,
		&altMSL, &altAGL, &speed, &track, &climb, &turn, &snr,
		&onGround, &receiver, &source,
	); err != nil {
		return nil, fmt.Errorf("failed to scan fix row: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fix timestamp: %w", err)
	}
	f.Timestamp = t
	f.AircraftType = fix.AircraftTypeFromName(aircraftType)
	f.Source = fix.Source(source)
	f.AltitudeMSLFt = floatPtr(altMSL)
	f.AltitudeAGLFt = floatPtr(altAGL)
	f.GroundSpeedKt = floatPtr(speed)
	f.TrackDeg = floatPtr(track)
	f.ClimbRateFpm = floatPtr(climb)
	f.TurnRateRot = floatPtr(turn)
	f.SNRdB = floatPtr(snr)
	if onGround.Valid {
		v := onGround.Int64 != 0
		f.OnGround = &v
	}
	if receiver.Valid {
		f.ReceiverCallsign = receiver.String
	}
	if id, err := fix.ParseDeviceID(f.Device); err == nil {
		f.DeviceID = id
	}
	return &f, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
