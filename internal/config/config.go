package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hut8/soar-sub007/internal/geofence"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server    ServerConfig    `toml:"server"`    // HTTP server settings
	APRS      APRSConfig      `toml:"aprs"`      // APRS-IS / OGN feed settings
	Beast     BeastConfig     `toml:"beast"`     // ADS-B Beast feed settings
	Tracker   TrackerConfig   `toml:"tracker"`   // Flight state engine settings
	Towing    TowingConfig    `toml:"towing"`    // Tow pairing settings
	Runways   RunwaysConfig   `toml:"runways"`   // Runway matching settings
	Airports  AirportsConfig  `toml:"airports"`  // Airport database settings
	Geofences GeofencesConfig `toml:"geofences"` // Geofence monitoring settings
	Storage   StorageConfig   `toml:"storage"`   // Data persistence settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the API and WebSocket endpoint
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// APRSConfig contains APRS-IS feed configuration
type APRSConfig struct {
	Enabled  bool   `toml:"enabled"`  // Whether to connect to the APRS-IS feed
	Addr     string `toml:"addr"`     // APRS-IS server address, e.g. "aprs.glidernet.org:14580"
	Callsign string `toml:"callsign"` // Login callsign for the APRS-IS session
	Passcode string `toml:"passcode"` // APRS-IS passcode ("-1" for receive-only)
	Filter   string `toml:"filter"`   // Server-side filter, e.g. "r/46.8/8.2/250" for a radius around the station
}

// BeastConfig contains ADS-B Beast feed configuration
type BeastConfig struct {
	Enabled    bool    `toml:"enabled"`     // Whether to connect to the Beast feed
	Addr       string  `toml:"addr"`        // Beast feed address, e.g. "localhost:30005" (dump1090)
	StationLat float64 `toml:"station_lat"` // Receiver latitude, used as the CPR local decode reference
	StationLon float64 `toml:"station_lon"` // Receiver longitude
}

// TrackerConfig contains flight state engine configuration
type TrackerConfig struct {
	StalenessMins     int `toml:"staleness_minutes"`      // Minutes without fixes before an active flight times out (default: 20)
	SweepIntervalSecs int `toml:"sweep_interval_seconds"` // How often the staleness sweep runs (default: 60)
	StateEvictionHrs  int `toml:"state_eviction_hours"`   // Hours of silence before per-aircraft state is evicted (default: 18)
	DedupeWindowSecs  int `toml:"dedupe_window_seconds"`  // Sliding window for payload deduplication (default: 5)
	DedupeMaxEntries  int `toml:"dedupe_max_entries"`     // Maximum payload hashes held in the dedup window (default: 65536)

	ActiveSpeedKt        float64 `toml:"active_speed_kt"`          // Ground speed treated as airborne when height above ground is known (default: 25)
	ActiveAGLFt          float64 `toml:"active_agl_ft"`            // Height above ground treated as airborne regardless of speed (default: 250)
	NoAltitudeSpeedKt    float64 `toml:"no_altitude_speed_kt"`     // Speed cutoff when no height above ground is known (default: 80)
	LowAGLTakeoffFt      float64 `toml:"low_agl_takeoff_ft"`       // Below this height a newly active aircraft counts as freshly departed (default: 100)
	TakeoffLookbackFixes int     `toml:"takeoff_lookback_fixes"`   // Consecutive inactive fixes before an active one that confirm a takeoff (default: 3)
	LandingDebounceFixes int     `toml:"landing_debounce_fixes"`   // Consecutive inactive fixes that confirm a landing (default: 5)
	GapSplitMins         int     `toml:"gap_split_minutes"`        // Silent gap after which an under-traveled flight is split (default: 30)
	DuplicateWindowSecs  int     `toml:"duplicate_window_seconds"` // Per-aircraft window inside which a repeat fix is discarded (default: 1)
}

// TowingConfig contains tow pairing configuration
type TowingConfig struct {
	VicinityMeters int     `toml:"vicinity_meters"` // Maximum distance between glider launch and tow candidate (default: 500)
	ReleaseFpm     float64 `toml:"release_fpm"`     // Climb divergence threshold for release detection (default: 100)
}

// RunwaysConfig contains runway matching configuration
type RunwaysConfig struct {
	DBPath            string  `toml:"db_path"`               // Path to runway database CSV file (OurAirports format)
	MatchRadiusMeters float64 `toml:"match_radius_meters"`   // Search radius around takeoff/landing points (default: 2000)
	HeadingToleranceD float64 `toml:"heading_tolerance_deg"` // Maximum course-to-runway-heading difference (default: 30)
	EventWindowSecs   int     `toml:"event_window_seconds"`  // Span around a takeoff/landing over which the course is averaged (default: 20)
}

// AirportsConfig contains airport database configuration
type AirportsConfig struct {
	DBPath string `toml:"db_path"` // Path to airport database CSV file (OurAirports format)
}

// GeofencesConfig contains geofence monitoring configuration
type GeofencesConfig struct {
	Enabled     bool   `toml:"enabled"`     // Whether geofence monitoring is active
	Definitions string `toml:"definitions"` // Path to the TOML file holding [[geofences]] blocks
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type       string `toml:"type"`        // Storage backend type (currently only "sqlite" is supported)
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations
// in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	if !c.APRS.Enabled && !c.Beast.Enabled {
		return fmt.Errorf("at least one feed (aprs or beast) must be enabled")
	}
	if c.APRS.Enabled {
		if c.APRS.Addr == "" {
			return fmt.Errorf("aprs.addr is required when the APRS feed is enabled")
		}
		if c.APRS.Callsign == "" {
			return fmt.Errorf("aprs.callsign is required when the APRS feed is enabled")
		}
	}
	if c.Beast.Enabled {
		if c.Beast.Addr == "" {
			return fmt.Errorf("beast.addr is required when the Beast feed is enabled")
		}
		if c.Beast.StationLat < -90 || c.Beast.StationLat > 90 {
			return fmt.Errorf("invalid beast.station_lat: %f", c.Beast.StationLat)
		}
		if c.Beast.StationLon < -180 || c.Beast.StationLon > 180 {
			return fmt.Errorf("invalid beast.station_lon: %f", c.Beast.StationLon)
		}
	}

	if c.Tracker.StalenessMins <= 0 {
		c.Tracker.StalenessMins = 20
	}
	if c.Tracker.SweepIntervalSecs <= 0 {
		c.Tracker.SweepIntervalSecs = 60
	}
	if c.Tracker.StateEvictionHrs <= 0 {
		c.Tracker.StateEvictionHrs = 18
	}
	if c.Tracker.DedupeWindowSecs <= 0 {
		c.Tracker.DedupeWindowSecs = 5
	}
	if c.Tracker.DedupeMaxEntries <= 0 {
		c.Tracker.DedupeMaxEntries = 65536
	}
	if c.Tracker.ActiveSpeedKt <= 0 {
		c.Tracker.ActiveSpeedKt = 25
	}
	if c.Tracker.ActiveAGLFt <= 0 {
		c.Tracker.ActiveAGLFt = 250
	}
	if c.Tracker.NoAltitudeSpeedKt <= 0 {
		c.Tracker.NoAltitudeSpeedKt = 80
	}
	if c.Tracker.LowAGLTakeoffFt <= 0 {
		c.Tracker.LowAGLTakeoffFt = 100
	}
	if c.Tracker.TakeoffLookbackFixes <= 0 {
		c.Tracker.TakeoffLookbackFixes = 3
	}
	if c.Tracker.LandingDebounceFixes <= 0 {
		c.Tracker.LandingDebounceFixes = 5
	}
	if c.Tracker.GapSplitMins <= 0 {
		c.Tracker.GapSplitMins = 30
	}
	if c.Tracker.DuplicateWindowSecs <= 0 {
		c.Tracker.DuplicateWindowSecs = 1
	}

	if c.Towing.VicinityMeters <= 0 {
		c.Towing.VicinityMeters = 500
	}
	if c.Towing.ReleaseFpm <= 0 {
		c.Towing.ReleaseFpm = 100
	}

	if c.Runways.MatchRadiusMeters <= 0 {
		c.Runways.MatchRadiusMeters = 2000
	}
	if c.Runways.HeadingToleranceD <= 0 {
		c.Runways.HeadingToleranceD = 30
	}
	if c.Runways.EventWindowSecs <= 0 {
		c.Runways.EventWindowSecs = 20
	}

	if c.Geofences.Enabled && c.Geofences.Definitions == "" {
		return fmt.Errorf("geofences.definitions is required when geofence monitoring is enabled")
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type != "sqlite" {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "soar.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// LoadGeofences reads and validates the geofence definitions file
func (c *Config) LoadGeofences() ([]geofence.Geofence, error) {
	if !c.Geofences.Enabled {
		return nil, nil
	}
	return geofence.LoadDefinitions(c.Geofences.Definitions)
}

// StalenessWindow returns the tracker staleness window as a duration
func (c *TrackerConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessMins) * time.Minute
}

// SweepInterval returns the staleness sweep interval as a duration
func (c *TrackerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// StateEviction returns the per-aircraft state eviction age as a duration
func (c *TrackerConfig) StateEviction() time.Duration {
	return time.Duration(c.StateEvictionHrs) * time.Hour
}

// DedupeWindow returns the payload dedup window as a duration
func (c *TrackerConfig) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowSecs) * time.Second
}

// GapSplit returns the flight gap-split threshold as a duration
func (c *TrackerConfig) GapSplit() time.Duration {
	return time.Duration(c.GapSplitMins) * time.Minute
}

// DuplicateWindow returns the per-aircraft repeat-fix window as a duration
func (c *TrackerConfig) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSecs) * time.Second
}

// EventWindow returns the runway course-averaging span as a duration
func (c *RunwaysConfig) EventWindow() time.Duration {
	return time.Duration(c.EventWindowSecs) * time.Second
}
