package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/prayer-times-engine/internal/geo"
	"github.com/i474232898/prayer-times-engine/internal/location"
)

type AppConfig struct {
	Port     string
	LogLevel string
	Location *time.Location

	HTTPTimeout    time.Duration
	AladhanBaseURL string
	PrayerMethod   int

	// Options for every location acquisition.
	LocationOptions location.Options

	// Optional headless location sources, tried after device reports.
	StaticCoordinate *geo.Coordinate
	GeocoderAPIKey   string
	City             string
	Country          string

	GeohashPrecision uint
	CacheTTL         time.Duration

	RedisAddr     string
	RedisUsername string
	RedisPassword string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string

	// Snapshot history retention.
	StoreMaxHistory int           // max snapshots per location (0 = unlimited)
	StoreMaxAge     time.Duration // max age of snapshots (0 = unlimited)

	TickInterval   time.Duration
	DailyRefreshAt string
}

// Load reads configuration from the environment (and .env if present) with
// sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("config: no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	tz := getenvDefault("TIMEZONE", "Local")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.AladhanBaseURL = getenvDefault("ALADHAN_BASE_URL", "https://api.aladhan.com/v1")
	cfg.PrayerMethod = getenvInt("PRAYER_METHOD", 4)

	cfg.LocationOptions.HighAccuracy = getenvBool("LOCATION_HIGH_ACCURACY", true)
	if cfg.LocationOptions.Timeout, err = getenvDuration("LOCATION_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.LocationOptions.MaxCachedAge, err = getenvDuration("LOCATION_MAX_AGE", "5m"); err != nil {
		return nil, err
	}

	if cfg.StaticCoordinate, err = loadStaticCoordinate(); err != nil {
		return nil, err
	}
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.City = strings.TrimSpace(os.Getenv("LOCATION_CITY"))
	cfg.Country = strings.TrimSpace(os.Getenv("LOCATION_COUNTRY"))

	precision := getenvInt("GEOHASH_PRECISION", int(geo.DefaultCellPrecision))
	if precision < 1 || precision > int(geo.MaxCellPrecision) {
		return nil, fmt.Errorf("invalid GEOHASH_PRECISION: %d not in 1..%d", precision, geo.MaxCellPrecision)
	}
	cfg.GeohashPrecision = uint(precision)
	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", "12h"); err != nil {
		return nil, err
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisUsername = os.Getenv("REDIS_USERNAME")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.MQTTBrokerURL = os.Getenv("MQTT_BROKER_URL")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "prayer-times-engine")
	cfg.MQTTTopic = getenvDefault("MQTT_TOPIC", "prayer/notifications")

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 30)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "72h"); err != nil {
		return nil, err
	}

	if cfg.TickInterval, err = getenvDuration("TICK_INTERVAL", "1m"); err != nil {
		return nil, err
	}
	cfg.DailyRefreshAt = getenvDefault("DAILY_REFRESH_AT", "00:05")
	if _, err := time.Parse("15:04", cfg.DailyRefreshAt); err != nil {
		return nil, fmt.Errorf("invalid DAILY_REFRESH_AT: %w", err)
	}

	return cfg, nil
}

// GeocoderEnabled reports whether a city lookup is configured.
func (c *AppConfig) GeocoderEnabled() bool {
	return c.GeocoderAPIKey != "" && c.City != ""
}

func loadStaticCoordinate() (*geo.Coordinate, error) {
	latStr := os.Getenv("LOCATION_LATITUDE")
	lonStr := os.Getenv("LOCATION_LONGITUDE")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, fmt.Errorf("LOCATION_LATITUDE and LOCATION_LONGITUDE must be set together")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATION_LATITUDE: %w", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATION_LONGITUDE: %w", err)
	}
	c, err := geo.NewCoordinate(lat, lon)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
