package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	SessionID string `validate:"required"`

	NATSURL         string `validate:"required,url"`
	FixSubject      string `validate:"required"`
	SpeechSubject   string `validate:"required"`
	LogNATSSubjects bool

	AMQPURL      string `validate:"omitempty,url"`
	AMQPExchange string `validate:"required_with=AMQPURL"`

	MetricsAddr string

	RouteSource   string `validate:"oneof=file directions timetable"`
	RouteFile     string `validate:"required_if=RouteSource file"`
	DirectionsURL string `validate:"omitempty,url"`
	DirectionsKey string `validate:"required_if=RouteSource directions"`
	Origin        string
	Destination   string `validate:"required_if=RouteSource directions,required_if=RouteSource timetable"`
	DatabaseURL   string `validate:"required_if=RouteSource timetable"`

	LocationGranted bool
	SpeechQueueSize int `validate:"gt=0"`
	ReadOverview    bool
	PositionTimeout time.Duration
	StatusInterval  time.Duration
	Location        *time.Location

	// simulator
	PublishInterval time.Duration
	StartHold       time.Duration
	WalkSpeedMps    float64 `validate:"gt=0"`
	SpeedMultiplier float64 `validate:"gt=0"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.SessionID = getenvDefault("SESSION_ID", "default")
	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.FixSubject = getenvDefault("NATS_FIX_SUBJECT", "navigator.fixes")
	cfg.SpeechSubject = getenvDefault("NATS_SPEECH_SUBJECT", "navigator.speech")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"), false)

	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.AMQPExchange = getenvDefault("AMQP_EXCHANGE", "navigator.announcements")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.RouteSource = strings.ToLower(getenvDefault("ROUTE_SOURCE", "file"))
	cfg.RouteFile = os.Getenv("ROUTE_FILE")
	cfg.DirectionsURL = getenvDefault("DIRECTIONS_URL", "https://maps.googleapis.com/maps/api/directions/json")
	cfg.DirectionsKey = firstNonEmpty(os.Getenv("DIRECTIONS_API_KEY"), os.Getenv("GOOGLE_MAPS_API_KEY"))
	cfg.Origin = os.Getenv("ORIGIN")
	cfg.Destination = os.Getenv("DESTINATION")

	dsn, err := databaseURL()
	if err != nil {
		return nil, err
	}
	cfg.DatabaseURL = dsn

	cfg.LocationGranted = parseBool(os.Getenv("LOCATION_PERMISSION"), true)
	cfg.ReadOverview = parseBool(os.Getenv("READ_OVERVIEW"), false)

	if cfg.SpeechQueueSize, err = intEnv("SPEECH_QUEUE_SIZE", 32); err != nil {
		return nil, err
	}
	if cfg.PositionTimeout, err = durationMsEnv("POSITION_TIMEOUT_MS", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatusInterval, err = durationMsEnv("STATUS_INTERVAL_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PublishInterval, err = durationMsEnv("PUBLISH_INTERVAL_MS", time.Second); err != nil {
		return nil, err
	}
	if cfg.StartHold, err = holdMsEnv("SIM_START_HOLD_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WalkSpeedMps, err = floatEnv("WALK_SPEED_MPS", 1.4); err != nil {
		return nil, err
	}
	if cfg.SpeedMultiplier, err = floatEnv("SPEED_MULTIPLIER", 1.0); err != nil {
		return nil, err
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, including those that depend on ROUTE_SOURCE.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars when PGDATABASE is set.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if strings.ContainsAny(host, "/ ") {
		return "", errors.New("PGHOST must be a host name")
	}
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func durationMsEnv(k string, def time.Duration) (time.Duration, error) {
	ms, err := intEnv(k, -1)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return def, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// holdMsEnv reads a pause in milliseconds. Unlike durationMsEnv it accepts 0, which disables the pause.
func holdMsEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return def
	case "1", "true", "t", "yes", "y", "on", "granted":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
