package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Application settings
type Config struct {
	Stage     string
	App       string
	Server    ServerConfig
	Logging   LoggingConfig
	Calltouch CalltouchConfig
	Sink      SinkConfig
	Load      LoadConfig
}

// Server settings
type ServerConfig struct {
	Port string
}

// Calltouch API account and transport settings
type CalltouchConfig struct {
	SiteID             string
	Token              string
	DiscoveryURL       string
	NodeDomain         string
	DefaultHost        string
	RequestTimeout     time.Duration
	RateLimitPerSecond int
	AudioDir           string
}

// Relational sink settings. Driver is one of postgres, sqlite3 or csv.
type SinkConfig struct {
	Driver          string
	Host            string
	Port            string
	Database        string
	User            string
	Password        string
	SSLMode         string
	Path            string
	Table           string
	MarkerTable     string
	ColumnSeparator string
}

type LoadConfig struct {
	Pipeline    string
	Attribution int
	RawCalls    bool
}

// Logging settings
type LoggingConfig struct {
	Level string
}

// Load reads .env.{STAGE} and .env (when present) and builds the configuration
// from the environment. Variables already set in the process take precedence.
func Load() (*Config, error) {
	stage := getEnv("STAGE", "dev")
	_ = godotenv.Load(".env." + stage)
	_ = godotenv.Load(".env")

	config := &Config{
		Stage: stage,
		App:   getEnv("APP", "calltouch"),
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Calltouch: CalltouchConfig{
			SiteID:             getEnv("CALLTOUCH_USER_ID", ""),
			Token:              getEnv("CALLTOUCH_TOKEN", ""),
			DiscoveryURL:       getEnv("CALLTOUCH_DISCOVERY_URL", "https://api.calltouch.ru"),
			NodeDomain:         getEnv("CALLTOUCH_NODE_DOMAIN", "calltouch.ru"),
			DefaultHost:        getEnv("CALLTOUCH_DEFAULT_HOST", "http://api.calltouch.ru"),
			RequestTimeout:     getDurationEnv("CALLTOUCH_REQUEST_TIMEOUT", "60s"),
			RateLimitPerSecond: getIntEnv("CALLTOUCH_RATE_LIMIT_PER_SECOND", 10),
			AudioDir:           getEnv("CALLTOUCH_AUDIO_DIR", "."),
		},
		Sink: SinkConfig{
			Driver:          getEnv("SINK_DRIVER", "postgres"),
			Host:            getEnv("SINK_HOST", "localhost"),
			Port:            getEnv("SINK_PORT", "5432"),
			Database:        getEnv("SINK_DATABASE", ""),
			User:            getEnv("SINK_USER", ""),
			Password:        getEnv("SINK_PASSWORD", ""),
			SSLMode:         getEnv("SINK_SSLMODE", "disable"),
			Path:            getEnv("SINK_PATH", "calltouch.db"),
			Table:           getEnv("SINK_TABLE", "calltouch_calls"),
			MarkerTable:     getEnv("SINK_MARKER_TABLE", "table_updates"),
			ColumnSeparator: getEnv("SINK_COLUMN_SEPARATOR", ";"),
		},
		Load: LoadConfig{
			Pipeline:    getEnv("LOAD_PIPELINE", "CalltouchGetter"),
			Attribution: getIntEnv("LOAD_ATTRIBUTION", 0),
			RawCalls:    getBoolEnv("LOAD_RAW_CALLS", false),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return config, nil
}

// Validate checks the settings a load run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Calltouch.SiteID == "" {
		errs = append(errs, errors.New("CALLTOUCH_USER_ID is required"))
	}
	if c.Calltouch.Token == "" {
		errs = append(errs, errors.New("CALLTOUCH_TOKEN is required"))
	}
	if c.Sink.Table == "" {
		errs = append(errs, errors.New("SINK_TABLE is required"))
	}
	switch c.Sink.Driver {
	case "postgres":
		if c.Sink.Database == "" {
			errs = append(errs, errors.New("SINK_DATABASE is required for postgres"))
		}
	case "sqlite3", "csv":
	default:
		errs = append(errs, errors.New("SINK_DRIVER must be postgres, sqlite3 or csv"))
	}
	if len(c.Sink.ColumnSeparator) != 1 {
		errs = append(errs, errors.New("SINK_COLUMN_SEPARATOR must be a single character"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
