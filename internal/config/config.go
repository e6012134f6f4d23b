package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "geoservice.db"
	defaultWorkingDir    = "data/work"
	defaultInputDir      = "data/input"
	defaultOutputDir     = "data/output"
	defaultPublicBaseURL = "/output"
	defaultQueueCapacity = 256
	defaultCacheTTL      = 10 * time.Minute

	envConfigFile    = "GEOSERVICE_CONFIG"
	envListenAddr    = "GEOSERVICE_LISTEN_ADDR"
	envStoreDriver   = "GEOSERVICE_STORE_DRIVER"
	envDBPath        = "GEOSERVICE_DB_PATH"
	envDatabaseURL   = "GEOSERVICE_DATABASE_URL"
	envDBMaxConns    = "GEOSERVICE_DB_MAX_CONNS"
	envDBMinConns    = "GEOSERVICE_DB_MIN_CONNS"
	envDBConnMaxLife = "GEOSERVICE_DB_CONN_MAX_LIFETIME"
	envRedisURL      = "GEOSERVICE_REDIS_URL"
	envCacheTTL      = "GEOSERVICE_CACHE_TTL"
	envWorkingDir    = "GEOSERVICE_WORKING_DIR"
	envInputDir      = "GEOSERVICE_INPUT_DIR"
	envOutputDir     = "GEOSERVICE_OUTPUT_DIR"
	envPublicBaseURL = "GEOSERVICE_PUBLIC_BASE_URL"
	envQueueCapacity = "GEOSERVICE_QUEUE_CAPACITY"
	envCORSOrigins   = "GEOSERVICE_CORS_ORIGINS"
	envEngineBinary  = "GEOSERVICE_ENGINE_BINARY"
	envEngineArgs    = "GEOSERVICE_ENGINE_ARGS"
	envLogLevel      = "GEOSERVICE_LOG_LEVEL"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	StoreDriver string `yaml:"store_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`

	// Postgres pool sizing; zero keeps the pgx default.
	DBMaxConns        int           `yaml:"db_max_conns"`
	DBMinConns        int           `yaml:"db_min_conns"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime"`

	// RedisURL enables the ticket cache when set.
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	WorkingDir    string `yaml:"working_dir"`
	InputDir      string `yaml:"input_dir"`
	OutputDir     string `yaml:"output_dir"`
	PublicBaseURL string `yaml:"public_base_url"`

	QueueCapacity int      `yaml:"queue_capacity"`
	CORSOrigins   []string `yaml:"cors_origins"`

	EngineBinary string   `yaml:"engine_binary"`
	EngineArgs   []string `yaml:"engine_args"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:    defaultListenAddr,
		StoreDriver:   DriverSQLite,
		DBPath:        defaultDBPath,
		CacheTTL:      defaultCacheTTL,
		WorkingDir:    defaultWorkingDir,
		InputDir:      defaultInputDir,
		OutputDir:     defaultOutputDir,
		PublicBaseURL: defaultPublicBaseURL,
		QueueCapacity: defaultQueueCapacity,
		CORSOrigins:   []string{"*"},
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or at $GEOSERVICE_CONFIG when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	for env, dst := range map[string]*string{
		envListenAddr:    &c.ListenAddr,
		envStoreDriver:   &c.StoreDriver,
		envDBPath:        &c.DBPath,
		envDatabaseURL:   &c.DatabaseURL,
		envRedisURL:      &c.RedisURL,
		envWorkingDir:    &c.WorkingDir,
		envInputDir:      &c.InputDir,
		envOutputDir:     &c.OutputDir,
		envPublicBaseURL: &c.PublicBaseURL,
		envEngineBinary:  &c.EngineBinary,
		envLogLevel:      &c.LogLevel,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(envCacheTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envCacheTTL, err)
		}
		c.CacheTTL = d
	}
	if v := os.Getenv(envDBConnMaxLife); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envDBConnMaxLife, err)
		}
		c.DBConnMaxLifetime = d
	}
	for env, dst := range map[string]*int{
		envDBMaxConns: &c.DBMaxConns,
		envDBMinConns: &c.DBMinConns,
	} {
		if v := os.Getenv(env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", env, err)
			}
			*dst = n
		}
	}
	if v := os.Getenv(envQueueCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envQueueCapacity, err)
		}
		c.QueueCapacity = n
	}
	if v := os.Getenv(envCORSOrigins); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv(envEngineArgs); v != "" {
		c.EngineArgs = strings.Fields(v)
	}
	return nil
}

// Validate reports configuration that can not be started.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: db path is required for the sqlite driver", ErrInvalid)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database url is required for the postgres driver", ErrInvalid)
		}
		if c.DBMinConns < 0 || c.DBMaxConns < 0 || c.DBConnMaxLifetime < 0 {
			return fmt.Errorf("%w: pool settings must not be negative", ErrInvalid)
		}
		if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("%w: db min conns exceeds db max conns", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.StoreDriver)
	}

	if c.WorkingDir == "" {
		return fmt.Errorf("%w: working dir is required", ErrInvalid)
	}
	if c.InputDir == "" {
		return fmt.Errorf("%w: input dir is required", ErrInvalid)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output dir is required", ErrInvalid)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity must be positive", ErrInvalid)
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
