// Package config resolves runtime settings from defaults, dotenv files and
// the environment, and loads the YAML sync policy.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Drivers accepted by DBDriver.
const (
	DriverSQLite     = "sqlite"
	DriverPostgres   = "postgres"
	DriverGormSQLite = "gorm-sqlite"
)

// Environment variables read by Load.
const (
	EnvDBDriver     = "SYLLABUS_DB_DRIVER"
	EnvDBPath       = "SYLLABUS_DB_PATH"
	EnvPGDSN        = "SYLLABUS_PG_DSN"
	EnvLogMode      = "SYLLABUS_LOG_MODE"
	EnvPolicyFile   = "SYLLABUS_POLICY_FILE"
	EnvOTelEnabled  = "OTEL_ENABLED"
	EnvOTelEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// DotenvFiles are loaded in order. Variables already set win, so earlier
// files take precedence over later ones.
var DotenvFiles = []string{".env.local", ".env"}

type Config struct {
	DBDriver     string
	DBPath       string
	PGDSN        string
	LogMode      string
	PolicyFile   string
	OTelEnabled  bool
	OTelEndpoint string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DBDriver: DriverSQLite,
		DBPath:   "syllabus.db",
		LogMode:  "dev",
	}
}

// Load reads the dotenv files that exist and then the environment.
func Load() (Config, error) {
	for _, f := range DotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup over Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvDBDriver, &cfg.DBDriver)
	str(EnvDBPath, &cfg.DBPath)
	str(EnvPGDSN, &cfg.PGDSN)
	str(EnvLogMode, &cfg.LogMode)
	str(EnvPolicyFile, &cfg.PolicyFile)
	str(EnvOTelEndpoint, &cfg.OTelEndpoint)

	if v, ok := lookup(EnvOTelEnabled); ok && strings.TrimSpace(v) != "" {
		enabled, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvOTelEnabled, err)
		}
		cfg.OTelEnabled = enabled
	}
	return cfg, cfg.Validate()
}

// Validate checks driver settings are complete.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverGormSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("driver %s needs a database path", c.DBDriver)
		}
	case DriverPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("driver %s needs %s", c.DBDriver, EnvPGDSN)
		}
	default:
		return fmt.Errorf("unknown driver %q (want %s, %s or %s)", c.DBDriver, DriverSQLite, DriverPostgres, DriverGormSQLite)
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}
