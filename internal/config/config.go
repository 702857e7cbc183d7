package config // package config loads application configuration from environment variables

import (
	"log" // log reports configuration errors and halts execution
	"os"  // os provides access to environment variables
)

// Hold store backends selectable through HOLD_STORE.
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Database credentials are only required
// when the mysql hold store is selected.
type Config struct {
	Env         string // application environment (e.g. "dev", "prod")
	Port        string // HTTP port to listen on
	HoldStore   string // hold store backend: "memory" or "mysql"
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	JWTSecret   string // secret used to verify access tokens
	MetricsPort int    // port of the Prometheus /metrics listener
}

// Load reads configuration values from environment variables and
// returns a Config. Required variables are enforced by must() and a
// missing value exits with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:         must("APP_ENV"),
		Port:        must("APP_PORT"),
		HoldStore:   envStr("HOLD_STORE", StoreMemory),
		JWTSecret:   must("JWT_SECRET"),
		MetricsPort: envInt("METRICS_PORT", 9090),
	}
	switch cfg.HoldStore {
	case StoreMemory:
	case StoreMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	default:
		log.Fatalf("invalid HOLD_STORE: %q (want %q or %q)", cfg.HoldStore, StoreMemory, StoreMySQL)
	}
	return cfg
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and
// exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
