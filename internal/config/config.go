package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable of the client. The reconnect schedule, polling
// window, and heartbeat interval are server-defined contracts, so they are
// knobs rather than constants.
type Config struct {
	BackendURL string

	HeartbeatInterval time.Duration // heartbeat POST cadence while the socket is open
	ReconnectDelay    time.Duration // initial delay after an abnormal close
	ReconnectFactor   float64       // backoff multiplier; 1.0 keeps the delay flat
	ReconnectMax      time.Duration // ceiling for the backed-off delay
	PollInterval      time.Duration // fallback polling cadence while disconnected
	PollWindow        time.Duration // how long fallback polling may run before auto-cancel
	ClockTick         time.Duration // local clock recomputation cadence

	DataDir string // identity store (sqlite db + cookie file) lives here

	Debug bool
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	cfg := Config{
		BackendURL:        getenv("BACKEND_URL", "http://localhost:8080"),
		HeartbeatInterval: duration("HEARTBEAT_INTERVAL", 5*time.Second),
		ReconnectDelay:    duration("RECONNECT_DELAY", 3*time.Second),
		ReconnectFactor:   float("RECONNECT_FACTOR", 1.0),
		ReconnectMax:      duration("RECONNECT_MAX", 30*time.Second),
		PollInterval:      duration("POLL_INTERVAL", 2*time.Second),
		PollWindow:        duration("POLL_WINDOW", 30*time.Second),
		ClockTick:         duration("CLOCK_TICK", 250*time.Millisecond),
		DataDir:           getenv("DATA_DIR", defaultDataDir()),
		Debug:             boolean("DEBUG", false),
	}

	if cfg.BackendURL == "" {
		return Config{}, fmt.Errorf("BACKEND_URL must not be empty")
	}
	if cfg.ReconnectFactor < 1.0 {
		return Config{}, fmt.Errorf("RECONNECT_FACTOR must be >= 1.0, got %v", cfg.ReconnectFactor)
	}
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".armageddon"
	}
	return filepath.Join(home, ".armageddon")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
