// internal/util/util.go
package util

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/erilali/place/internal/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Environment variables read by LoadConfig.
const (
	EnvLogLevel       = "PLACE_LOG_LEVEL"
	EnvNatsURL        = "NATS_URL"
	EnvChangeInterval = "PLACE_CHANGE_INTERVAL_MS"
	EnvTransport      = "PLACE_TRANSPORT"
)

// DefaultEnvFile is loaded when LoadConfig is given no env files.
const DefaultEnvFile = ".env"

// Config holds the settings shared by the server and client commands.
type Config struct {
	Log              logger.LogConfig `json:"log"`
	Transport        string           `json:"transport"`
	AdminAddr        string           `json:"admin_addr"`
	NatsURL          string           `json:"nats_url"`
	ChangeIntervalMS int              `json:"change_interval_ms"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Log:              logger.DefaultLogConfig(),
		Transport:        "ws",
		ChangeIntervalMS: 500,
	}
}

// ChangeInterval returns the pacing interval as a duration.
func (c Config) ChangeInterval() time.Duration {
	return time.Duration(c.ChangeIntervalMS) * time.Millisecond
}

// LoadConfig builds the configuration from the defaults, the JSON file at
// path, the env files and finally the process environment, later sources
// winning. A missing file is not an error; a malformed one is.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	config := DefaultConfig()
	if path != "" {
		if err := loadJSON(path, &config); err != nil {
			return config, err
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return config, errors.Wrapf(err, "load env file %s failed", f)
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		config.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvNatsURL); v != "" {
		config.NatsURL = v
	}
	if v := os.Getenv(EnvTransport); v != "" {
		config.Transport = v
	}
	if v := os.Getenv(EnvChangeInterval); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return config, errors.Errorf("%s must be a non-negative integer, got %q", EnvChangeInterval, v)
		}
		config.ChangeIntervalMS = ms
	}
	return config, nil
}

func loadJSON(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "open config %s failed", path)
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(config); err != nil {
		return errors.Wrapf(err, "decode config %s failed", path)
	}
	return nil
}
