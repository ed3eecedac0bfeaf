package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"beaconrig/internal/errors"
	"beaconrig/internal/manifest"
	"beaconrig/internal/policy"
)

// Config represents the complete application configuration
type Config struct {
	Rig      RigConfig
	Policy   policy.Config
	Database DatabaseConfig
	Server   ServerConfig
	Paths    PathConfig
}

// RigConfig holds reconstruction defaults; a run manifest overrides them
type RigConfig struct {
	GridMS          int
	MinDurationMS   float64
	TausS           []float64
	Parallelism     int
	AlignMethod     string
	BaselinePowerMW *float64
	OutlierMADK     float64
	CodeVersion     string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds results API settings
type ServerConfig struct {
	Port string
}

// PathConfig holds file system paths
type PathConfig struct {
	ResultsDir string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	rig, err := loadRigConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load rig configuration")
	}
	config := &Config{
		Rig:      *rig,
		Policy:   loadPolicyConfig(),
		Database: DatabaseConfig{URL: os.Getenv("DATABASE_URL")},
		Server:   ServerConfig{Port: getEnvOrDefault("PORT", "8080")},
		Paths:    PathConfig{ResultsDir: getEnvOrDefault("RIG_RESULTS_DIR", "./results")},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadRigConfig() (*RigConfig, error) {
	taus, err := parseFloatList(getEnvOrDefault("RIG_TAUS_S", "1,2,5"))
	if err != nil {
		return nil, errors.ConfigInvalid("RIG_TAUS_S: " + err.Error())
	}
	rig := &RigConfig{
		GridMS:        getEnvIntOrDefault("RIG_GRID_MS", 100),
		MinDurationMS: getEnvFloatOrDefault("RIG_MIN_DURATION_MS", 0),
		TausS:         taus,
		Parallelism:   getEnvIntOrDefault("RIG_PARALLELISM", 4),
		AlignMethod:   getEnvOrDefault("RIG_ALIGN_METHOD", "median"),
		OutlierMADK:   getEnvFloatOrDefault("RIG_OUTLIER_MAD_K", 3),
		CodeVersion:   getEnvOrDefault("RIG_CODE_VERSION", "dev"),
	}
	if v := os.Getenv("RIG_BASELINE_POWER_MW"); v != "" {
		mw, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.ConfigInvalid("RIG_BASELINE_POWER_MW must be a number")
		}
		rig.BaselinePowerMW = &mw
	}
	return rig, nil
}

func loadPolicyConfig() policy.Config {
	c := policy.DefaultConfig()
	c.UMid = getEnvFloatOrDefault("POLICY_U_MID", c.UMid)
	c.UHigh = getEnvFloatOrDefault("POLICY_U_HIGH", c.UHigh)
	c.CMid = getEnvFloatOrDefault("POLICY_C_MID", c.CMid)
	c.CHigh = getEnvFloatOrDefault("POLICY_C_HIGH", c.CHigh)
	c.Hysteresis = getEnvFloatOrDefault("POLICY_HYSTERESIS", c.Hysteresis)
	c.MinStay = getEnvDurationOrDefault("POLICY_MIN_STAY", c.MinStay)
	c.MaxRate = getEnvIntOrDefault("POLICY_MAX_RATE", c.MaxRate)
	c.RateWindow = getEnvDurationOrDefault("POLICY_RATE_WINDOW", c.RateWindow)
	c.SignalTimeout = getEnvDurationOrDefault("POLICY_SIGNAL_TIMEOUT", c.SignalTimeout)
	c.FallbackIntervalMS = getEnvIntOrDefault("POLICY_FALLBACK_INTERVAL_MS", c.FallbackIntervalMS)
	c.Alpha = getEnvFloatOrDefault("POLICY_ALPHA", c.Alpha)
	return c
}

func validateConfig(config *Config) error {
	if config.Rig.GridMS <= 0 {
		return errors.ConfigInvalid("RIG_GRID_MS must be positive")
	}
	if config.Rig.MinDurationMS < 0 {
		return errors.ConfigInvalid("RIG_MIN_DURATION_MS cannot be negative")
	}
	if config.Rig.Parallelism < 0 {
		return errors.ConfigInvalid("RIG_PARALLELISM cannot be negative")
	}
	if config.Rig.OutlierMADK < 0 {
		return errors.ConfigInvalid("RIG_OUTLIER_MAD_K cannot be negative")
	}
	switch config.Rig.AlignMethod {
	case "median", "least_squares":
	default:
		return errors.ConfigInvalid("RIG_ALIGN_METHOD must be median or least_squares")
	}
	config.Policy.GridMS = config.Rig.GridMS
	return config.Policy.Validate()
}

// RequireDatabase fails when DATABASE_URL is unset; only the store and API need it
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.ConfigInvalid("DATABASE_URL is required")
	}
	return nil
}

// ManifestDefaults returns the values a run manifest falls back to
func (c *Config) ManifestDefaults() manifest.Defaults {
	return manifest.Defaults{
		GridMS:          c.Rig.GridMS,
		MinDurationMS:   c.Rig.MinDurationMS,
		TausS:           c.Rig.TausS,
		AlignMethod:     c.Rig.AlignMethod,
		BaselinePowerMW: c.Rig.BaselinePowerMW,
		OutlierMADK:     c.Rig.OutlierMADK,
		Policy:          c.Policy,
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// Accepts Go durations ("2s") or bare milliseconds ("2000")
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, errors.ConfigInvalid("tau must be positive: " + part)
		}
		out = append(out, v)
	}
	return out, nil
}
