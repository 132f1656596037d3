package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Runtime struct {
	HTTPAddr       string `yaml:"http_addr"`
	CacheMaxItems  int    `yaml:"cache_max_items"`
	ObsBuffer      int    `yaml:"obs_buffer"`
	DepthStepSize  int    `yaml:"depth_step_size"`
	MatchStrategy  string `yaml:"match_strategy"`
	Mode           string `yaml:"mode"`
	TestOutput     string `yaml:"test_output"`
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

func Defaults() Runtime {
	return Runtime{
		HTTPAddr:       ":8080",
		CacheMaxItems:  1024,
		ObsBuffer:      4096,
		DepthStepSize:  3,
		MatchStrategy:  "contour",
		Mode:           "live",
		LogLevel:       "info",
		MetricsEnabled: true,
	}
}

// Load reads the YAML file named by DECLDEBUG_CONFIG, if any, over the
// defaults and then applies environment overrides.
func Load() (Runtime, error) {
	cfg := Defaults()
	if path := os.Getenv("DECLDEBUG_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.CacheMaxItems = getenvInt("DECLDEBUG_CACHE_MAX_ITEMS", cfg.CacheMaxItems, 1)
	cfg.ObsBuffer = getenvInt("DECLDEBUG_OBS_BUFFER", cfg.ObsBuffer, 1)
	cfg.DepthStepSize = getenvInt("DECLDEBUG_DEPTH_STEP", cfg.DepthStepSize, 1)
	cfg.MatchStrategy = getenv("DECLDEBUG_MATCH_STRATEGY", cfg.MatchStrategy)
	cfg.Mode = getenv("DECLDEBUG_MODE", cfg.Mode)
	cfg.TestOutput = getenv("DECLDEBUG_TEST_OUTPUT", cfg.TestOutput)
	cfg.LogLevel = getenv("DECLDEBUG_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getenvBool("DECLDEBUG_METRICS", cfg.MetricsEnabled)

	return cfg, cfg.Validate()
}

func (r Runtime) Validate() error {
	switch r.MatchStrategy {
	case "contour", "slot":
	default:
		return fmt.Errorf("match_strategy must be contour or slot, got %q", r.MatchStrategy)
	}
	switch r.Mode {
	case "live":
	case "test":
		if r.TestOutput == "" {
			return fmt.Errorf("test mode needs test_output")
		}
	default:
		return fmt.Errorf("mode must be live or test, got %q", r.Mode)
	}
	if r.DepthStepSize < 1 {
		return fmt.Errorf("depth_step_size must be at least 1")
	}
	if r.CacheMaxItems < 1 {
		return fmt.Errorf("cache_max_items must be at least 1, got %d", r.CacheMaxItems)
	}
	if r.ObsBuffer < 1 {
		return fmt.Errorf("obs_buffer must be at least 1, got %d", r.ObsBuffer)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
