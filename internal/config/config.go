package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses configuration bytes in the format implied by ext
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults sets default values for unset fields
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RetryLoopLimit == 0 {
		cfg.RetryLoopLimit = DefaultRetryLoopLimit
	}
	// BackoffAttempts 0 is replaced; a negative value disables the backoff phase
	if cfg.BackoffAttempts == 0 {
		cfg.BackoffAttempts = DefaultBackoffAttempts
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MulticallAddress == "" {
		cfg.MulticallAddress = DefaultMulticallAddress
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	if cfg.WSMessageTimeout == 0 {
		cfg.WSMessageTimeout = DefaultWSMessageTimeout
	}
	if cfg.WSReconnectInterval == 0 {
		cfg.WSReconnectInterval = DefaultWSReconnectInterval
	}

	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Name == "" {
			cfg.Endpoints[i].Name = fmt.Sprintf("endpoint-%d", i)
		}
	}
	if cfg.UserEndpoint != nil && cfg.UserEndpoint.Name == "" {
		cfg.UserEndpoint.Name = "user"
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}

	names := make(map[string]bool)
	for i, ep := range cfg.Endpoints {
		if names[ep.Name] {
			return fmt.Errorf("endpoint[%d]: duplicate endpoint name '%s'", i, ep.Name)
		}
		names[ep.Name] = true

		if err := validateURL(ep.URL); err != nil {
			return fmt.Errorf("endpoint '%s': %w", ep.Name, err)
		}
	}

	if cfg.UserEndpoint != nil {
		if err := validateURL(cfg.UserEndpoint.URL); err != nil {
			return fmt.Errorf("userEndpoint: %w", err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}
	if cfg.Cooldown < 0 {
		return fmt.Errorf("cooldown must be non-negative")
	}
	if cfg.RetryLoopLimit < 0 {
		return fmt.Errorf("retryLoopLimit must be non-negative")
	}
	if cfg.BackoffMin < 0 || cfg.BackoffMax < 0 {
		return fmt.Errorf("backoffMin and backoffMax must be non-negative")
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		return fmt.Errorf("backoffMax must not be lower than backoffMin")
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("pollInterval must be non-negative")
	}
	if cfg.DedupCacheSize < 0 {
		return fmt.Errorf("dedupCacheSize must be non-negative")
	}
	if !isHexAddress(cfg.MulticallAddress) {
		return fmt.Errorf("multicallAddress '%s' is not a hex address", cfg.MulticallAddress)
	}
	for _, addr := range cfg.WatchAddresses {
		if !isHexAddress(addr) {
			return fmt.Errorf("watchAddresses: '%s' is not a hex address", addr)
		}
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("unsupported url scheme '%s'", u.Scheme)
	}
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
