package config

import "time"

// Config represents the main configuration structure
type Config struct {
	LogLevel            string           `json:"logLevel" yaml:"logLevel"`
	Endpoints           []EndpointConfig `json:"endpoints" yaml:"endpoints"`
	UserEndpoint        *EndpointConfig  `json:"userEndpoint,omitempty" yaml:"userEndpoint,omitempty"`
	RequestTimeout      int              `json:"requestTimeout" yaml:"requestTimeout"`           // ms - per attempt
	Cooldown            int              `json:"cooldown" yaml:"cooldown"`                       // ms - how long a failed endpoint is deprioritized
	RetryLoopLimit      int              `json:"retryLoopLimit" yaml:"retryLoopLimit"`           // passes over the endpoint list
	BackoffAttempts     int              `json:"backoffAttempts" yaml:"backoffAttempts"`         // attempts after the loop is exhausted
	BackoffMin          int              `json:"backoffMin" yaml:"backoffMin"`                   // ms
	BackoffMax          int              `json:"backoffMax" yaml:"backoffMax"`                   // ms
	PollInterval        int              `json:"pollInterval" yaml:"pollInterval"`               // ms
	MulticallAddress    string           `json:"multicallAddress" yaml:"multicallAddress"`       // aggregator contract
	DedupCacheSize      int              `json:"dedupCacheSize" yaml:"dedupCacheSize"`           // newHeads dedup entries
	WSMessageTimeout    int              `json:"wsMessageTimeout" yaml:"wsMessageTimeout"`       // ms
	WSReconnectInterval int              `json:"wsReconnectInterval" yaml:"wsReconnectInterval"` // ms
	WSPingInterval      int              `json:"wsPingInterval" yaml:"wsPingInterval"`           // ms, 0 disables pings
	MetricsAddr         string           `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
	WatchAddresses      []string         `json:"watchAddresses,omitempty" yaml:"watchAddresses,omitempty"`
}

// EndpointConfig represents a single node endpoint
type EndpointConfig struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Default values
const (
	DefaultLogLevel            = "info"
	DefaultRequestTimeout      = 10000 // ms
	DefaultCooldown            = 60000 // ms
	DefaultRetryLoopLimit      = 3
	DefaultBackoffAttempts     = 5
	DefaultBackoffMin          = 500   // ms
	DefaultBackoffMax          = 16000 // ms
	DefaultPollInterval        = 5000  // ms
	DefaultDedupCacheSize      = 1024
	DefaultWSMessageTimeout    = 60000 // ms
	DefaultWSReconnectInterval = 5000  // ms

	// DefaultMulticallAddress is the Multicall3 deployment shared by most EVM chains
	DefaultMulticallAddress = "0xcA11bde05977b3631167028862bE2a173976CA11"
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetCooldownDuration returns the endpoint cool-down window as time.Duration
func (c *Config) GetCooldownDuration() time.Duration {
	return time.Duration(c.Cooldown) * time.Millisecond
}

// GetBackoffMinDuration returns the first backoff delay as time.Duration
func (c *Config) GetBackoffMinDuration() time.Duration {
	return time.Duration(c.BackoffMin) * time.Millisecond
}

// GetBackoffMaxDuration returns the backoff delay cap as time.Duration
func (c *Config) GetBackoffMaxDuration() time.Duration {
	return time.Duration(c.BackoffMax) * time.Millisecond
}

// GetPollIntervalDuration returns poll interval as time.Duration
func (c *Config) GetPollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// GetWSMessageTimeoutDuration returns the WebSocket read timeout as time.Duration
func (c *Config) GetWSMessageTimeoutDuration() time.Duration {
	return time.Duration(c.WSMessageTimeout) * time.Millisecond
}

// GetWSReconnectIntervalDuration returns the WebSocket reconnect interval as time.Duration
func (c *Config) GetWSReconnectIntervalDuration() time.Duration {
	return time.Duration(c.WSReconnectInterval) * time.Millisecond
}

// GetWSPingIntervalDuration returns the WebSocket ping interval as time.Duration
func (c *Config) GetWSPingIntervalDuration() time.Duration {
	return time.Duration(c.WSPingInterval) * time.Millisecond
}
