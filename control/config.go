// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Dispatcher configuration resolved from the environment, and a thread-safe
// store exposing the resolved values as a snapshot.

package control

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Environment variables read by LoadConfig.
const (
	EnvServiceName    = "HIOLOAD_SERVICE_NAME"
	EnvGatewayTimeout = "WSGI_DRAGON_GATEWAY_TIMEOUT" // seconds
	EnvRestartBackoff = "HIOLOAD_RESTART_BACKOFF"     // time.ParseDuration syntax
	EnvMaxEvents      = "HIOLOAD_MAX_EVENTS"
	EnvMaxRetries     = "HIOLOAD_MAX_RETRIES"
	EnvLoopCPU        = "HIOLOAD_LOOP_CPU"
)

// Config holds parameters immutable per dispatcher run.
type Config struct {
	ServiceName    string        // service name stamped on fault records
	DefaultTimeout time.Duration // timeout for requests that carry none
	RestartBackoff time.Duration // delay before restarting a faulted call loop
	MaxEvents      int           // readiness events taken per wait
	MaxRetries     int           // transparent reconnects per call
	LoopCPU        int           // core the call loop thread is pinned to; -1 disables
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "hioload-dispatch",
		DefaultTimeout: 10 * time.Second,
		RestartBackoff: time.Second,
		MaxEvents:      128,
		MaxRetries:     1,
		LoopCPU:        -1,
	}
}

// LoadConfig overlays environment variables on DefaultConfig.
func LoadConfig() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup(EnvServiceName); ok && v != "" {
		cfg.ServiceName = v
	}
	if v, ok := lookup(EnvGatewayTimeout); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return cfg, fmt.Errorf("control: %s=%q: want positive seconds", EnvGatewayTimeout, v)
		}
		cfg.DefaultTimeout = time.Duration(secs) * time.Second
	}
	if v, ok := lookup(EnvRestartBackoff); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("control: %s=%q: want non-negative duration", EnvRestartBackoff, v)
		}
		cfg.RestartBackoff = d
	}
	if v, ok := lookup(EnvMaxEvents); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("control: %s=%q: want positive integer", EnvMaxEvents, v)
		}
		cfg.MaxEvents = n
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("control: %s=%q: want non-negative integer", EnvMaxRetries, v)
		}
		cfg.MaxRetries = n
	}
	if v, ok := lookup(EnvLoopCPU); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < -1 {
			return cfg, fmt.Errorf("control: %s=%q: want a cpu index or -1", EnvLoopCPU, v)
		}
		cfg.LoopCPU = n
	}
	return cfg, nil
}

// Map flattens the config into snapshot form.
func (c Config) Map() map[string]any {
	return map[string]any{
		"service_name":    c.ServiceName,
		"default_timeout": c.DefaultTimeout.String(),
		"restart_backoff": c.RestartBackoff.String(),
		"max_events":      c.MaxEvents,
		"max_retries":     c.MaxRetries,
		"loop_cpu":        c.LoopCPU,
	}
}

// ConfigStore is a key/value map with snapshot reads.
type ConfigStore struct {
	mu     sync.RWMutex
	config map[string]any
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{config: make(map[string]any)}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges new values.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
}
