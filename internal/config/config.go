// Package config loads SDK settings from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults applied when a key is unset or malformed.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxReconnect      = 5
	DefaultBufferThreshold   = 5
)

// Config holds every recognized setting.
type Config struct {
	// APIBase is the base address for the streaming HTTP endpoint.
	APIBase string
	// WSBase is the base address for the duplex endpoint.
	WSBase string

	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectInterval time.Duration
	MaxReconnect      int
	// BufferThreshold is the pending-chunk count past which the network
	// read loop backs off.
	BufferThreshold int
}

// Load reads the environment and fills in defaults for anything unset.
func Load() Config {
	return Config{
		APIBase:           envOr("FINDSHOP_API_URL", "http://localhost:8080"),
		WSBase:            envOr("FINDSHOP_WS_URL", "ws://localhost:8080/ws"),
		RequestTimeout:    envDuration("FINDSHOP_REQUEST_TIMEOUT", DefaultRequestTimeout),
		HeartbeatInterval: envDuration("FINDSHOP_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		HeartbeatTimeout:  envDuration("FINDSHOP_HEARTBEAT_TIMEOUT", DefaultHeartbeatTimeout),
		ReconnectInterval: envDuration("FINDSHOP_RECONNECT_INTERVAL", DefaultReconnectInterval),
		MaxReconnect:      envInt("FINDSHOP_MAX_RECONNECT", DefaultMaxReconnect),
		BufferThreshold:   envInt("FINDSHOP_BUFFER_THRESHOLD", DefaultBufferThreshold),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// Bare numbers are taken as milliseconds.
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return n
	}
	return fallback
}
