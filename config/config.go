package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, read once at startup from the
// process environment.
type Config struct {
	ServerAddr string
	LogLevel   string

	// Version the server itself speaks, and the inclusive range it accepts
	// from clients at handshake.
	ProtocolVersion    int
	MinProtocolVersion int
	MaxProtocolVersion int

	MaxSessions     int
	MaxParticipants int

	PingInterval     time.Duration
	ReadTimeout      time.Duration // doubles as the idle timeout
	WriteTimeout     time.Duration
	ClientSendBuffer int
}

// Load parses the environment, applying defaults for unset variables and
// rejecting malformed ones rather than silently defaulting them away.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:         ":8080",
		LogLevel:           "info",
		ProtocolVersion:    1,
		MinProtocolVersion: 1,
		MaxProtocolVersion: 1,
		MaxSessions:        256,
		MaxParticipants:    16,
		PingInterval:       54 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		ClientSendBuffer:   256,
	}

	if addr := strings.TrimSpace(os.Getenv("SERVER_ADDR")); addr != "" {
		cfg.ServerAddr = addr
	}
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	var invalid []string

	intVar := func(key string, dst *int) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			invalid = append(invalid, key)
			return
		}
		*dst = v
	}
	durationVar := func(key string, dst *time.Duration) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			invalid = append(invalid, key)
			return
		}
		*dst = d
	}

	intVar("PROTOCOL_VERSION", &cfg.ProtocolVersion)
	intVar("MIN_PROTOCOL_VERSION", &cfg.MinProtocolVersion)
	intVar("MAX_PROTOCOL_VERSION", &cfg.MaxProtocolVersion)
	intVar("MAX_SESSIONS", &cfg.MaxSessions)
	intVar("MAX_PARTICIPANTS", &cfg.MaxParticipants)
	intVar("CLIENT_SEND_BUFFER", &cfg.ClientSendBuffer)
	durationVar("PING_INTERVAL", &cfg.PingInterval)
	durationVar("READ_TIMEOUT", &cfg.ReadTimeout)
	durationVar("WRITE_TIMEOUT", &cfg.WriteTimeout)

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}
	if cfg.MinProtocolVersion > cfg.MaxProtocolVersion {
		return nil, fmt.Errorf("MIN_PROTOCOL_VERSION %d exceeds MAX_PROTOCOL_VERSION %d",
			cfg.MinProtocolVersion, cfg.MaxProtocolVersion)
	}
	if cfg.ProtocolVersion < cfg.MinProtocolVersion || cfg.ProtocolVersion > cfg.MaxProtocolVersion {
		return nil, fmt.Errorf("PROTOCOL_VERSION %d outside supported range [%d, %d]",
			cfg.ProtocolVersion, cfg.MinProtocolVersion, cfg.MaxProtocolVersion)
	}
	return cfg, nil
}

// SupportsVersion reports whether a client-advertised protocol version may
// join sessions on this server.
func (c *Config) SupportsVersion(v int) bool {
	return v >= c.MinProtocolVersion && v <= c.MaxProtocolVersion
}
