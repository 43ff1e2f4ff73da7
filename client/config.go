// Package client keeps a connection to the arm server alive and sends it
// commands on behalf of the application.
package client

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"aquarium_arm/protocol"
)

// Environment variables read by FromEnv.
const (
	HostEnv = "ROBOT_SERVER_HOST"
	PortEnv = "ROBOT_SERVER_PORT"
)

// Config holds client configuration
type Config struct {
	// Host and Port locate the arm server.
	Host string
	Port int
	// DialTimeout bounds establishing the TCP connection.
	DialTimeout time.Duration
	// CommandTimeout bounds one command write plus its response read.
	CommandTimeout time.Duration
	// InitialRetryDelay is the minimum spacing between connection attempts
	// after a success.
	InitialRetryDelay time.Duration
	// MaxRetryDelay caps the spacing between failed attempts.
	MaxRetryDelay time.Duration
	// BackoffFactor multiplies the spacing after each failed attempt.
	BackoffFactor float64
	// KeepAliveInterval is how often an idle connection is pinged.
	KeepAliveInterval time.Duration
	// HandshakeAttempts is how many pings a new connection gets to answer.
	HandshakeAttempts int
	// HandshakeInterval separates handshake pings.
	HandshakeInterval time.Duration
	// BufferSize bounds a response frame.
	BufferSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              9000,
		DialTimeout:       10 * time.Second,
		CommandTimeout:    10 * time.Second,
		InitialRetryDelay: time.Second,
		MaxRetryDelay:     30 * time.Second,
		BackoffFactor:     2.0,
		KeepAliveInterval: 30 * time.Second,
		HandshakeAttempts: 3,
		HandshakeInterval: time.Second,
		BufferSize:        protocol.BufferSize,
	}
}

// FromEnv returns the default configuration with host and port taken from
// ROBOT_SERVER_HOST and ROBOT_SERVER_PORT when set.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if host := os.Getenv(HostEnv); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv(PortEnv); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, errors.Errorf("invalid %s %q", PortEnv, port)
		}
		cfg.Port = p
	}
	return cfg, nil
}

// Addr is the host:port of the server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
