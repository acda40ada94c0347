// Package config provides the beatriced server configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress          = ":55556"
	defaultLogLevel         = "INFO"
	defaultMaxConnections   = 64
	defaultHandshakeTimeout = 5000 // 5 sec.
	defaultWriteTimeout     = 5000 // 5 sec.
	defaultIdleAwayAfter    = 300  // 5 min.
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the main server configuration section.
type Server struct {
	// Address is the TCP listener address, e.g. "127.0.0.1:55556".
	Address string

	// MaxConnections caps concurrently connected clients; connections over
	// the cap are rejected with an ERR packet.
	MaxConnections int

	// HandshakeTimeout is how long a fresh connection may take to present a
	// valid handshake packet, in milliseconds.
	HandshakeTimeout int

	// WriteTimeout bounds each packet write to a client, in milliseconds.
	// A peer whose write times out is treated as dead and dropped.
	WriteTimeout int

	// IdleAwayAfter marks a peer "away" after this many seconds without
	// traffic. 0 disables the idle monitor.
	IdleAwayAfter int
}

func (s *Server) validate() error {
	if s.Address == "" {
		s.Address = defaultAddress
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("config: Server: MaxConnections must be non-negative")
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = defaultMaxConnections
	}
	if s.HandshakeTimeout < 0 {
		return fmt.Errorf("config: Server: HandshakeTimeout must be non-negative")
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = defaultHandshakeTimeout
	}
	if s.WriteTimeout < 0 {
		return fmt.Errorf("config: Server: WriteTimeout must be non-negative")
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = defaultWriteTimeout
	}
	if s.IdleAwayAfter < 0 {
		return fmt.Errorf("config: Server: IdleAwayAfter must be non-negative")
	}
	return nil
}

// Logging is the logging configuration section.
type Logging struct {
	// Disable discards all log output.
	Disable bool

	// File is the log destination; empty means stdout.
	File string

	// Level is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	Level string
}

func (l *Logging) validate() error {
	switch l.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		l.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: invalid Level '%v'", l.Level)
	}
	return nil
}

// Config is the top-level beatriced configuration.
type Config struct {
	Server  *Server
	Logging *Logging
}

// FixupAndValidate applies defaults and validates the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Logging == nil {
		l := defaultLogging
		c.Logging = &l
	}
	if err := c.Server.validate(); err != nil {
		return err
	}
	return c.Logging.validate()
}

// Load parses and validates a TOML configuration document.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	cfg := new(Config)
	// Cannot fail on an empty config.
	_ = cfg.FixupAndValidate()
	return cfg
}
