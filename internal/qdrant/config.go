// Package qdrant implements vectorstore.Store on Qdrant's gRPC API.
package qdrant

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragkb/internal/config"
	"github.com/qdrant/go-client/qdrant"
)

// ClientConfig configures the Qdrant gRPC client.
type ClientConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the gRPC port (6334), not the REST port (6333).
	Port int

	UseTLS bool
	APIKey string

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int

	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// RetryAttempts is the number of retries after the first attempt for
	// transient gRPC failures.
	RetryAttempts int

	// InitialBackoff is the wait before the first retry; it doubles each time.
	InitialBackoff time.Duration

	// Distance is the metric for new collections.
	Distance qdrant.Distance
}

// DefaultClientConfig returns defaults for a local Qdrant.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 50 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		InitialBackoff: 500 * time.Millisecond,
		Distance:       qdrant.Distance_Cosine,
	}
}

// FromSettings maps the qdrant section of the application config.
func FromSettings(s config.QdrantConfig) *ClientConfig {
	return &ClientConfig{
		Host:           s.Host,
		Port:           s.Port,
		UseTLS:         s.UseTLS,
		APIKey:         s.APIKey.Value(),
		RequestTimeout: s.RequestTimeout.Duration(),
		RetryAttempts:  s.RetryAttempts,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *ClientConfig) ApplyDefaults() {
	d := DefaultClientConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = d.Distance
	}
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative")
	}
	return nil
}
