package session

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/wsession/wsession/connection/codec"
	"github.com/wsession/wsession/connection/transporter/websocket"
)

type Config struct {
	Endpoint string

	// Advisory token offered to the peer during the handshake
	Subprotocol string
	Headers     http.Header

	// Chosen from Subprotocol when nil
	Codec codec.Codec

	Backoff BackoffConfig

	// Zero means unbounded
	MaxQueueDepth int

	// Zero means never give up
	MaxReconnectAttempts int

	AutoReconnect bool

	// Close the connection, and reconnect per policy, when an inbound payload
	// cannot be decoded. By default the payload is reported and skipped.
	CloseOnDecodeError bool

	Transport websocket.Config
}

func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:      endpoint,
		Subprotocol:   codec.JSONSubprotocol,
		Backoff:       DefaultBackoffConfig(),
		AutoReconnect: true,
		Transport:     websocket.DefaultConfig(),
	}
}

// Validate reports whether New would accept the config
func (c Config) Validate() error {
	_, err := c.validate()
	return err
}

func (c *Config) validate() (*url.URL, error) {
	endpoint, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	} else if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an absolute url", c.Endpoint)
	}

	if err := c.Backoff.validate(); err != nil {
		return nil, err
	}

	if c.MaxQueueDepth < 0 {
		return nil, fmt.Errorf("max queue depth cannot be negative")
	}

	if c.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("max reconnect attempts cannot be negative")
	}

	if c.Codec == nil {
		if c.Codec, err = codec.ForSubprotocol(c.Subprotocol); err != nil {
			return nil, err
		}
	}

	return endpoint, nil
}
