package feed

import "time"

// Config configures the upstream feed client's connection and delivery
// behaviour.
type Config struct {
	// ReconnectBaseDelay is the first backoff delay after a transport error.
	ReconnectBaseDelay time.Duration
	// MaxReconnectAttempts bounds exponential backoff before the client
	// gives up and surfaces a fatal error to every subscriber.
	MaxReconnectAttempts int
	// ChannelCapacity is the per-mint buffered channel size. Once full,
	// the client drops the oldest queued event rather than blocking.
	ChannelCapacity int
	// ReadTimeout resets on every successfully read frame.
	ReadTimeout time.Duration
	// WriteTimeout bounds control-frame writes.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the configuration matching §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		ChannelCapacity:      64,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}
