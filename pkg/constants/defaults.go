// Package constants defines cross-cutting defaults for the transfer
// protocol: timeouts, ports, chunk-size bounds, and retry/backoff
// parameters.
package constants

import "time"

// Transfer Protocol Configuration
const (
	// DefaultTransferPort is the default listening port for both the
	// TCP and QUIC transports.
	DefaultTransferPort = 27490

	// MaxChunkSize is the hard upper bound for a wire CHUNK_DATA payload.
	MaxChunkSize = 1 << 20 // 1 MiB

	// MaxReconnectionAttempts bounds per-chunk retransmission attempts
	// before a transfer is abandoned as failed.
	MaxReconnectionAttempts = 5

	// InitialBackoff and MaxBackoff bound the exponential backoff
	// between retransmission attempts.
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 30 * time.Second

	// ConnectTimeout, ReadTimeout, PingInterval, and PingTimeout are
	// the transfer session's connection-lifecycle timeouts.
	ConnectTimeout = 10 * time.Second
	ReadTimeout    = 60 * time.Second
	PingInterval   = 30 * time.Second
	PingTimeout    = 10 * time.Second
)
