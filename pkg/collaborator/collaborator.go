// Package collaborator defines the external contracts core components
// consume rather than own directly: master-key access, time, random
// bytes, and structured logging. Default implementations are provided
// for single-process use; a host embedding this module may substitute
// its own (a KMS-backed KeyProvider, a test Clock, etc.).
package collaborator

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// KeyProvider hands out the active 32-byte master key from which
// DeriveSubkey derives one key per purpose (chunk encryption, blind
// indexing). Implementations may refresh
// the underlying key material between calls.
type KeyProvider interface {
	ActiveKey() ([32]byte, error)
}

// DeriveSubkey derives a purpose-specific 32-byte subkey from master
// via HKDF-SHA256, keyed by label. Callers that need the master key
// for more than one cryptographic purpose (AEAD sealing, HMAC blind
// indexing) must derive a distinct subkey per purpose through this
// function rather than using master directly, so a key recovered for
// one purpose never helps recover material used for another.
func DeriveSubkey(master [32]byte, label string) [32]byte {
	var subkey [32]byte
	r := hkdf.New(sha256.New, master[:], nil, []byte(label))
	_, _ = io.ReadFull(r, subkey[:])
	return subkey
}

// Clock supplies monotonic time for timeouts and access-time
// bookkeeping, so tests can substitute a fake clock.
type Clock interface {
	Now() time.Time
}

// RandomSource supplies cryptographically secure random bytes, most
// often for AEAD nonces and session identifiers.
type RandomSource interface {
	Read(buf []byte) (int, error)
}

// Logger receives structured events. Logging never affects control
// flow: a component given a nil Logger either skips logging or falls
// back to a default logger, never a panic.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
}

// StaticKeyProvider implements KeyProvider over a single fixed key,
// useful for single-operator setups and tests.
type StaticKeyProvider struct {
	key [32]byte
}

// NewStaticKeyProvider wraps a 32-byte key.
func NewStaticKeyProvider(key [32]byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// ActiveKey returns the wrapped key.
func (p *StaticKeyProvider) ActiveKey() ([32]byte, error) {
	return p.key, nil
}

// SystemClock implements Clock over time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// CryptoRandomSource implements RandomSource over crypto/rand.
type CryptoRandomSource struct{}

// Read fills buf with cryptographically secure random bytes.
func (CryptoRandomSource) Read(buf []byte) (int, error) {
	return rand.Read(buf)
}

// NewDefaultLogger returns a logrus-backed Logger at the given level
// name ("debug", "info", "warn", "error"); an unrecognized level
// falls back to info.
func NewDefaultLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
