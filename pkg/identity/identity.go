// Package identity generates and persists the Ed25519/X25519 keypairs
// that back mutual authentication on a transfer session: signing keys
// sign the Noise IK handshake messages, key-agreement keys feed the
// Noise DH.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/duskvault/duskvault/pkg/apperr"
	"golang.org/x/crypto/curve25519"
)

// Identity holds one endpoint's signing and key-agreement keypairs.
type Identity struct {
	SigningPublicKey  ed25519.PublicKey  `json:"signing_public_key"`
	SigningPrivateKey ed25519.PrivateKey `json:"signing_private_key"`

	KeyAgreementPublicKey  [32]byte `json:"key_agreement_public_key"`
	KeyAgreementPrivateKey [32]byte `json:"key_agreement_private_key"`
}

// Generate creates a fresh Identity with random keys.
func Generate() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "generate ed25519 keypair", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "generate x25519 private key", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	return &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}, nil
}

// ID returns a short stable identifier for this identity: the
// lowercase hex of its signing public key, used as the wire
// HANDSHAKE's client_id/server_id field.
func (id *Identity) ID() string {
	return hex.EncodeToString(id.SigningPublicKey)
}

// SaveToFile persists id as JSON with owner-only permissions.
func (id *Identity) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return apperr.New(apperr.KindIoFailed, "create identity directory", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return apperr.New(apperr.KindInvalidInput, "marshal identity", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return apperr.New(apperr.KindIoFailed, "write identity file", err)
	}
	return nil
}

// LoadFromFile loads a previously saved Identity.
func LoadFromFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "read identity file", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "unmarshal identity", err)
	}
	return &id, nil
}
