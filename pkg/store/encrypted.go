package store

import (
	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/duskvault/duskvault/pkg/digest"
	"golang.org/x/crypto/chacha20poly1305"
)

// ChunkStore is the subset of Store's contract an EncryptedStore
// wraps. Defined as an interface so EncryptedStore can wrap any
// conforming base, not just *Store.
type ChunkStore interface {
	Put(buf []byte) (digest.Digest, error)
	Get(d digest.Digest) ([]byte, error)
	Exists(d digest.Digest) (bool, error)
	Count() (uint64, error)
	Stats() (Stats, error)
	GC(liveSet map[digest.Digest]struct{}) (int, error)
	Close() error
}

// chunkEncryptionKeyLabel is the HKDF info label EncryptedStore derives
// its AEAD subkey under, keeping it distinct from other subkeys (e.g.
// the blind-index key in pkg/metadata) derived from the same master key.
const chunkEncryptionKeyLabel = "duskvault-chunk-encryption-v1"

// EncryptedStore wraps a base ChunkStore with deterministic
// authenticated encryption, so that identical plaintexts always
// encrypt to identical ciphertexts and dedup against the inner store
// is preserved.
type EncryptedStore struct {
	inner ChunkStore
	keys  collaborator.KeyProvider
}

// NewEncryptedStore wraps inner, deriving AEAD keys from keys at call
// time so that key rotation at the provider is observed immediately.
func NewEncryptedStore(inner ChunkStore, keys collaborator.KeyProvider) *EncryptedStore {
	return &EncryptedStore{inner: inner, keys: keys}
}

// deterministicNonce derives a 12-byte nonce from the plaintext
// digest, so the same plaintext always produces the same nonce and
// therefore the same ciphertext under a fixed key.
func deterministicNonce(plainDigest digest.Digest) []byte {
	return plainDigest.Bytes()[:chacha20poly1305.NonceSize]
}

// Put encrypts p deterministically, delegates storage of the blob
// (nonce prefix + sealed ciphertext) to the inner store, and returns
// the inner digest. The nonce is derived from p's own digest, so
// identical plaintexts always produce identical blobs and dedup
// against the inner store is preserved; it is stored alongside the
// ciphertext because Get only has the inner (ciphertext-blob) digest
// to work from, not the plaintext digest the nonce was derived from.
func (e *EncryptedStore) Put(p []byte) (digest.Digest, error) {
	if len(p) == 0 {
		return digest.Digest{}, apperr.New(apperr.KindInvalidInput, "put: empty buffer", nil)
	}

	master, err := e.keys.ActiveKey()
	if err != nil {
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: fetch active key", err)
	}
	key := collaborator.DeriveSubkey(master, chunkEncryptionKeyLabel)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return digest.Digest{}, apperr.New(apperr.KindInvalidInput, "put: construct aead", err)
	}

	plainDigest := digest.Bytes(p)
	nonce := deterministicNonce(plainDigest)
	sealed := aead.Seal(nil, nonce, p, nil)

	blob := make([]byte, 0, len(nonce)+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return e.inner.Put(blob)
}

// Get fetches the blob stored under d, decrypts it, and returns the
// plaintext. The inner store's own rehash already validated the blob;
// the AEAD tag validates the plaintext a second time, cross-checking
// it against the inner content digest.
func (e *EncryptedStore) Get(d digest.Digest) ([]byte, error) {
	blob, err := e.inner.Get(d)
	if err != nil {
		return nil, err
	}

	if len(blob) < chacha20poly1305.NonceSize {
		return nil, apperr.New(apperr.KindIntegrityFailed, "get: blob shorter than nonce", nil)
	}
	nonce, sealed := blob[:chacha20poly1305.NonceSize], blob[chacha20poly1305.NonceSize:]

	master, err := e.keys.ActiveKey()
	if err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "get: fetch active key", err)
	}
	key := collaborator.DeriveSubkey(master, chunkEncryptionKeyLabel)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "get: construct aead", err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindIntegrityFailed, "get: aead authentication failed", err)
	}
	return plaintext, nil
}

// Exists delegates to the inner store.
func (e *EncryptedStore) Exists(d digest.Digest) (bool, error) { return e.inner.Exists(d) }

// Count delegates to the inner store.
func (e *EncryptedStore) Count() (uint64, error) { return e.inner.Count() }

// Stats delegates to the inner store.
func (e *EncryptedStore) Stats() (Stats, error) { return e.inner.Stats() }

// GC delegates to the inner store.
func (e *EncryptedStore) GC(liveSet map[digest.Digest]struct{}) (int, error) {
	return e.inner.GC(liveSet)
}

// Close delegates to the inner store.
func (e *EncryptedStore) Close() error { return e.inner.Close() }
