package noiseik

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/duskvault/duskvault/pkg/identity"
)

// TestSessionIDMismatch verifies a server rejects a ClientHello bound
// to a different session than the one it was constructed for.
func TestSessionIDMismatch(t *testing.T) {
	clientIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}
	serverIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}

	clientHandshake := NewHandshake(clientIdentity, "session-a")
	serverHandshake := NewHandshake(serverIdentity, "session-b")

	clientHello, err := clientHandshake.CreateClientHello()
	if err != nil {
		t.Fatalf("create ClientHello: %v", err)
	}

	if _, err := serverHandshake.ProcessClientHello(clientHello); err == nil {
		t.Error("server should reject a ClientHello bound to a different session id")
	}
}

// TestInvalidEd25519Signature verifies a tampered ClientHello fails
// its own signature verification.
func TestInvalidEd25519Signature(t *testing.T) {
	clientIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}

	clientHandshake := NewHandshake(clientIdentity, "sig-test-session")
	clientHello, err := clientHandshake.CreateClientHello()
	if err != nil {
		t.Fatalf("create ClientHello: %v", err)
	}

	if err := clientHello.Verify(clientIdentity.SigningPublicKey); err != nil {
		t.Fatalf("unmodified ClientHello should verify: %v", err)
	}

	clientHello.Proof[0] ^= 0xFF
	if err := clientHello.Verify(clientIdentity.SigningPublicKey); err == nil {
		t.Error("corrupted ClientHello signature should fail verification")
	}

	clientHello.Proof = []byte{}
	if err := clientHello.Verify(clientIdentity.SigningPublicKey); err == nil {
		t.Error("empty ClientHello signature should fail verification")
	}
}

// TestReplayedMessageIDRejected verifies a sequence tracker rejects a
// message_id it has already accepted.
func TestReplayedMessageIDRejected(t *testing.T) {
	serverIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}

	serverHandshake := NewHandshake(serverIdentity, "replay-test-session")

	if !serverHandshake.ValidateReceiveSequence(1) {
		t.Fatal("first use of sequence 1 should be accepted")
	}
	if serverHandshake.ValidateReceiveSequence(1) {
		t.Error("replaying sequence 1 should be rejected")
	}
}

// TestMalformedClientHello verifies a ClientHello missing required
// fields is rejected.
func TestMalformedClientHello(t *testing.T) {
	serverIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}

	serverHandshake := NewHandshake(serverIdentity, "malformed-test-session")

	malformedHello := &ClientHello{Version: 1}
	if _, err := serverHandshake.ProcessClientHello(malformedHello); err == nil {
		t.Error("server should reject a ClientHello with no session id and no proof")
	}
}

// TestPSKValidationErrors verifies a PSK mismatch between client and
// server is rejected.
func TestPSKValidationErrors(t *testing.T) {
	clientIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}
	serverIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}

	sessionID := "psk-error-test-session"

	clientPSK := make([]byte, 32)
	rand.Read(clientPSK)
	serverPSK := make([]byte, 32)
	rand.Read(serverPSK)

	clientHandshake := NewHandshakeWithPSK(clientIdentity, sessionID, NewPSKConfig(clientPSK, "client-psk"))
	serverHandshake := NewHandshakeWithPSK(serverIdentity, sessionID, NewPSKConfig(serverPSK, "server-psk"))

	clientHello, err := clientHandshake.CreateClientHello()
	if err != nil {
		t.Fatalf("create ClientHello: %v", err)
	}

	if _, err := serverHandshake.ProcessClientHello(clientHello); err == nil {
		t.Error("server should reject a ClientHello with mismatched PSK")
	}
}

// TestTokenValidationErrors verifies an expired admission token is
// rejected.
func TestTokenValidationErrors(t *testing.T) {
	clientIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}
	serverIdentity, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}

	sessionID := "token-error-test-session"

	admissionConfig := NewAdmissionConfig()
	admissionConfig.RequireToken = true

	tokenPublicKey, tokenSigningKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate token signing key: %v", err)
	}

	expiredToken := "expired-token"
	expiredTime := uint64(time.Now().Add(-time.Hour).Unix())
	if err := admissionConfig.AddToken(expiredToken, expiredTime, tokenSigningKey); err != nil {
		t.Fatalf("add expired token: %v", err)
	}

	clientHandshake := NewHandshakeWithAdmission(clientIdentity, sessionID, admissionConfig, expiredToken, tokenSigningKey)
	serverHandshake := NewHandshakeWithAdmission(serverIdentity, sessionID, admissionConfig, "", nil)
	serverHandshake.SetTokenValidator(tokenPublicKey)

	clientHello, err := clientHandshake.CreateClientHello()
	if err != nil {
		t.Fatalf("create ClientHello: %v", err)
	}

	if _, err := serverHandshake.ProcessClientHello(clientHello); err == nil {
		t.Error("server should reject a ClientHello with an expired admission token")
	}
}
