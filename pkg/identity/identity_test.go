package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestGenerate(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(id.SigningPublicKey) != ed25519.PublicKeySize {
		t.Errorf("signing public key size = %d, want %d", len(id.SigningPublicKey), ed25519.PublicKeySize)
	}
	if len(id.SigningPrivateKey) != ed25519.PrivateKeySize {
		t.Errorf("signing private key size = %d, want %d", len(id.SigningPrivateKey), ed25519.PrivateKeySize)
	}
	if id.ID() == "" {
		t.Error("ID() should not be empty")
	}
}

func TestIDDeterministicFromKey(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if id.ID() != id.ID() {
		t.Error("ID() should be deterministic for the same identity")
	}
}

func TestIdentityPersistenceRoundTrip(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "duskvault-identity-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	original, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	filename := filepath.Join(tempDir, "identity.json")
	if err := original.SaveToFile(filename); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(filename)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if !ed25519.PublicKey(original.SigningPublicKey).Equal(loaded.SigningPublicKey) {
		t.Error("signing public keys don't match after round trip")
	}
	if !ed25519.PrivateKey(original.SigningPrivateKey).Equal(loaded.SigningPrivateKey) {
		t.Error("signing private keys don't match after round trip")
	}
	if original.KeyAgreementPublicKey != loaded.KeyAgreementPublicKey {
		t.Error("key agreement public keys don't match after round trip")
	}
	if original.KeyAgreementPrivateKey != loaded.KeyAgreementPrivateKey {
		t.Error("key agreement private keys don't match after round trip")
	}
	if original.ID() != loaded.ID() {
		t.Errorf("IDs don't match after round trip: %s != %s", original.ID(), loaded.ID())
	}
}

func TestSigningRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("backup session transcript")
	signature := ed25519.Sign(id.SigningPrivateKey, message)

	if !ed25519.Verify(id.SigningPublicKey, message, signature) {
		t.Error("signature verification failed for the signed message")
	}
	if ed25519.Verify(id.SigningPublicKey, []byte("a different message"), signature) {
		t.Error("signature verification should fail for a different message")
	}
}

func TestSaveToFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not meaningful on windows")
	}

	tempDir, err := os.MkdirTemp("", "duskvault-identity-perms")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	filename := filepath.Join(tempDir, "nested", "identity.json")
	if err := id.SaveToFile(filename); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	fileInfo, err := os.Stat(filename)
	if err != nil {
		t.Fatal(err)
	}
	if fileInfo.Mode().Perm() != 0o600 {
		t.Errorf("identity file permissions = %o, want 0600", fileInfo.Mode().Perm())
	}

	dirInfo, err := os.Stat(filepath.Dir(filename))
	if err != nil {
		t.Fatal(err)
	}
	if dirInfo.Mode().Perm() != 0o700 {
		t.Errorf("identity directory permissions = %o, want 0700", dirInfo.Mode().Perm())
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/identity.json"); err == nil {
		t.Error("expected error loading a nonexistent identity file")
	}
}
