package noiseik

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"time"
)

// PSKConfig holds a pre-shared key used as a second, out-of-band
// authentication factor alongside the Noise IK static keys.
type PSKConfig struct {
	PSK  []byte
	Hint string
}

// NewPSKConfig creates a PSK configuration, zero-padding short keys
// up to 32 bytes.
func NewPSKConfig(psk []byte, hint string) *PSKConfig {
	if len(psk) < 32 {
		padded := make([]byte, 32)
		copy(padded, psk)
		psk = padded
	}
	return &PSKConfig{PSK: psk, Hint: hint}
}

// GenerateProof returns an HMAC-SHA256 proof of message under the PSK.
func (pc *PSKConfig) GenerateProof(message []byte) []byte {
	h := hmac.New(sha256.New, pc.PSK)
	h.Write(message)
	return h.Sum(nil)
}

// VerifyProof checks a proof previously produced by GenerateProof.
func (pc *PSKConfig) VerifyProof(message []byte, proof []byte) bool {
	return hmac.Equal(pc.GenerateProof(message), proof)
}

// TokenInfo describes one admission token a server will accept.
type TokenInfo struct {
	Token  string
	Expiry uint64
	Proof  []byte
}

// AdmissionConfig gates which clients may open a transfer session by
// requiring a signed, time-limited admission token.
type AdmissionConfig struct {
	RequireToken bool
	ValidTokens  map[string]TokenInfo
}

// NewAdmissionConfig creates an admission configuration with no
// tokens and no requirement, i.e. admission control disabled.
func NewAdmissionConfig() *AdmissionConfig {
	return &AdmissionConfig{ValidTokens: make(map[string]TokenInfo)}
}

// AddToken registers a token valid until expiry (Unix seconds).
func (ac *AdmissionConfig) AddToken(token string, expiry uint64, signingKey ed25519.PrivateKey) error {
	if token == "" {
		return fmt.Errorf("noiseik: admission token cannot be empty")
	}
	ac.ValidTokens[token] = TokenInfo{Token: token, Expiry: expiry}
	return nil
}

// GenerateTokenProof signs token+sessionID+expiry with signingKey.
func (ac *AdmissionConfig) GenerateTokenProof(token, sessionID string, signingKey ed25519.PrivateKey) []byte {
	info, ok := ac.ValidTokens[token]
	if !ok {
		return nil
	}
	message := fmt.Sprintf("%s:%s:%d", token, sessionID, info.Expiry)
	return ed25519.Sign(signingKey, []byte(message))
}

// ValidateToken checks that token is known, unexpired, and its proof
// verifies under publicKey.
func (ac *AdmissionConfig) ValidateToken(token, sessionID string, proof []byte, publicKey ed25519.PublicKey) bool {
	info, ok := ac.ValidTokens[token]
	if !ok {
		return false
	}
	if uint64(time.Now().Unix()) > info.Expiry {
		return false
	}
	message := fmt.Sprintf("%s:%s:%d", token, sessionID, info.Expiry)
	return ed25519.Verify(publicKey, []byte(message), proof)
}

// RemoveExpiredTokens prunes tokens whose expiry has passed.
func (ac *AdmissionConfig) RemoveExpiredTokens() {
	now := uint64(time.Now().Unix())
	for token, info := range ac.ValidTokens {
		if now > info.Expiry {
			delete(ac.ValidTokens, token)
		}
	}
}

// HandshakeConfig bundles the optional PSK and admission-token
// configuration a Handshake consults during hello processing.
type HandshakeConfig struct {
	PSKConfig       *PSKConfig
	AdmissionConfig *AdmissionConfig
	ClientToken     string
	TokenSigningKey ed25519.PrivateKey
	TokenPublicKey  ed25519.PublicKey
}

// NewHandshakeConfig returns an empty configuration: no PSK, no
// admission control.
func NewHandshakeConfig() *HandshakeConfig {
	return &HandshakeConfig{}
}

// WithPSK attaches a pre-shared key requirement.
func (hc *HandshakeConfig) WithPSK(psk []byte, hint string) *HandshakeConfig {
	hc.PSKConfig = NewPSKConfig(psk, hint)
	return hc
}

// WithAdmissionControl enables server-side admission token checking.
func (hc *HandshakeConfig) WithAdmissionControl(requireToken bool) *HandshakeConfig {
	hc.AdmissionConfig = NewAdmissionConfig()
	hc.AdmissionConfig.RequireToken = requireToken
	return hc
}

// WithClientToken configures the token a client handshake presents.
func (hc *HandshakeConfig) WithClientToken(token string, signingKey ed25519.PrivateKey) *HandshakeConfig {
	hc.ClientToken = token
	hc.TokenSigningKey = signingKey
	return hc
}

// WithTokenValidator configures the public key a server verifies
// client-presented tokens against.
func (hc *HandshakeConfig) WithTokenValidator(publicKey ed25519.PublicKey) *HandshakeConfig {
	hc.TokenPublicKey = publicKey
	return hc
}

// ValidatePSK checks a PSK hint/proof pair against the configured PSK,
// if any is configured.
func (hc *HandshakeConfig) ValidatePSK(message []byte, pskHint *string, pskProof []byte) error {
	if hc.PSKConfig == nil {
		if pskHint != nil || len(pskProof) > 0 {
			return fmt.Errorf("noiseik: psk provided but not configured")
		}
		return nil
	}
	if pskHint == nil || len(pskProof) == 0 {
		return fmt.Errorf("noiseik: psk required but not provided")
	}
	if *pskHint != hc.PSKConfig.Hint {
		return fmt.Errorf("noiseik: psk hint mismatch")
	}
	if !hc.PSKConfig.VerifyProof(message, pskProof) {
		return fmt.Errorf("noiseik: psk proof verification failed")
	}
	return nil
}

// ValidateAdmissionToken checks a client-presented token, if
// admission control requires one.
func (hc *HandshakeConfig) ValidateAdmissionToken(sessionID string, token *string, tokenProof []byte) error {
	if hc.AdmissionConfig == nil || !hc.AdmissionConfig.RequireToken {
		return nil
	}
	if token == nil || len(tokenProof) == 0 {
		return fmt.Errorf("noiseik: admission token required but not provided")
	}
	if !hc.AdmissionConfig.ValidateToken(*token, sessionID, tokenProof, hc.TokenPublicKey) {
		return fmt.Errorf("noiseik: admission token validation failed")
	}
	return nil
}

// GeneratePSKProof returns the PSK hint and proof for message, or
// ("", nil) if no PSK is configured.
func (hc *HandshakeConfig) GeneratePSKProof(message []byte) (string, []byte) {
	if hc.PSKConfig == nil {
		return "", nil
	}
	return hc.PSKConfig.Hint, hc.PSKConfig.GenerateProof(message)
}

// GenerateAdmissionTokenProof builds the (token, proof, expiry) triple
// for a client hello, or ("", nil, 0) if no token is configured.
func (hc *HandshakeConfig) GenerateAdmissionTokenProof(sessionID string) (string, []byte, uint64) {
	if hc.AdmissionConfig == nil || hc.ClientToken == "" {
		return "", nil, 0
	}
	info, ok := hc.AdmissionConfig.ValidTokens[hc.ClientToken]
	if !ok {
		return "", nil, 0
	}
	proof := hc.AdmissionConfig.GenerateTokenProof(hc.ClientToken, sessionID, hc.TokenSigningKey)
	return hc.ClientToken, proof, info.Expiry
}
