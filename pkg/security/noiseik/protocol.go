package noiseik

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/duskvault/duskvault/pkg/codec/cborcanon"
	"github.com/duskvault/duskvault/pkg/identity"
	"github.com/flynn/noise"
)

// ProtocolVersion is the wire protocol version carried in the frame
// header and in the handshake hellos below it.
const ProtocolVersion = 1

// ClientHello is the client's handshake message, binding a transfer
// session to the client's identity and to a session identifier shared
// out of band with the server.
type ClientHello struct {
	Version        uint16   `cbor:"v"`
	SessionID      string   `cbor:"session"`
	From           string   `cbor:"from"`
	Nonce          uint64   `cbor:"nonce"`
	Caps           []string `cbor:"caps"`
	NoiseKey       []byte   `cbor:"noisekey"`
	Proof          []byte   `cbor:"proof"`
	PSKHint        *string  `cbor:"psk_hint,omitempty"`
	PSKProof       []byte   `cbor:"psk_proof,omitempty"`
	AdmissionToken *string  `cbor:"admission_token,omitempty"`
	TokenProof     []byte   `cbor:"token_proof,omitempty"`
	TokenExpiry    *uint64  `cbor:"token_expiry,omitempty"`
}

// ServerHello is the server's handshake response.
type ServerHello struct {
	Version  uint16   `cbor:"v"`
	SessionID string  `cbor:"session"`
	From     string   `cbor:"from"`
	Nonce    uint64   `cbor:"nonce"`
	Caps     []string `cbor:"caps"`
	NoiseKey []byte   `cbor:"noisekey"`
	Proof    []byte   `cbor:"proof"`
	PSKProof []byte   `cbor:"psk_proof,omitempty"`
}

// Sign signs ch with privateKey, over every field but Proof itself.
func (ch *ClientHello) Sign(privateKey ed25519.PrivateKey) error {
	sigData, err := cborcanon.EncodeForSigning(ch, "proof")
	if err != nil {
		return fmt.Errorf("encode ClientHello for signing: %w", err)
	}
	ch.Proof = ed25519.Sign(privateKey, sigData)
	return nil
}

// Verify checks ch.Proof against publicKey.
func (ch *ClientHello) Verify(publicKey ed25519.PublicKey) error {
	if len(ch.Proof) == 0 {
		return fmt.Errorf("ClientHello has no proof")
	}
	sigData, err := cborcanon.EncodeForSigning(ch, "proof")
	if err != nil {
		return fmt.Errorf("encode ClientHello for verification: %w", err)
	}
	if !ed25519.Verify(publicKey, sigData, ch.Proof) {
		return fmt.Errorf("ClientHello signature verification failed")
	}
	return nil
}

// Marshal encodes ch to canonical CBOR.
func (ch *ClientHello) Marshal() ([]byte, error) { return cborcanon.Marshal(ch) }

// Unmarshal decodes ch from CBOR.
func (ch *ClientHello) Unmarshal(data []byte) error { return cborcanon.Unmarshal(data, ch) }

// Sign signs sh with privateKey, over every field but Proof itself.
func (sh *ServerHello) Sign(privateKey ed25519.PrivateKey) error {
	sigData, err := cborcanon.EncodeForSigning(sh, "proof")
	if err != nil {
		return fmt.Errorf("encode ServerHello for signing: %w", err)
	}
	sh.Proof = ed25519.Sign(privateKey, sigData)
	return nil
}

// Verify checks sh.Proof against publicKey.
func (sh *ServerHello) Verify(publicKey ed25519.PublicKey) error {
	if len(sh.Proof) == 0 {
		return fmt.Errorf("ServerHello has no proof")
	}
	sigData, err := cborcanon.EncodeForSigning(sh, "proof")
	if err != nil {
		return fmt.Errorf("encode ServerHello for verification: %w", err)
	}
	if !ed25519.Verify(publicKey, sigData, sh.Proof) {
		return fmt.Errorf("ServerHello signature verification failed")
	}
	return nil
}

// Marshal encodes sh to canonical CBOR.
func (sh *ServerHello) Marshal() ([]byte, error) { return cborcanon.Marshal(sh) }

// Unmarshal decodes sh from CBOR.
func (sh *ServerHello) Unmarshal(data []byte) error { return cborcanon.Unmarshal(data, sh) }

// Handshake drives one Noise IK handshake and the hello exchange
// around it, binding the resulting session to a client/server
// identity pair and to a shared session identifier.
type Handshake struct {
	identity        *identity.Identity
	sessionID       string
	nonce           uint64
	complete        bool
	noiseKey        []byte
	peerKey         []byte
	noiseState      *noise.HandshakeState
	cipherSuite     noise.CipherSuite
	isInitiator     bool
	sequenceTracker *SequenceTracker
	config          *HandshakeConfig
}

// NewHandshake creates a handshake instance bound to sessionID, with
// no PSK or admission control configured.
func NewHandshake(id *identity.Identity, sessionID string) *Handshake {
	nonce := uint64(time.Now().UnixNano())

	var randomBytes [8]byte
	rand.Read(randomBytes[:])
	randomPart := uint64(randomBytes[0])<<56 | uint64(randomBytes[1])<<48 |
		uint64(randomBytes[2])<<40 | uint64(randomBytes[3])<<32 |
		uint64(randomBytes[4])<<24 | uint64(randomBytes[5])<<16 |
		uint64(randomBytes[6])<<8 | uint64(randomBytes[7])
	nonce ^= randomPart

	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

	return &Handshake{
		identity:        id,
		sessionID:       sessionID,
		nonce:           nonce,
		noiseKey:        make([]byte, 32),
		cipherSuite:     cipherSuite,
		sequenceTracker: NewSequenceTracker(),
		config:          NewHandshakeConfig(),
	}
}

// NewHandshakeWithPSK creates a handshake instance requiring pskConfig.
func NewHandshakeWithPSK(id *identity.Identity, sessionID string, pskConfig *PSKConfig) *Handshake {
	h := NewHandshake(id, sessionID)
	h.config.PSKConfig = pskConfig
	return h
}

// NewHandshakeWithAdmission creates a handshake instance that presents
// an admission token signed by tokenSigningKey.
func NewHandshakeWithAdmission(id *identity.Identity, sessionID string, admissionConfig *AdmissionConfig, clientToken string, tokenSigningKey ed25519.PrivateKey) *Handshake {
	h := NewHandshake(id, sessionID)
	h.config.AdmissionConfig = admissionConfig
	h.config.ClientToken = clientToken
	h.config.TokenSigningKey = tokenSigningKey
	return h
}

// SetTokenValidator configures the public key a server verifies
// client-presented admission tokens against.
func (h *Handshake) SetTokenValidator(publicKey ed25519.PublicKey) {
	h.config.TokenPublicKey = publicKey
}

// WithAdmissionToken attaches admission control to a handshake already
// built by NewClientHandshake/NewServerHandshake, so a caller that
// needs the IK static-key binding those constructors set up can still
// layer a signed admission token requirement on top of it, rather than
// choosing between the two. On the client side clientToken and
// tokenSigningKey produce the proof presented in CreateClientHello; on
// the server side they are left zero-valued and SetTokenValidator
// supplies the verification key instead.
func (h *Handshake) WithAdmissionToken(admissionConfig *AdmissionConfig, clientToken string, tokenSigningKey ed25519.PrivateKey) *Handshake {
	h.config.AdmissionConfig = admissionConfig
	h.config.ClientToken = clientToken
	h.config.TokenSigningKey = tokenSigningKey
	return h
}

// NewClientHandshake creates the initiator side of a Noise IK
// handshake against a known server static public key.
func NewClientHandshake(id *identity.Identity, sessionID string, serverPublicKey []byte) (*Handshake, error) {
	h := NewHandshake(id, sessionID)
	h.isInitiator = true

	config := noise.Config{
		CipherSuite: h.cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: h.identity.KeyAgreementPrivateKey[:],
			Public:  h.identity.KeyAgreementPublicKey[:],
		},
		PeerStatic: serverPublicKey,
	}

	var err error
	h.noiseState, err = noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("create client handshake state: %w", err)
	}
	return h, nil
}

// NewServerHandshake creates the responder side of a Noise IK
// handshake.
func NewServerHandshake(id *identity.Identity, sessionID string) (*Handshake, error) {
	h := NewHandshake(id, sessionID)
	h.isInitiator = false

	config := noise.Config{
		CipherSuite: h.cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: h.identity.KeyAgreementPrivateKey[:],
			Public:  h.identity.KeyAgreementPublicKey[:],
		},
	}

	var err error
	h.noiseState, err = noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("create server handshake state: %w", err)
	}
	return h, nil
}

// CreateClientHello builds and signs the client's HANDSHAKE payload,
// attaching PSK and admission proofs when configured.
func (h *Handshake) CreateClientHello() (*ClientHello, error) {
	copy(h.noiseKey, h.identity.KeyAgreementPrivateKey[:])

	hello := &ClientHello{
		Version:   ProtocolVersion,
		SessionID: h.sessionID,
		From:      h.identity.ID(),
		Nonce:     h.nonce,
		Caps:      []string{"chunks/1", "resume/1"},
		NoiseKey:  h.identity.KeyAgreementPublicKey[:],
	}

	if h.config.AdmissionConfig != nil && h.config.ClientToken != "" {
		token, proof, expiry := h.config.GenerateAdmissionTokenProof(h.sessionID)
		if token != "" {
			hello.AdmissionToken = &token
			hello.TokenProof = proof
			hello.TokenExpiry = &expiry
		}
	}

	if h.config.PSKConfig != nil {
		hint := h.config.PSKConfig.Hint
		hello.PSKHint = &hint

		sigData, err := cborcanon.EncodeForSigning(hello, "proof", "psk_proof")
		if err != nil {
			return nil, fmt.Errorf("encode for psk proof: %w", err)
		}
		hello.PSKProof = h.config.PSKConfig.GenerateProof(sigData)
	}

	if err := hello.Sign(h.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("sign ClientHello: %w", err)
	}
	return hello, nil
}

// ProcessClientHello validates a received ClientHello and builds the
// matching ServerHello.
func (h *Handshake) ProcessClientHello(clientHello *ClientHello) (*ServerHello, error) {
	if clientHello.SessionID != h.sessionID {
		return nil, fmt.Errorf("session id mismatch: expected %s, got %s", h.sessionID, clientHello.SessionID)
	}

	if h.config.PSKConfig != nil {
		sigData, err := cborcanon.EncodeForSigning(clientHello, "proof", "psk_proof")
		if err != nil {
			return nil, fmt.Errorf("encode for psk verification: %w", err)
		}
		if err := h.config.ValidatePSK(sigData, clientHello.PSKHint, clientHello.PSKProof); err != nil {
			return nil, fmt.Errorf("psk validation failed: %w", err)
		}
	}

	if err := h.config.ValidateAdmissionToken(h.sessionID, clientHello.AdmissionToken, clientHello.TokenProof); err != nil {
		return nil, fmt.Errorf("admission token validation failed: %w", err)
	}

	h.peerKey = make([]byte, len(clientHello.NoiseKey))
	copy(h.peerKey, clientHello.NoiseKey)

	copy(h.noiseKey, h.identity.KeyAgreementPrivateKey[:])

	hello := &ServerHello{
		Version:   ProtocolVersion,
		SessionID: h.sessionID,
		From:      h.identity.ID(),
		Nonce:     uint64(time.Now().UnixNano()),
		Caps:      []string{"chunks/1", "resume/1"},
		NoiseKey:  h.identity.KeyAgreementPublicKey[:],
	}

	if h.config.PSKConfig != nil {
		sigData, err := cborcanon.EncodeForSigning(hello, "proof", "psk_proof")
		if err != nil {
			return nil, fmt.Errorf("encode for psk proof: %w", err)
		}
		hello.PSKProof = h.config.PSKConfig.GenerateProof(sigData)
	}

	if err := hello.Sign(h.identity.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("sign ServerHello: %w", err)
	}

	h.complete = true
	return hello, nil
}

// ProcessServerHello validates a received ServerHello and completes
// the hello phase of the handshake on the client side.
func (h *Handshake) ProcessServerHello(serverHello *ServerHello) error {
	if serverHello.SessionID != h.sessionID {
		return fmt.Errorf("session id mismatch: expected %s, got %s", h.sessionID, serverHello.SessionID)
	}

	if h.config.PSKConfig != nil {
		if len(serverHello.PSKProof) == 0 {
			return fmt.Errorf("psk proof expected but not provided in ServerHello")
		}
		sigData, err := cborcanon.EncodeForSigning(serverHello, "proof", "psk_proof")
		if err != nil {
			return fmt.Errorf("encode ServerHello for psk verification: %w", err)
		}
		if !h.config.PSKConfig.VerifyProof(sigData, serverHello.PSKProof) {
			return fmt.Errorf("ServerHello psk proof verification failed")
		}
	}

	h.peerKey = make([]byte, len(serverHello.NoiseKey))
	copy(h.peerKey, serverHello.NoiseKey)

	h.complete = true
	return nil
}

// IsComplete reports whether the handshake's hello phase (and, once
// PerformHandshake/ReadHandshakeMessage have run, its Noise phase) has
// finished.
func (h *Handshake) IsComplete() bool {
	return h.complete
}

// PerformHandshake advances the Noise IK state machine by writing the
// next handshake message, carrying peerMessage as that message's
// payload (nil for none). A peer's message is consumed with
// ReadHandshakeMessage, not passed here.
func (h *Handshake) PerformHandshake(peerMessage []byte) ([]byte, error) {
	if h.noiseState == nil {
		return nil, fmt.Errorf("handshake state not initialized")
	}

	message, cs1, cs2, err := h.noiseState.WriteMessage(nil, peerMessage)
	if err != nil {
		return nil, fmt.Errorf("handshake step failed: %w", err)
	}
	if cs1 != nil && cs2 != nil {
		h.complete = true
	}
	return message, nil
}

// ReadHandshakeMessage advances the Noise IK state machine by reading
// a message from the peer.
func (h *Handshake) ReadHandshakeMessage(message []byte) ([]byte, error) {
	if h.noiseState == nil {
		return nil, fmt.Errorf("handshake state not initialized")
	}

	payload, cs1, cs2, err := h.noiseState.ReadMessage(nil, message)
	if err != nil {
		return nil, fmt.Errorf("read handshake message: %w", err)
	}
	if cs1 != nil && cs2 != nil {
		h.complete = true
	}
	return payload, nil
}

// GetSessionKeys returns the send/receive key material for the
// completed handshake.
func (h *Handshake) GetSessionKeys() ([]byte, []byte, error) {
	if !h.complete {
		return nil, nil, fmt.Errorf("handshake not complete")
	}

	sendKey := make([]byte, 32)
	recvKey := make([]byte, 32)
	copy(sendKey, h.identity.KeyAgreementPrivateKey[:])
	copy(recvKey, h.identity.KeyAgreementPublicKey[:])
	return sendKey, recvKey, nil
}

// NextSendSequence returns the next message_id to assign on this
// handshake's session.
func (h *Handshake) NextSendSequence() uint64 {
	return h.sequenceTracker.NextSendSequence()
}

// ValidateReceiveSequence reports whether an incoming frame's
// message_id should be accepted.
func (h *Handshake) ValidateReceiveSequence(sequence uint64) bool {
	return h.sequenceTracker.ValidateReceiveSequence(sequence)
}

// GetSequenceStats reports the current send/receive sequence
// high-water marks.
func (h *Handshake) GetSequenceStats() (sendSeq uint64, lastRecvSeq uint64) {
	return h.sequenceTracker.GetSendSequence(), h.sequenceTracker.GetLastReceivedSequence()
}
