// Package transfer drives one transport connection through the
// session handshake, chunked file transmission, resume, and
// retry/backoff, on top of pkg/wire framing, pkg/transport
// connections, and pkg/security/noiseik hello messages.
package transfer

import (
	"crypto/ed25519"
	"encoding/binary"
	"io"
	"time"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/constants"
	"github.com/duskvault/duskvault/pkg/identity"
	"github.com/duskvault/duskvault/pkg/security/noiseik"
	"github.com/duskvault/duskvault/pkg/transport"
	"github.com/duskvault/duskvault/pkg/wire"
)

// Session is one transfer-protocol connection: a CBOR hello exchange
// bound to a session identifier, followed by wire-framed
// HANDSHAKE/HANDSHAKE_RESPONSE capability negotiation, after which
// SendFile/ReceiveFile drive the chunked transfer state machine over
// the same connection. The hello signatures are not verified and the
// Noise IK messages are not exchanged, so a Session does not
// authenticate its peer; an admission token, when required, is the
// only check on the client.
type Session struct {
	conn         transport.Conn
	handshake    *noiseik.Handshake
	localID      string
	remoteID     string
	maxChunkSize uint32

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newSession(conn transport.Conn, hs *noiseik.Handshake, localID, remoteID string) *Session {
	return &Session{
		conn:           conn,
		handshake:      hs,
		localID:        localID,
		remoteID:       remoteID,
		maxAttempts:    constants.MaxReconnectionAttempts,
		initialBackoff: constants.InitialBackoff,
		maxBackoff:     constants.MaxBackoff,
	}
}

// SetRetryPolicy overrides the per-chunk retry attempt count and
// backoff bounds, for tests that need the retry loop to run in
// milliseconds rather than at constants.InitialBackoff/MaxBackoff
// scale. Production callers leave the constants.* defaults in place.
func (s *Session) SetRetryPolicy(maxAttempts int, initialBackoff, maxBackoff time.Duration) {
	s.maxAttempts = maxAttempts
	s.initialBackoff = initialBackoff
	s.maxBackoff = maxBackoff
}

// writeHello CBOR-encodes and length-prefixes one handshake hello
// message (ClientHello or ServerHello) onto the raw connection, ahead
// of wire framing proper — the hello exchange binds the session to
// its identifier before any wire.Frame is read.
func writeHello(conn transport.Conn, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return apperr.New(apperr.KindIoFailed, "write hello: length", err)
	}
	if _, err := conn.Write(data); err != nil {
		return apperr.New(apperr.KindIoFailed, "write hello: body", err)
	}
	return nil
}

func readHello(conn transport.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "read hello: length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > wire.MaxPayloadLen {
		return nil, apperr.New(apperr.KindProtocolError, "read hello: oversized", nil)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return nil, apperr.New(apperr.KindIoFailed, "read hello: body", err)
		}
	}
	return buf, nil
}

// DialSession performs the client side of session establishment: a
// hello exchange bound to sessionID, followed by wire-level
// HANDSHAKE/HANDSHAKE_RESPONSE capability negotiation. serverPublicKey
// seeds the Noise IK initiator state, but no Noise IK message is sent,
// so the server is not checked against it.
func DialSession(conn transport.Conn, id *identity.Identity, sessionID string, serverPublicKey []byte, capabilities uint32) (*Session, error) {
	hs, err := noiseik.NewClientHandshake(id, sessionID, serverPublicKey)
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "dial session: create handshake", err)
	}
	return finishClientHandshake(conn, hs, id, capabilities)
}

// DialSessionWithAdmission is DialSession plus a signed admission
// token: admissionConfig, clientToken, and tokenSigningKey gate which
// clients AcceptSessionWithAdmission on the other end will let
// proceed past the hello exchange.
func DialSessionWithAdmission(conn transport.Conn, id *identity.Identity, sessionID string, serverPublicKey []byte, admissionConfig *noiseik.AdmissionConfig, clientToken string, tokenSigningKey ed25519.PrivateKey, capabilities uint32) (*Session, error) {
	hs, err := noiseik.NewClientHandshake(id, sessionID, serverPublicKey)
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "dial session: create handshake", err)
	}
	hs.WithAdmissionToken(admissionConfig, clientToken, tokenSigningKey)
	return finishClientHandshake(conn, hs, id, capabilities)
}

func finishClientHandshake(conn transport.Conn, hs *noiseik.Handshake, id *identity.Identity, capabilities uint32) (*Session, error) {
	clientHello, err := hs.CreateClientHello()
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "dial session: create client hello", err)
	}
	data, err := clientHello.Marshal()
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "dial session: marshal client hello", err)
	}
	if err := writeHello(conn, data); err != nil {
		return nil, err
	}

	respData, err := readHello(conn)
	if err != nil {
		return nil, err
	}
	var serverHello noiseik.ServerHello
	if err := serverHello.Unmarshal(respData); err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "dial session: unmarshal server hello", err)
	}
	if err := hs.ProcessServerHello(&serverHello); err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "dial session: process server hello", err)
	}

	s := newSession(conn, hs, id.ID(), serverHello.From)

	if err := s.negotiateCapabilitiesAsClient(capabilities); err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptSession performs the server side of session establishment.
func AcceptSession(conn transport.Conn, id *identity.Identity, sessionID string, capabilities uint32) (*Session, error) {
	hs, err := noiseik.NewServerHandshake(id, sessionID)
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "accept session: create handshake", err)
	}
	return finishServerHandshake(conn, hs, id, capabilities)
}

// AcceptSessionWithAdmission is AcceptSession plus admission-token
// enforcement: a ClientHello lacking a token admissionConfig accepts,
// proven against tokenPublicKey, is rejected before any file transfer
// can begin.
func AcceptSessionWithAdmission(conn transport.Conn, id *identity.Identity, sessionID string, admissionConfig *noiseik.AdmissionConfig, tokenPublicKey ed25519.PublicKey, capabilities uint32) (*Session, error) {
	hs, err := noiseik.NewServerHandshake(id, sessionID)
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "accept session: create handshake", err)
	}
	hs.WithAdmissionToken(admissionConfig, "", nil)
	hs.SetTokenValidator(tokenPublicKey)
	return finishServerHandshake(conn, hs, id, capabilities)
}

func finishServerHandshake(conn transport.Conn, hs *noiseik.Handshake, id *identity.Identity, capabilities uint32) (*Session, error) {
	helloData, err := readHello(conn)
	if err != nil {
		return nil, err
	}
	var clientHello noiseik.ClientHello
	if err := clientHello.Unmarshal(helloData); err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "accept session: unmarshal client hello", err)
	}

	serverHello, err := hs.ProcessClientHello(&clientHello)
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "accept session: process client hello", err)
	}
	respData, err := serverHello.Marshal()
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "accept session: marshal server hello", err)
	}
	if err := writeHello(conn, respData); err != nil {
		return nil, err
	}

	s := newSession(conn, hs, id.ID(), clientHello.From)

	if err := s.negotiateCapabilitiesAsServer(capabilities); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) negotiateCapabilitiesAsClient(capabilities uint32) error {
	hello := wire.Handshake{ProtocolVersion: wire.Version, ClientID: s.localID, Capabilities: capabilities}
	if err := wire.WriteFrame(s.conn, wire.MsgHandshake, 0, s.assignMessageID(), hello.Encode()); err != nil {
		return err
	}

	frame, err := wire.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if !s.validateMessageID(frame.Header.MessageID) {
		return apperr.New(apperr.KindProtocolError, "negotiate capabilities: replayed message id", nil)
	}
	if frame.IsKind(wire.MsgError) {
		return decodeErrorFrame(frame)
	}
	if !frame.IsKind(wire.MsgHandshakeResponse) {
		return apperr.New(apperr.KindProtocolError, "negotiate capabilities: unexpected message type", nil)
	}
	resp, err := wire.DecodeHandshakeResponse(frame.Payload)
	if err != nil {
		return err
	}
	if resp.ProtocolVersion != wire.Version {
		return apperr.New(apperr.KindProtocolError, "negotiate capabilities: protocol version mismatch", nil)
	}
	s.maxChunkSize = resp.MaxChunkSize
	return nil
}

func (s *Session) negotiateCapabilitiesAsServer(capabilities uint32) error {
	frame, err := wire.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if !s.validateMessageID(frame.Header.MessageID) {
		return apperr.New(apperr.KindProtocolError, "negotiate capabilities: replayed message id", nil)
	}
	if !frame.IsKind(wire.MsgHandshake) {
		return apperr.New(apperr.KindProtocolError, "negotiate capabilities: unexpected message type", nil)
	}
	req, err := wire.DecodeHandshake(frame.Payload)
	if err != nil {
		return err
	}

	if req.ProtocolVersion != wire.Version {
		errPayload := wire.NewErrorPayload(wire.ErrProtocolVersionMismatch, "protocol version mismatch")
		_ = wire.WriteFrame(s.conn, wire.MsgError, 0, s.assignMessageID(), errPayload.Encode())
		return apperr.New(apperr.KindProtocolError, "negotiate capabilities: protocol version mismatch", nil)
	}

	resp := wire.HandshakeResponse{
		ProtocolVersion: wire.Version,
		ServerID:        s.localID,
		Capabilities:    capabilities,
		MaxChunkSize:    maxChunkSizeOrDefault(0),
	}
	s.maxChunkSize = resp.MaxChunkSize
	return wire.WriteFrame(s.conn, wire.MsgHandshakeResponse, wire.FlagResponse, s.assignMessageID(), resp.Encode())
}

// assignMessageID draws the next outgoing message_id from the
// handshake's sequence tracker, so replay protection spans the entire
// session rather than resetting at the wire layer.
func (s *Session) assignMessageID() uint32 {
	return uint32(s.handshake.NextSendSequence())
}

// validateMessageID rejects a frame whose message_id the sequence
// tracker has already seen or that falls outside its replay window.
func (s *Session) validateMessageID(id uint32) bool {
	return s.handshake.ValidateReceiveSequence(uint64(id))
}

// RemoteID returns the peer identity id established during the hello exchange.
func (s *Session) RemoteID() string { return s.remoteID }

// MaxChunkSize returns the negotiated maximum CHUNK_DATA payload size.
func (s *Session) MaxChunkSize() uint32 { return s.maxChunkSize }

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

func decodeErrorFrame(frame wire.Frame) error {
	errPayload, err := wire.DecodeErrorPayload(frame.Payload)
	if err != nil {
		return apperr.New(apperr.KindProtocolError, "decode error frame", err)
	}
	return errPayload
}
