// Package wire implements the binary transfer-protocol framing: a
// fixed 16-byte header followed by a message-type-specific payload,
// carried over either a byte-stream or a multi-stream transport.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/duskvault/duskvault/pkg/apperr"
)

// Magic identifies a well-formed frame header.
const Magic uint32 = 0x4A53544E // "JSTN"

// Version is the only frame-header version this package emits or accepts.
const Version uint16 = 1

// MaxPayloadLen bounds payload_len so a corrupt or hostile header
// cannot make a reader allocate an unbounded buffer.
const MaxPayloadLen uint32 = 1 << 30

// MessageType is the one-byte discriminant in a frame header.
type MessageType uint8

const (
	MsgHandshake            MessageType = 0x01
	MsgHandshakeResponse    MessageType = 0x02
	MsgFileTransferRequest  MessageType = 0x10
	MsgFileTransferResponse MessageType = 0x11
	MsgChunkData            MessageType = 0x20
	MsgChunkAck             MessageType = 0x21
	MsgTransferComplete     MessageType = 0x30
	MsgPong                 MessageType = 0xFD
	MsgPing                 MessageType = 0xFE
	MsgError                MessageType = 0xFF
)

// Flags is the frame header's bitfield.
type Flags uint8

const (
	FlagCompressed  Flags = 1 << 0
	FlagEncrypted   Flags = 1 << 1
	FlagAckRequired Flags = 1 << 2
	FlagResponse    Flags = 1 << 3
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// HeaderSize is the fixed on-wire size of a Header in bytes.
const HeaderSize = 16

// Header is the fixed 16-byte frame header, big-endian throughout.
type Header struct {
	Magic       uint32
	Version     uint16
	MessageType MessageType
	Flags       Flags
	PayloadLen  uint32
	MessageID   uint32
}

// Frame pairs a validated Header with its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode writes a Header in its canonical 16-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.MessageType)
	buf[7] = byte(h.Flags)
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[12:16], h.MessageID)
	return buf
}

// DecodeHeader parses a 16-byte buffer into a Header and validates
// magic, version, and payload_len bound. Receivers that fail this
// validation close the connection with an ERROR reply rather than
// attempting to resynchronize on the stream.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, apperr.New(apperr.KindProtocolError, "frame header: short buffer", nil)
	}

	h := Header{
		Magic:       binary.BigEndian.Uint32(buf[0:4]),
		Version:     binary.BigEndian.Uint16(buf[4:6]),
		MessageType: MessageType(buf[6]),
		Flags:       Flags(buf[7]),
		PayloadLen:  binary.BigEndian.Uint32(buf[8:12]),
		MessageID:   binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != Magic {
		return Header{}, apperr.New(apperr.KindProtocolError, "frame header: bad magic", nil)
	}
	if h.Version != Version {
		return Header{}, apperr.New(apperr.KindProtocolError, "frame header: unsupported version", nil)
	}
	if h.PayloadLen > MaxPayloadLen {
		return Header{}, apperr.New(apperr.KindProtocolError, "frame header: payload too large", nil)
	}
	return h, nil
}

// WriteFrame writes one frame (header + payload) to w.
func WriteFrame(w io.Writer, msgType MessageType, flags Flags, messageID uint32, payload []byte) error {
	if uint32(len(payload)) > MaxPayloadLen {
		return apperr.New(apperr.KindInvalidInput, "write frame: payload too large", nil)
	}
	h := Header{
		Magic:       Magic,
		Version:     Version,
		MessageType: msgType,
		Flags:       flags,
		PayloadLen:  uint32(len(payload)),
		MessageID:   messageID,
	}
	if _, err := w.Write(h.Encode()); err != nil {
		return apperr.New(apperr.KindIoFailed, "write frame: header", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return apperr.New(apperr.KindIoFailed, "write frame: payload", err)
	}
	return nil
}

// ReadFrame reads one frame (header + payload) from r.
func ReadFrame(r io.Reader) (Frame, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if err == io.EOF {
			return Frame{}, err
		}
		return Frame{}, apperr.New(apperr.KindIoFailed, "read frame: header", err)
	}

	h, err := DecodeHeader(hdrBuf)
	if err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, apperr.New(apperr.KindIoFailed, "read frame: payload", err)
		}
	}

	return Frame{Header: h, Payload: payload}, nil
}

// IsKind reports whether f carries the given message type.
func (f Frame) IsKind(t MessageType) bool {
	return f.Header.MessageType == t
}
