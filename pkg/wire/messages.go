package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/duskvault/duskvault/pkg/apperr"
)

// writeString writes a UTF-8 string as a u32 length prefix followed
// by its bytes, the encoding every string field in this protocol uses.
func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", apperr.New(apperr.KindProtocolError, "read string: length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxPayloadLen {
		return "", apperr.New(apperr.KindProtocolError, "read string: length too large", nil)
	}
	strBuf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, strBuf); err != nil {
			return "", apperr.New(apperr.KindProtocolError, "read string: bytes", err)
		}
	}
	return string(strBuf), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, apperr.New(apperr.KindProtocolError, "read uint64", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, apperr.New(apperr.KindProtocolError, "read uint32", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, apperr.New(apperr.KindProtocolError, "read uint16", err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, apperr.New(apperr.KindProtocolError, "read byte", err)
	}
	return b, nil
}

// Handshake is the HANDSHAKE payload.
type Handshake struct {
	ProtocolVersion uint16
	ClientID        string
	Capabilities    uint32
}

func (m Handshake) Encode() []byte {
	var buf bytes.Buffer
	writeUint16(&buf, m.ProtocolVersion)
	writeString(&buf, m.ClientID)
	writeUint32(&buf, m.Capabilities)
	return buf.Bytes()
}

func DecodeHandshake(payload []byte) (Handshake, error) {
	r := bytes.NewReader(payload)
	var m Handshake
	var err error
	if m.ProtocolVersion, err = readUint16(r); err != nil {
		return Handshake{}, err
	}
	if m.ClientID, err = readString(r); err != nil {
		return Handshake{}, err
	}
	if m.Capabilities, err = readUint32(r); err != nil {
		return Handshake{}, err
	}
	return m, nil
}

// HandshakeResponse is the HANDSHAKE_RESPONSE payload.
type HandshakeResponse struct {
	ProtocolVersion uint16
	ServerID        string
	Capabilities    uint32
	MaxChunkSize    uint32
}

func (m HandshakeResponse) Encode() []byte {
	var buf bytes.Buffer
	writeUint16(&buf, m.ProtocolVersion)
	writeString(&buf, m.ServerID)
	writeUint32(&buf, m.Capabilities)
	writeUint32(&buf, m.MaxChunkSize)
	return buf.Bytes()
}

func DecodeHandshakeResponse(payload []byte) (HandshakeResponse, error) {
	r := bytes.NewReader(payload)
	var m HandshakeResponse
	var err error
	if m.ProtocolVersion, err = readUint16(r); err != nil {
		return HandshakeResponse{}, err
	}
	if m.ServerID, err = readString(r); err != nil {
		return HandshakeResponse{}, err
	}
	if m.Capabilities, err = readUint32(r); err != nil {
		return HandshakeResponse{}, err
	}
	if m.MaxChunkSize, err = readUint32(r); err != nil {
		return HandshakeResponse{}, err
	}
	return m, nil
}

// FileTransferRequest is the FILE_TRANSFER_REQUEST payload.
type FileTransferRequest struct {
	Path        string
	Size        uint64
	Mtime       uint64
	FileDigest  string // hex64
	ChunkSize   uint32
	Compression string
}

func (m FileTransferRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Path)
	writeUint64(&buf, m.Size)
	writeUint64(&buf, m.Mtime)
	writeString(&buf, m.FileDigest)
	writeUint32(&buf, m.ChunkSize)
	writeString(&buf, m.Compression)
	return buf.Bytes()
}

func DecodeFileTransferRequest(payload []byte) (FileTransferRequest, error) {
	r := bytes.NewReader(payload)
	var m FileTransferRequest
	var err error
	if m.Path, err = readString(r); err != nil {
		return FileTransferRequest{}, err
	}
	if m.Size, err = readUint64(r); err != nil {
		return FileTransferRequest{}, err
	}
	if m.Mtime, err = readUint64(r); err != nil {
		return FileTransferRequest{}, err
	}
	if m.FileDigest, err = readString(r); err != nil {
		return FileTransferRequest{}, err
	}
	if m.ChunkSize, err = readUint32(r); err != nil {
		return FileTransferRequest{}, err
	}
	if m.Compression, err = readString(r); err != nil {
		return FileTransferRequest{}, err
	}
	return m, nil
}

// FileTransferResponse is the FILE_TRANSFER_RESPONSE payload.
type FileTransferResponse struct {
	Accepted           uint8
	Reason             string
	ResumeOffset       uint64
	PreferredChunkSize uint32
}

func (m FileTransferResponse) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Accepted)
	writeString(&buf, m.Reason)
	writeUint64(&buf, m.ResumeOffset)
	writeUint32(&buf, m.PreferredChunkSize)
	return buf.Bytes()
}

func DecodeFileTransferResponse(payload []byte) (FileTransferResponse, error) {
	r := bytes.NewReader(payload)
	var m FileTransferResponse
	var err error
	if m.Accepted, err = readByte(r); err != nil {
		return FileTransferResponse{}, err
	}
	if m.Reason, err = readString(r); err != nil {
		return FileTransferResponse{}, err
	}
	if m.ResumeOffset, err = readUint64(r); err != nil {
		return FileTransferResponse{}, err
	}
	if m.PreferredChunkSize, err = readUint32(r); err != nil {
		return FileTransferResponse{}, err
	}
	return m, nil
}

// ChunkData is the CHUNK_DATA payload. Invariant: ChunkOffset +
// len(Data) <= TotalSize, and len(Data) <= the negotiated max chunk size.
type ChunkData struct {
	Path         string
	ChunkOffset  uint64
	TotalSize    uint64
	ChunkDigest  string // hex64
	Data         []byte
}

func (m ChunkData) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Path)
	writeUint64(&buf, m.ChunkOffset)
	writeUint32(&buf, uint32(len(m.Data)))
	writeUint64(&buf, m.TotalSize)
	writeString(&buf, m.ChunkDigest)
	buf.Write(m.Data)
	return buf.Bytes()
}

func DecodeChunkData(payload []byte) (ChunkData, error) {
	r := bytes.NewReader(payload)
	var m ChunkData
	var err error
	if m.Path, err = readString(r); err != nil {
		return ChunkData{}, err
	}
	if m.ChunkOffset, err = readUint64(r); err != nil {
		return ChunkData{}, err
	}
	chunkSize, err := readUint32(r)
	if err != nil {
		return ChunkData{}, err
	}
	if m.TotalSize, err = readUint64(r); err != nil {
		return ChunkData{}, err
	}
	if m.ChunkDigest, err = readString(r); err != nil {
		return ChunkData{}, err
	}
	if m.ChunkOffset+uint64(chunkSize) > m.TotalSize {
		return ChunkData{}, apperr.New(apperr.KindProtocolError, "chunk data: offset+size exceeds total_size", nil)
	}
	data := make([]byte, chunkSize)
	if chunkSize > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return ChunkData{}, apperr.New(apperr.KindProtocolError, "chunk data: short data", err)
		}
	}
	m.Data = data
	return m, nil
}

// ChunkAck is the CHUNK_ACK payload.
type ChunkAck struct {
	Path          string
	ChunkOffset   uint64
	ChunkSize     uint32
	ChecksumValid uint8
	Error         string
}

func (m ChunkAck) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Path)
	writeUint64(&buf, m.ChunkOffset)
	writeUint32(&buf, m.ChunkSize)
	buf.WriteByte(m.ChecksumValid)
	writeString(&buf, m.Error)
	return buf.Bytes()
}

func DecodeChunkAck(payload []byte) (ChunkAck, error) {
	r := bytes.NewReader(payload)
	var m ChunkAck
	var err error
	if m.Path, err = readString(r); err != nil {
		return ChunkAck{}, err
	}
	if m.ChunkOffset, err = readUint64(r); err != nil {
		return ChunkAck{}, err
	}
	if m.ChunkSize, err = readUint32(r); err != nil {
		return ChunkAck{}, err
	}
	if m.ChecksumValid, err = readByte(r); err != nil {
		return ChunkAck{}, err
	}
	if m.Error, err = readString(r); err != nil {
		return ChunkAck{}, err
	}
	return m, nil
}

// TransferComplete is the TRANSFER_COMPLETE payload.
type TransferComplete struct {
	Path             string
	TotalTransferred uint64
	TotalSize        uint64
	FinalDigest      string // hex64
	OK               uint8
	Error            string
}

func (m TransferComplete) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Path)
	writeUint64(&buf, m.TotalTransferred)
	writeUint64(&buf, m.TotalSize)
	writeString(&buf, m.FinalDigest)
	buf.WriteByte(m.OK)
	writeString(&buf, m.Error)
	return buf.Bytes()
}

func DecodeTransferComplete(payload []byte) (TransferComplete, error) {
	r := bytes.NewReader(payload)
	var m TransferComplete
	var err error
	if m.Path, err = readString(r); err != nil {
		return TransferComplete{}, err
	}
	if m.TotalTransferred, err = readUint64(r); err != nil {
		return TransferComplete{}, err
	}
	if m.TotalSize, err = readUint64(r); err != nil {
		return TransferComplete{}, err
	}
	if m.FinalDigest, err = readString(r); err != nil {
		return TransferComplete{}, err
	}
	if m.OK, err = readByte(r); err != nil {
		return TransferComplete{}, err
	}
	if m.Error, err = readString(r); err != nil {
		return TransferComplete{}, err
	}
	return m, nil
}

// PingPong is the PING/PONG payload: a timestamp for RTT measurement.
type PingPong struct {
	TimestampMillis uint64
}

func (m PingPong) Encode() []byte {
	var buf bytes.Buffer
	writeUint64(&buf, m.TimestampMillis)
	return buf.Bytes()
}

func DecodePingPong(payload []byte) (PingPong, error) {
	r := bytes.NewReader(payload)
	ts, err := readUint64(r)
	if err != nil {
		return PingPong{}, err
	}
	return PingPong{TimestampMillis: ts}, nil
}
