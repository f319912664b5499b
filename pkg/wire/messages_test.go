package wire

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	want := Handshake{ProtocolVersion: 1, ClientID: "client-abc", Capabilities: 0x7}
	got, err := DecodeHandshake(want.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshake failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestHandshakeResponseRoundTrip(t *testing.T) {
	want := HandshakeResponse{ProtocolVersion: 1, ServerID: "server-xyz", Capabilities: 0x3, MaxChunkSize: 1 << 20}
	got, err := DecodeHandshakeResponse(want.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileTransferRequestRoundTrip(t *testing.T) {
	want := FileTransferRequest{
		Path:        "/home/user/report.pdf",
		Size:        4096,
		Mtime:       1700000000000,
		FileDigest:  "a1b2c3",
		ChunkSize:   1 << 20,
		Compression: "NONE",
	}
	got, err := DecodeFileTransferRequest(want.Encode())
	if err != nil {
		t.Fatalf("DecodeFileTransferRequest failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileTransferResponseRoundTrip(t *testing.T) {
	want := FileTransferResponse{Accepted: 1, Reason: "", ResumeOffset: 0, PreferredChunkSize: 1 << 20}
	got, err := DecodeFileTransferResponse(want.Encode())
	if err != nil {
		t.Fatalf("DecodeFileTransferResponse failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

// TestChunkDataRoundTrip mirrors the wire round-trip scenario:
// ChunkData{path="/x", offset=0, size=3, total=3, data=b"abc"}, with a
// placeholder digest string, since decoding does not check the digest.
func TestChunkDataRoundTrip(t *testing.T) {
	want := ChunkData{
		Path:        "/x",
		ChunkOffset: 0,
		TotalSize:   3,
		ChunkDigest: "deadbeef",
		Data:        []byte("abc"),
	}
	got, err := DecodeChunkData(want.Encode())
	if err != nil {
		t.Fatalf("DecodeChunkData failed: %v", err)
	}
	if got.Path != want.Path || got.ChunkOffset != want.ChunkOffset || got.TotalSize != want.TotalSize ||
		got.ChunkDigest != want.ChunkDigest || !bytes.Equal(got.Data, want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestChunkDataRejectsOffsetPastTotalSize(t *testing.T) {
	bad := ChunkData{Path: "/x", ChunkOffset: 2, TotalSize: 3, ChunkDigest: "x", Data: []byte("abc")}
	if _, err := DecodeChunkData(bad.Encode()); err == nil {
		t.Error("DecodeChunkData accepted offset+size > total_size, want error")
	}
}

func TestChunkAckRoundTrip(t *testing.T) {
	want := ChunkAck{Path: "/x", ChunkOffset: 0, ChunkSize: 3, ChecksumValid: 1, Error: ""}
	got, err := DecodeChunkAck(want.Encode())
	if err != nil {
		t.Fatalf("DecodeChunkAck failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestTransferCompleteRoundTrip(t *testing.T) {
	want := TransferComplete{
		Path:             "/x",
		TotalTransferred: 3,
		TotalSize:        3,
		FinalDigest:      "deadbeef",
		OK:               1,
		Error:            "",
	}
	got, err := DecodeTransferComplete(want.Encode())
	if err != nil {
		t.Fatalf("DecodeTransferComplete failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	want := PingPong{TimestampMillis: 1700000000000}
	got, err := DecodePingPong(want.Encode())
	if err != nil {
		t.Fatalf("DecodePingPong failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestErrorPayloadRoundTripAndRetryability(t *testing.T) {
	want := NewErrorPayload(ErrTransferTimeout, "read timed out")
	got, err := DecodeErrorPayload(want.Encode())
	if err != nil {
		t.Fatalf("DecodeErrorPayload failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.IsRetryable() {
		t.Error("TRANSFER_TIMEOUT should be retryable")
	}

	permanent := NewErrorPayload(ErrChecksumMismatch, "digest mismatch")
	if permanent.IsRetryable() {
		t.Error("CHECKSUM_MISMATCH should not be retryable")
	}
}

func TestFullFrameWithChunkDataPayload(t *testing.T) {
	msg := ChunkData{Path: "/x", ChunkOffset: 0, TotalSize: 3, ChunkDigest: "deadbeef", Data: []byte("abc")}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, MsgChunkData, FlagAckRequired, 1, msg.Encode()); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !frame.IsKind(MsgChunkData) {
		t.Fatalf("got message type %v, want MsgChunkData", frame.Header.MessageType)
	}

	got, err := DecodeChunkData(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeChunkData failed: %v", err)
	}
	if !bytes.Equal(got.Data, msg.Data) {
		t.Errorf("got data %q, want %q", got.Data, msg.Data)
	}
}
