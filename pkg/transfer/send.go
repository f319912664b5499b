package transfer

import (
	"io"
	"time"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/constants"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/wire"
)

// Chunk is one piece of a file being sent, as yielded by a Chunker.
type Chunk struct {
	Offset uint64
	Data   []byte
	Digest digest.Digest
}

// FileSource describes the file SendFile is about to transmit and
// yields its chunks in order, starting at ResumeFrom when the receiver
// reports a verified partial transfer already on disk.
type FileSource struct {
	Path        string
	Size        uint64
	Mtime       uint64
	FileDigest  digest.Digest
	ChunkSize   uint32
	Compression string
	Chunks      func(resumeFrom uint64) (<-chan Chunk, <-chan error)
}

// SendFile drives the sender side of one file transfer: a
// FILE_TRANSFER_REQUEST/RESPONSE negotiation (honouring a resume
// offset the receiver already verified), then a CHUNK_DATA/CHUNK_ACK
// loop retried per chunk with exponential backoff, ending in
// TRANSFER_COMPLETE.
func (s *Session) SendFile(src FileSource) error {
	req := wire.FileTransferRequest{
		Path:        src.Path,
		Size:        src.Size,
		Mtime:       src.Mtime,
		FileDigest:  src.FileDigest.String(),
		ChunkSize:   maxChunkSizeOrDefault(src.ChunkSize),
		Compression: src.Compression,
	}
	if err := wire.WriteFrame(s.conn, wire.MsgFileTransferRequest, 0, s.assignMessageID(), req.Encode()); err != nil {
		return err
	}

	frame, err := wire.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if !s.validateMessageID(frame.Header.MessageID) {
		return apperr.New(apperr.KindProtocolError, "send file: replayed message id", nil)
	}
	if frame.IsKind(wire.MsgError) {
		return decodeErrorFrame(frame)
	}
	if !frame.IsKind(wire.MsgFileTransferResponse) {
		return apperr.New(apperr.KindProtocolError, "send file: unexpected message type", nil)
	}
	resp, err := wire.DecodeFileTransferResponse(frame.Payload)
	if err != nil {
		return err
	}
	if resp.Accepted == 0 {
		return apperr.New(apperr.KindConflict, "send file: rejected by receiver: "+resp.Reason, nil)
	}

	chunks, chunkErrs := src.Chunks(resp.ResumeOffset)
	var transferred uint64 = resp.ResumeOffset

	for chunk := range chunks {
		if err := s.sendChunkWithRetry(src.Path, chunk, src.Size); err != nil {
			s.reportFailedTransfer(src.Path, transferred, src.Size, err)
			return err
		}
		transferred = chunk.Offset + uint64(len(chunk.Data))
	}
	if err := <-chunkErrs; err != nil {
		wrapped := apperr.New(apperr.KindIoFailed, "send file: read source chunks", err)
		s.reportFailedTransfer(src.Path, transferred, src.Size, wrapped)
		return wrapped
	}

	complete := wire.TransferComplete{
		Path:             src.Path,
		TotalTransferred: transferred,
		TotalSize:        src.Size,
		FinalDigest:      src.FileDigest.String(),
		OK:               1,
	}
	return wire.WriteFrame(s.conn, wire.MsgTransferComplete, 0, s.assignMessageID(), complete.Encode())
}

// sendChunkWithRetry sends one CHUNK_DATA and waits for a matching
// CHUNK_ACK, retrying up to constants.MaxReconnectionAttempts times
// with exponential backoff when the receiver reports a checksum
// failure or the round trip times out.
func (s *Session) sendChunkWithRetry(path string, chunk Chunk, totalSize uint64) error {
	backoff := s.initialBackoff

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		data := wire.ChunkData{
			Path:        path,
			ChunkOffset: chunk.Offset,
			TotalSize:   totalSize,
			ChunkDigest: chunk.Digest.String(),
			Data:        chunk.Data,
		}
		if err := wire.WriteFrame(s.conn, wire.MsgChunkData, wire.FlagAckRequired, s.assignMessageID(), data.Encode()); err != nil {
			lastErr = err
			continue
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(constants.ReadTimeout)); err != nil {
			lastErr = err
			continue
		}
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			lastErr = err
			continue
		}
		if !s.validateMessageID(frame.Header.MessageID) {
			lastErr = apperr.New(apperr.KindProtocolError, "send chunk: replayed message id", nil)
			continue
		}
		if frame.IsKind(wire.MsgError) {
			lastErr = decodeErrorFrame(frame)
			continue
		}
		if !frame.IsKind(wire.MsgChunkAck) {
			lastErr = apperr.New(apperr.KindProtocolError, "send chunk: unexpected message type", nil)
			continue
		}
		ack, err := wire.DecodeChunkAck(frame.Payload)
		if err != nil {
			lastErr = err
			continue
		}
		if ack.ChunkOffset != chunk.Offset {
			lastErr = apperr.New(apperr.KindProtocolError, "send chunk: ack offset mismatch", nil)
			continue
		}
		if ack.ChecksumValid == 0 {
			lastErr = apperr.New(apperr.KindIntegrityFailed, "send chunk: receiver rejected checksum: "+ack.Error, nil)
			continue
		}
		return nil
	}
	return apperr.New(apperr.KindIoFailed, "send chunk: exhausted retries", lastErr)
}

// Ping sends a PING and waits for the matching PONG, used as a
// connection-liveness probe between file transfers.
func (s *Session) Ping() error {
	ping := wire.PingPong{TimestampMillis: uint64(time.Now().UnixMilli())}
	if err := wire.WriteFrame(s.conn, wire.MsgPing, 0, s.assignMessageID(), ping.Encode()); err != nil {
		return err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(constants.PingTimeout)); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if !s.validateMessageID(frame.Header.MessageID) {
		return apperr.New(apperr.KindProtocolError, "ping: replayed message id", nil)
	}
	if !frame.IsKind(wire.MsgPong) {
		return apperr.New(apperr.KindProtocolError, "ping: unexpected message type", nil)
	}
	_, err = wire.DecodePingPong(frame.Payload)
	return err
}

// reportFailedTransfer tells the receiver a transfer is being
// abandoned, so its ReceiveFile loop does not block forever waiting
// on a chunk that will never arrive. Best-effort: the connection may
// already be unusable, in which case the write error is discarded in
// favor of the original failure.
func (s *Session) reportFailedTransfer(path string, transferred, totalSize uint64, cause error) {
	complete := wire.TransferComplete{
		Path:             path,
		TotalTransferred: transferred,
		TotalSize:        totalSize,
		OK:               0,
		Error:            cause.Error(),
	}
	_ = wire.WriteFrame(s.conn, wire.MsgTransferComplete, 0, s.assignMessageID(), complete.Encode())
}

// respondToPing reads one frame and answers a PING with a PONG
// carrying the same timestamp, the counterpart to Ping on a session's
// read loop.
func (s *Session) respondToPing() error {
	frame, err := wire.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if !s.validateMessageID(frame.Header.MessageID) {
		return apperr.New(apperr.KindProtocolError, "respond to ping: replayed message id", nil)
	}
	if !frame.IsKind(wire.MsgPing) {
		return apperr.New(apperr.KindProtocolError, "respond to ping: unexpected message type", nil)
	}
	ping, err := wire.DecodePingPong(frame.Payload)
	if err != nil {
		return err
	}
	pong := wire.PingPong{TimestampMillis: ping.TimestampMillis}
	return wire.WriteFrame(s.conn, wire.MsgPong, wire.FlagResponse, s.assignMessageID(), pong.Encode())
}

var _ io.Closer = (*Session)(nil)
