package transfer

import (
	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/wire"
)

// IncomingFile describes the file header a receiver learned from a
// FILE_TRANSFER_REQUEST, before any chunk has arrived.
type IncomingFile struct {
	Path        string
	Size        uint64
	Mtime       uint64
	FileDigest  digest.Digest
	ChunkSize   uint32
	Compression string
}

// FileSink receives chunks for one incoming file in order and
// persists them; ResumeOffset reports how much of the file the sink
// already holds and has verified, so the sender can skip ahead.
type FileSink interface {
	ResumeOffset() (uint64, error)
	WriteChunk(offset uint64, data []byte) error
	Finalize(totalTransferred uint64, finalDigest digest.Digest) error
}

// ReceiveFile drives the receiver side of one file transfer: it reads
// the FILE_TRANSFER_REQUEST, asks open to accept or reject it and to
// report a resume offset, then loops on CHUNK_DATA verifying each
// chunk_digest before acknowledging it, until TRANSFER_COMPLETE.
func (s *Session) ReceiveFile(open func(IncomingFile) (FileSink, error)) error {
	frame, err := wire.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if !s.validateMessageID(frame.Header.MessageID) {
		return apperr.New(apperr.KindProtocolError, "receive file: replayed message id", nil)
	}
	if !frame.IsKind(wire.MsgFileTransferRequest) {
		return apperr.New(apperr.KindProtocolError, "receive file: unexpected message type", nil)
	}
	req, err := wire.DecodeFileTransferRequest(frame.Payload)
	if err != nil {
		return err
	}
	fileDigest, err := digest.Parse(req.FileDigest)
	if err != nil {
		return s.rejectTransfer(req.Path, "malformed file digest")
	}

	sink, openErr := open(IncomingFile{
		Path:        req.Path,
		Size:        req.Size,
		Mtime:       req.Mtime,
		FileDigest:  fileDigest,
		ChunkSize:   req.ChunkSize,
		Compression: req.Compression,
	})
	if openErr != nil {
		return s.rejectTransfer(req.Path, openErr.Error())
	}

	resumeOffset, err := sink.ResumeOffset()
	if err != nil {
		return s.rejectTransfer(req.Path, "resume check failed")
	}

	resp := wire.FileTransferResponse{
		Accepted:           1,
		ResumeOffset:       resumeOffset,
		PreferredChunkSize: maxChunkSizeOrDefault(req.ChunkSize),
	}
	if err := wire.WriteFrame(s.conn, wire.MsgFileTransferResponse, wire.FlagResponse, s.assignMessageID(), resp.Encode()); err != nil {
		return err
	}

	for {
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			return err
		}
		if !s.validateMessageID(frame.Header.MessageID) {
			return apperr.New(apperr.KindProtocolError, "receive file: replayed message id", nil)
		}

		if frame.IsKind(wire.MsgTransferComplete) {
			complete, err := wire.DecodeTransferComplete(frame.Payload)
			if err != nil {
				return err
			}
			if complete.OK == 0 {
				return apperr.New(apperr.KindProtocolError, "receive file: sender reported failure: "+complete.Error, nil)
			}
			finalDigest, err := digest.Parse(complete.FinalDigest)
			if err != nil {
				return apperr.New(apperr.KindProtocolError, "receive file: malformed final digest", err)
			}
			return sink.Finalize(complete.TotalTransferred, finalDigest)
		}

		if !frame.IsKind(wire.MsgChunkData) {
			return apperr.New(apperr.KindProtocolError, "receive file: unexpected message type", nil)
		}
		chunk, err := wire.DecodeChunkData(frame.Payload)
		if err != nil {
			return err
		}

		ack := wire.ChunkAck{Path: chunk.Path, ChunkOffset: chunk.ChunkOffset, ChunkSize: uint32(len(chunk.Data))}

		wantDigest, digestErr := digest.Parse(chunk.ChunkDigest)
		gotDigest := digest.Bytes(chunk.Data)
		switch {
		case digestErr != nil:
			ack.ChecksumValid = 0
			ack.Error = "malformed chunk digest"
		case !gotDigest.Equal(wantDigest):
			ack.ChecksumValid = 0
			ack.Error = "chunk digest mismatch"
		default:
			if err := sink.WriteChunk(chunk.ChunkOffset, chunk.Data); err != nil {
				ack.ChecksumValid = 0
				ack.Error = "write failed"
			} else {
				ack.ChecksumValid = 1
			}
		}

		if err := wire.WriteFrame(s.conn, wire.MsgChunkAck, wire.FlagResponse, s.assignMessageID(), ack.Encode()); err != nil {
			return err
		}
	}
}

func (s *Session) rejectTransfer(path, reason string) error {
	resp := wire.FileTransferResponse{Accepted: 0, Reason: reason}
	return wire.WriteFrame(s.conn, wire.MsgFileTransferResponse, wire.FlagResponse, s.assignMessageID(), resp.Encode())
}
