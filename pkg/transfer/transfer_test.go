package transfer

import (
	"crypto/tls"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/identity"
)

// pipeConn adapts a net.Conn (as produced by net.Pipe) to
// transport.Conn so the handshake and transfer state machines can be
// exercised without a real TLS listener.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) ConnectionState() tls.ConnectionState { return tls.ConnectionState{} }

func newPipe() (pipeConn, pipeConn) {
	a, b := net.Pipe()
	return pipeConn{a}, pipeConn{b}
}

func mustGenerate(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func establishSessions(t *testing.T) (client *Session, server *Session) {
	t.Helper()
	clientConn, serverConn := newPipe()
	clientID := mustGenerate(t)
	serverID := mustGenerate(t)

	var wg sync.WaitGroup
	wg.Add(2)

	var clientErr, serverErr error
	go func() {
		defer wg.Done()
		client, clientErr = DialSession(clientConn, clientID, "session-1", serverID.KeyAgreementPublicKey[:], 0x1)
	}()
	go func() {
		defer wg.Done()
		server, serverErr = AcceptSession(serverConn, serverID, "session-1", 0x1)
	}()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("dial session: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("accept session: %v", serverErr)
	}
	return client, server
}

func TestSessionHandshakeNegotiatesCapabilities(t *testing.T) {
	client, server := establishSessions(t)
	defer client.Close()
	defer server.Close()

	if client.MaxChunkSize() == 0 {
		t.Fatalf("expected nonzero negotiated max chunk size")
	}
	if server.RemoteID() == "" || client.RemoteID() == "" {
		t.Fatalf("expected both sides to learn a remote id")
	}
}

// memorySink is a FileSink backed by a byte slice, for exercising
// ReceiveFile without touching disk.
type memorySink struct {
	mu       sync.Mutex
	data     []byte
	resumeAt uint64
	final    digest.Digest
	done     bool
}

func (m *memorySink) ResumeOffset() (uint64, error) { return m.resumeAt, nil }

func (m *memorySink) WriteChunk(offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset+uint64(len(data)) > uint64(len(m.data)) {
		grown := make([]byte, offset+uint64(len(data)))
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *memorySink) Finalize(totalTransferred uint64, finalDigest digest.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.final = finalDigest
	m.done = true
	return nil
}

func chunkFileContent(content []byte, chunkSize int) func(resumeFrom uint64) (<-chan Chunk, <-chan error) {
	return func(resumeFrom uint64) (<-chan Chunk, <-chan error) {
		chunks := make(chan Chunk)
		errs := make(chan error, 1)
		go func() {
			defer close(chunks)
			for offset := int(resumeFrom); offset < len(content); offset += chunkSize {
				end := offset + chunkSize
				if end > len(content) {
					end = len(content)
				}
				data := content[offset:end]
				chunks <- Chunk{Offset: uint64(offset), Data: data, Digest: digest.Bytes(data)}
			}
			errs <- nil
		}()
		return chunks, errs
	}
}

func TestSendAndReceiveFileRoundTrip(t *testing.T) {
	client, server := establishSessions(t)
	defer client.Close()
	defer server.Close()

	content := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk")
	fileDigest := digest.Bytes(content)
	sink := &memorySink{}

	var wg sync.WaitGroup
	wg.Add(2)

	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = client.SendFile(FileSource{
			Path:       "/backup/sample.txt",
			Size:       uint64(len(content)),
			FileDigest: fileDigest,
			ChunkSize:  8,
			Chunks:     chunkFileContent(content, 8),
		})
	}()
	go func() {
		defer wg.Done()
		recvErr = server.ReceiveFile(func(f IncomingFile) (FileSink, error) {
			return sink, nil
		})
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("send file: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receive file: %v", recvErr)
	}
	if string(sink.data) != string(content) {
		t.Fatalf("received content mismatch: got %q, want %q", sink.data, content)
	}
	if !sink.done {
		t.Fatalf("expected sink to be finalized")
	}
	if !sink.final.Equal(fileDigest) {
		t.Fatalf("final digest mismatch")
	}
}

func TestSendFileHonoursResumeOffset(t *testing.T) {
	client, server := establishSessions(t)
	defer client.Close()
	defer server.Close()

	content := []byte("0123456789abcdef0123456789abcdef")
	fileDigest := digest.Bytes(content)
	sink := &memorySink{resumeAt: 16, data: append([]byte{}, content[:16]...)}

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = client.SendFile(FileSource{
			Path:       "/backup/resume.txt",
			Size:       uint64(len(content)),
			FileDigest: fileDigest,
			ChunkSize:  8,
			Chunks:     chunkFileContent(content, 8),
		})
	}()
	go func() {
		defer wg.Done()
		recvErr = server.ReceiveFile(func(f IncomingFile) (FileSink, error) {
			return sink, nil
		})
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("send file: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("receive file: %v", recvErr)
	}
	if string(sink.data) != string(content) {
		t.Fatalf("resumed content mismatch: got %q, want %q", sink.data, content)
	}
}

func TestReceiveFileRejectsBadChunkDigest(t *testing.T) {
	client, server := establishSessions(t)
	defer client.Close()
	defer server.Close()
	client.SetRetryPolicy(2, time.Millisecond, 4*time.Millisecond)

	content := []byte("abcdefgh")
	fileDigest := digest.Bytes(content)

	badChunks := func(resumeFrom uint64) (<-chan Chunk, <-chan error) {
		chunks := make(chan Chunk, 1)
		errs := make(chan error, 1)
		chunks <- Chunk{Offset: 0, Data: content, Digest: digest.Bytes([]byte("wrong"))}
		close(chunks)
		errs <- nil
		return chunks, errs
	}

	sink := &memorySink{}

	var wg sync.WaitGroup
	wg.Add(2)
	var sendErr, recvErr error
	go func() {
		defer wg.Done()
		sendErr = client.SendFile(FileSource{
			Path:       "/backup/bad.txt",
			Size:       uint64(len(content)),
			FileDigest: fileDigest,
			ChunkSize:  8,
			Chunks:     badChunks,
		})
	}()
	go func() {
		defer wg.Done()
		recvErr = server.ReceiveFile(func(f IncomingFile) (FileSink, error) {
			return sink, nil
		})
	}()
	wg.Wait()

	if sendErr == nil {
		t.Fatalf("expected send to fail after exhausting retries on persistent checksum mismatch")
	}
	if recvErr == nil {
		t.Fatalf("expected receive to observe a failed transfer")
	}
}

func TestPingPong(t *testing.T) {
	client, server := establishSessions(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- server.respondToPing() }()

	if err := client.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side of ping: %v", err)
	}
}

func TestMaxChunkSizeOrDefault(t *testing.T) {
	if got := maxChunkSizeOrDefault(0); got == 0 {
		t.Fatalf("expected a nonzero default")
	}
	if got := maxChunkSizeOrDefault(1 << 30); got == 1<<30 {
		t.Fatalf("expected an oversized request to be clamped")
	}
}
