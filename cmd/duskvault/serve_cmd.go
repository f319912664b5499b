package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/constants"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/identity"
	"github.com/duskvault/duskvault/pkg/metadata"
	"github.com/duskvault/duskvault/pkg/security/noiseik"
	"github.com/duskvault/duskvault/pkg/store"
	"github.com/duskvault/duskvault/pkg/transfer"
	"github.com/duskvault/duskvault/pkg/transport"
	"github.com/duskvault/duskvault/pkg/transport/quic"
	"github.com/duskvault/duskvault/pkg/transport/selfsigned"
	"github.com/duskvault/duskvault/pkg/transport/tcp"
)

const (
	alpnProtocol      = "duskvault/1"
	transferSessionID = "duskvault-transfer"
)

// defaultAdmissionExpiry is the admission-token expiry both serve and
// connect register a --admission-token under when the operator supplies
// no other coordination. Client and server sign/verify the same
// token:sessionID:expiry message, so both sides must agree on it.
var defaultAdmissionExpiry = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

func resolveTransport(name string) (transport.Transport, error) {
	switch name {
	case "tcp":
		return tcp.New(), nil
	case "quic":
		return quic.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: want \"tcp\" or \"quic\"", name)
	}
}

func newServeCmd() *cobra.Command {
	var (
		transportName   string
		addr            string
		snapshotName    string
		admissionToken  string
		admissionVerify string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept incoming backup sessions and store what peers send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			chunks, meta, err := openStores(log)
			if err != nil {
				return err
			}
			defer chunks.Close()
			defer meta.Close()

			id, err := loadOrCreateIdentity()
			if err != nil {
				return err
			}

			admissionConfig, tokenPublicKey, err := buildServerAdmission(admissionToken, admissionVerify)
			if err != nil {
				return err
			}

			tr, err := resolveTransport(transportName)
			if err != nil {
				return err
			}
			tlsConfig, err := selfsigned.Config(alpnProtocol)
			if err != nil {
				return err
			}

			ctx := context.Background()
			listener, err := tr.Listen(ctx, addr, tlsConfig)
			if err != nil {
				return err
			}
			defer listener.Close()

			log.WithField("addr", listener.Addr().String()).
				WithField("transport", transportName).
				WithField("identity", id.ID()).
				WithField("peer-key", hex.EncodeToString(id.KeyAgreementPublicKey[:])).
				Info("listening for backup sessions")

			for {
				conn, err := listener.Accept(ctx)
				if err != nil {
					return err
				}
				go handleIncomingSession(conn, id, chunks, meta, snapshotName, admissionConfig, tokenPublicKey, log)
			}
		},
	}

	cmd.Flags().StringVar(&transportName, "transport", "tcp", "transport to listen on: tcp or quic")
	cmd.Flags().StringVar(&addr, "listen", fmt.Sprintf(":%d", constants.DefaultTransferPort), "address to listen on")
	cmd.Flags().StringVar(&snapshotName, "name", "remote", "snapshot name under which incoming files are recorded")
	cmd.Flags().StringVar(&admissionToken, "admission-token", "", "require connecting clients to present this admission token (optional)")
	cmd.Flags().StringVar(&admissionVerify, "admission-verify-key", "", "hex ed25519 public key used to verify --admission-token proofs (required if --admission-token is set)")
	return cmd
}

// buildServerAdmission turns the --admission-token/--admission-verify-key
// flags into the AdmissionConfig and verification key AcceptSessionWithAdmission
// needs, or returns a nil config when admission control is left disabled.
func buildServerAdmission(token, verifyKeyHex string) (*noiseik.AdmissionConfig, ed25519.PublicKey, error) {
	if token == "" {
		return nil, nil, nil
	}
	if verifyKeyHex == "" {
		return nil, nil, fmt.Errorf("--admission-verify-key is required when --admission-token is set")
	}
	raw, err := hex.DecodeString(verifyKeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --admission-verify-key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("invalid --admission-verify-key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	cfg := noiseik.NewAdmissionConfig()
	cfg.RequireToken = true
	if err := cfg.AddToken(token, uint64(defaultAdmissionExpiry.Unix()), nil); err != nil {
		return nil, nil, fmt.Errorf("register admission token: %w", err)
	}
	return cfg, ed25519.PublicKey(raw), nil
}

func handleIncomingSession(conn transport.Conn, id *identity.Identity, chunks *store.Store, meta *metadata.Store, snapshotName string, admissionConfig *noiseik.AdmissionConfig, tokenPublicKey ed25519.PublicKey, log *logrus.Logger) {
	defer conn.Close()

	var session *transfer.Session
	var err error
	if admissionConfig != nil {
		session, err = transfer.AcceptSessionWithAdmission(conn, id, transferSessionID, admissionConfig, tokenPublicKey, 0)
	} else {
		session, err = transfer.AcceptSession(conn, id, transferSessionID, 0)
	}
	if err != nil {
		log.WithError(err).Warn("session handshake failed")
		return
	}

	snap, err := meta.CreateSnapshot(snapshotName, "received from "+session.RemoteID())
	if err != nil {
		log.WithError(err).Warn("failed to create snapshot for incoming session")
		return
	}

	for {
		err := session.ReceiveFile(func(in transfer.IncomingFile) (transfer.FileSink, error) {
			return newChunkSink(chunks, meta, snap.ID, in), nil
		})
		if err != nil {
			if !apperr.OfKind(err, apperr.KindIoFailed) {
				log.WithError(err).Warn("receive file session ended")
			}
			return
		}
	}
}

// chunkSink is the receiving side's FileSink: it persists each
// verified chunk into the local content store as it arrives and, once
// the sender reports completion, records the assembled file against
// the snapshot it belongs to.
type chunkSink struct {
	chunks     *store.Store
	meta       *metadata.Store
	snapshotID uuid.UUID
	file       transfer.IncomingFile

	entries []chunkEntry
}

type chunkEntry struct {
	offset uint64
	digest digest.Digest
	size   uint64
}

func newChunkSink(chunks *store.Store, meta *metadata.Store, snapshotID uuid.UUID, in transfer.IncomingFile) *chunkSink {
	return &chunkSink{chunks: chunks, meta: meta, snapshotID: snapshotID, file: in}
}

func (c *chunkSink) ResumeOffset() (uint64, error) {
	return 0, nil
}

func (c *chunkSink) WriteChunk(offset uint64, data []byte) error {
	d, err := c.chunks.Put(data)
	if err != nil {
		return err
	}
	c.entries = append(c.entries, chunkEntry{offset: offset, digest: d, size: uint64(len(data))})
	return nil
}

func (c *chunkSink) Finalize(totalTransferred uint64, finalDigest digest.Digest) error {
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].offset < c.entries[j].offset })

	chunkList := make([]digest.Digest, len(c.entries))
	chunkSizes := make([]uint64, len(c.entries))
	for i, e := range c.entries {
		chunkList[i] = e.digest
		chunkSizes[i] = e.size
	}

	rec := metadata.FileRecord{
		SnapshotID: c.snapshotID,
		Path:       c.file.Path,
		Size:       totalTransferred,
		ModifiedAt: time.Unix(int64(c.file.Mtime), 0).UTC(),
		FileDigest: finalDigest,
		ChunkList:  chunkList,
		ChunkSizes: chunkSizes,
	}
	_, err := c.meta.InsertFile(rec)
	return err
}
