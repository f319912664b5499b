package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskvault/duskvault/pkg/backup"
	"github.com/duskvault/duskvault/pkg/chunk"
	"github.com/duskvault/duskvault/pkg/security/noiseik"
	"github.com/duskvault/duskvault/pkg/transfer"
	"github.com/duskvault/duskvault/pkg/transport/selfsigned"
)

func newConnectCmd() *cobra.Command {
	var (
		transportName   string
		peerKeyHex      string
		strategy        string
		chunkSize       int
		admissionToken  string
		admissionKeyHex string
	)

	cmd := &cobra.Command{
		Use:   "connect <addr> <source-dir>",
		Short: "Push a directory to a listening peer over the transfer protocol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if peerKeyHex == "" {
				return fmt.Errorf("--peer-key is required: the key-agreement public key the peer printed when it started serving")
			}
			peerKey, err := hex.DecodeString(peerKeyHex)
			if err != nil {
				return fmt.Errorf("invalid --peer-key: %w", err)
			}

			log := newLogger()

			id, err := loadOrCreateIdentity()
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
			conn, err := tr.Dial(ctx, args[0], tlsConfig)
			if err != nil {
				return err
			}
			defer conn.Close()

			var session *transfer.Session
			if admissionToken != "" {
				signingKey, keyErr := parseAdmissionSigningKey(admissionKeyHex)
				if keyErr != nil {
					return keyErr
				}
				admissionConfig := noiseik.NewAdmissionConfig()
				if err := admissionConfig.AddToken(admissionToken, uint64(defaultAdmissionExpiry.Unix()), nil); err != nil {
					return fmt.Errorf("register admission token: %w", err)
				}
				session, err = transfer.DialSessionWithAdmission(conn, id, transferSessionID, peerKey, admissionConfig, admissionToken, signingKey, 0)
			} else {
				session, err = transfer.DialSession(conn, id, transferSessionID, peerKey, 0)
			}
			if err != nil {
				return err
			}
			defer session.Close()

			cfg := chunk.Config{FixedSize: chunkSize}
			switch strategy {
			case "fixed":
				cfg.Strategy = chunk.Fixed
			case "cdc":
				cfg.Strategy = chunk.ContentDefined
			default:
				return fmt.Errorf("unknown chunking strategy %q: want \"fixed\" or \"cdc\"", strategy)
			}

			result, err := backup.RunRemote(session, args[1], backup.Options{Chunking: cfg})
			if err != nil {
				return err
			}

			log.WithField("files", result.FilesProcessed).WithField("bytes", result.Bytes).Info("remote backup complete")
			fmt.Printf("sent %d files, %d bytes\n", result.FilesProcessed, result.Bytes)
			for _, e := range result.Errors {
				fmt.Printf("  error: %s: %s: %s\n", e.Path, e.Kind, e.Message)
			}
			if !result.Success {
				return fmt.Errorf("remote backup completed with %d file errors", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&transportName, "transport", "tcp", "transport to dial with: tcp or quic")
	cmd.Flags().StringVar(&peerKeyHex, "peer-key", "", "hex key-agreement public key the peer printed when it started serving")
	cmd.Flags().StringVar(&strategy, "strategy", "fixed", "chunking strategy: fixed or cdc (remote sends use fixed-size chunks either way)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunk.DefaultFixedSize, "fixed-strategy chunk size in bytes")
	cmd.Flags().StringVar(&admissionToken, "admission-token", "", "admission token to present to a peer serving with --admission-token (optional)")
	cmd.Flags().StringVar(&admissionKeyHex, "admission-signing-key", "", "hex ed25519 private key used to sign the admission token proof (required if --admission-token is set)")
	return cmd
}

// parseAdmissionSigningKey decodes the hex ed25519 private key used to
// sign an admission token's proof. It accepts either a 32-byte seed or
// the full 64-byte private key, mirroring what `ed25519.GenerateKey` and
// most key-export tooling produce.
func parseAdmissionSigningKey(hexKey string) (ed25519.PrivateKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("--admission-signing-key is required when --admission-token is set")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid --admission-signing-key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("invalid --admission-signing-key: want %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
