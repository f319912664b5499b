package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/duskvault/duskvault/pkg/identity"
	"github.com/duskvault/duskvault/pkg/metadata"
	"github.com/duskvault/duskvault/pkg/store"
)

var (
	dataDir  string
	logLevel string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "duskvault",
		Short:         "Content-addressed, deduplicating backup engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "directory holding the content store, metadata database, and identity")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newBackupCmd())
	root.AddCommand(newRestoreCmd())
	root.AddCommand(newSnapshotsCmd())
	root.AddCommand(newGCCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newSearchCmd())
	return root
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".duskvault"
	}
	return filepath.Join(home, ".duskvault")
}

func newLogger() *logrus.Logger {
	return collaborator.NewDefaultLogger(logLevel)
}

// openStores opens the content store and metadata store rooted at
// dataDir, creating both if they do not yet exist.
func openStores(log *logrus.Logger) (*store.Store, *metadata.Store, error) {
	chunks, err := store.Open(filepath.Join(dataDir, "content"), log.WithField("component", "store"))
	if err != nil {
		return nil, nil, err
	}
	meta, err := metadata.Open(filepath.Join(dataDir, "metadata.db"), log.WithField("component", "metadata"))
	if err != nil {
		chunks.Close()
		return nil, nil, err
	}
	return chunks, meta, nil
}

// loadOrCreateMasterKey loads the 32-byte encryption master key from
// dataDir/master.key, generating and persisting a random one on first
// use. The same key backs both chunk AEAD sealing (pkg/store's
// EncryptedStore) and path blind-indexing (pkg/metadata's search),
// each deriving its own subkey from it.
func loadOrCreateMasterKey() (collaborator.KeyProvider, error) {
	path := filepath.Join(dataDir, "master.key")

	if data, err := os.ReadFile(path); err == nil {
		raw, decodeErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr != nil || len(raw) != 32 {
			return nil, fmt.Errorf("read master key: malformed key file %s", path)
		}
		var key [32]byte
		copy(key[:], raw)
		return collaborator.NewStaticKeyProvider(key), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key[:])+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	return collaborator.NewStaticKeyProvider(key), nil
}

func loadOrCreateIdentity() (*identity.Identity, error) {
	path := filepath.Join(dataDir, "identity.json")
	if _, err := os.Stat(path); err == nil {
		return identity.LoadFromFile(path)
	}
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	if err := id.SaveToFile(path); err != nil {
		return nil, err
	}
	return id, nil
}
