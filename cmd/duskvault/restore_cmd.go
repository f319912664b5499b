package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/duskvault/duskvault/pkg/restore"
	"github.com/duskvault/duskvault/pkg/store"
)

func newRestoreCmd() *cobra.Command {
	var (
		overwrite          bool
		verifyDigest       bool
		abortOnIntegrity   bool
		preserveAttributes bool
		concurrency        int
		encrypt            bool
	)

	cmd := &cobra.Command{
		Use:   "restore <snapshot-id> <target-dir>",
		Short: "Restore a snapshot's files into a target directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid snapshot id %q: %w", args[0], err)
			}

			log := newLogger()
			chunks, meta, err := openStores(log)
			if err != nil {
				return err
			}
			defer chunks.Close()
			defer meta.Close()

			policy := restore.ContinueOnIntegrityError
			if abortOnIntegrity {
				policy = restore.AbortOnIntegrityError
			}

			var cs store.ChunkStore = chunks
			if encrypt {
				keys, err := loadOrCreateMasterKey()
				if err != nil {
					return err
				}
				cs = store.NewEncryptedStore(chunks, keys)
			}

			p := restore.New(cs, meta, log.WithField("component", "restore"))
			result, err := p.Run(snapID, args[1], restore.Options{
				OverwriteExisting:  overwrite,
				VerifyDigest:       verifyDigest,
				OnIntegrityError:   policy,
				PreserveAttributes: preserveAttributes,
				Concurrency:        concurrency,
			})
			if err != nil {
				return err
			}

			fmt.Printf("restored %d files (%d bytes), skipped %d\n", result.FilesRestored, result.Bytes, result.FilesSkipped)
			for _, e := range result.Errors {
				fmt.Printf("  error: %s: %s: %s\n", e.Path, e.Kind, e.Message)
			}
			if !result.Success {
				return fmt.Errorf("restore completed with %d file errors", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite files that already exist at the target path")
	cmd.Flags().BoolVar(&verifyDigest, "verify", true, "re-hash each restored file and compare it to its recorded digest")
	cmd.Flags().BoolVar(&abortOnIntegrity, "abort-on-integrity-error", false, "abort the whole restore on the first digest mismatch, instead of skipping just that file")
	cmd.Flags().BoolVar(&preserveAttributes, "preserve-attributes", true, "apply the recorded modification time to each restored file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of files restored in parallel (default: number of CPUs)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "decrypt chunk contents using the master key at <data-dir>/master.key (must match the --encrypt backup that produced this snapshot)")
	return cmd
}
