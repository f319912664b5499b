package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskvault/duskvault/pkg/backup"
	"github.com/duskvault/duskvault/pkg/chunk"
	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/duskvault/duskvault/pkg/store"
)

func newBackupCmd() *cobra.Command {
	var (
		snapshotName string
		strategy     string
		chunkSize    int
		cdcMin       int
		cdcAvg       int
		cdcMax       int
		concurrency  int
		encrypt      bool
	)

	cmd := &cobra.Command{
		Use:   "backup <source-dir>",
		Short: "Back a directory up into a new snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			chunks, meta, err := openStores(log)
			if err != nil {
				return err
			}
			defer chunks.Close()
			defer meta.Close()

			cfg := chunk.Config{FixedSize: chunkSize, MinSize: cdcMin, AvgSize: cdcAvg, MaxSize: cdcMax}
			switch strategy {
			case "fixed":
				cfg.Strategy = chunk.Fixed
			case "cdc":
				cfg.Strategy = chunk.ContentDefined
			default:
				return fmt.Errorf("unknown chunking strategy %q: want \"fixed\" or \"cdc\"", strategy)
			}

			if snapshotName == "" {
				snapshotName = args[0]
			}

			var cs store.ChunkStore = chunks
			var keys collaborator.KeyProvider
			if encrypt {
				keys, err = loadOrCreateMasterKey()
				if err != nil {
					return err
				}
				cs = store.NewEncryptedStore(chunks, keys)
			}

			p := backup.New(cs, meta, nil, log.WithField("component", "backup"))
			result, err := p.Run(context.Background(), args[0], snapshotName, backup.Options{Chunking: cfg, Concurrency: concurrency, KeyProvider: keys})
			if err != nil {
				return err
			}

			fmt.Printf("backed up %d files, %d bytes\n", result.FilesProcessed, result.Bytes)
			for _, e := range result.Errors {
				fmt.Printf("  error: %s: %s: %s\n", e.Path, e.Kind, e.Message)
			}
			if !result.Success {
				return fmt.Errorf("backup completed with %d file errors", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotName, "name", "", "snapshot name (default: the source directory path)")
	cmd.Flags().StringVar(&strategy, "strategy", "fixed", "chunking strategy: fixed or cdc")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunk.DefaultFixedSize, "fixed-strategy chunk size in bytes")
	cmd.Flags().IntVar(&cdcMin, "cdc-min", chunk.DefaultCDCMin, "cdc minimum chunk size in bytes")
	cmd.Flags().IntVar(&cdcAvg, "cdc-avg", chunk.DefaultCDCAvg, "cdc average chunk size in bytes")
	cmd.Flags().IntVar(&cdcMax, "cdc-max", chunk.DefaultCDCMax, "cdc maximum chunk size in bytes")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of files backed up in parallel (default: number of CPUs)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt chunk contents and blind-index file paths for search (key persisted at <data-dir>/master.key)")
	return cmd
}
