package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSearchCmd finds files across every snapshot by matching blind-
// index tokens derived from the query, the same way backup --encrypt
// derived tokens from each file's path at insert time. It never sees
// or needs a plaintext path to search by.
func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find files across all snapshots by blind-indexed path tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			chunks, meta, err := openStores(log)
			if err != nil {
				return err
			}
			defer chunks.Close()
			defer meta.Close()

			keys, err := loadOrCreateMasterKey()
			if err != nil {
				return err
			}

			matches, err := meta.SearchFiles(keys, args[0])
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, rec := range matches {
				fmt.Printf("%s  snapshot=%s  digest=%s\n", rec.Path, rec.SnapshotID, rec.FileDigest)
			}
			return nil
		},
	}
	return cmd
}
