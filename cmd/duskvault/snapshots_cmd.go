package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots stored under the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			chunks, meta, err := openStores(log)
			if err != nil {
				return err
			}
			defer chunks.Close()
			defer meta.Close()

			snapshots, err := meta.ListSnapshots()
			if err != nil {
				return err
			}

			for _, snap := range snapshots {
				fmt.Printf("%s  %-20s  %s  files=%d  bytes=%d\n",
					snap.ID, snap.Name, snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), snap.TotalFiles, snap.TotalBytes)
			}
			return nil
		},
	}
}
