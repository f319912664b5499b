package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove chunks no longer referenced by any snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			chunks, meta, err := openStores(log)
			if err != nil {
				return err
			}
			defer chunks.Close()
			defer meta.Close()

			live, err := meta.LiveChunks()
			if err != nil {
				return err
			}

			removed, err := chunks.GC(live)
			if err != nil {
				return err
			}

			fmt.Printf("removed %d unreferenced chunks, %d still live\n", removed, len(live))
			return nil
		},
	}
}
