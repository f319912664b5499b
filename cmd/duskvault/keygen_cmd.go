package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/duskvault/duskvault/pkg/identity"
)

func printIdentity(id *identity.Identity) {
	fmt.Printf("id:       %s\n", id.ID())
	fmt.Printf("peer-key: %s\n", hex.EncodeToString(id.KeyAgreementPublicKey[:]))
}

func newKeygenCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate (or print) this node's identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dataDir, "identity.json")

			if !force {
				if _, err := os.Stat(path); err == nil {
					id, err := identity.LoadFromFile(path)
					if err != nil {
						return err
					}
					printIdentity(id)
					return nil
				}
			}

			id, err := identity.Generate()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return err
			}
			if err := id.SaveToFile(path); err != nil {
				return err
			}
			printIdentity(id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "generate a new identity even if one already exists, overwriting it")
	return cmd
}
