// Command duskvault is the CLI front end for the content-addressed
// backup engine: it opens the content and metadata stores rooted at a
// data directory and drives backup, restore, garbage collection,
// integrity verification, and the transfer-protocol server/client
// against them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
