package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/duskvault/duskvault/pkg/digest"
)

// indexEntry is one line of the on-disk index file: a digest and the
// relative path of the chunk file it names.
type indexEntry struct {
	digest digest.Digest
	path   string
}

// writeIndexLine appends one "<hex>\t<relative path>\n" line, the
// newline-delimited text format storage/index.txt uses.
func writeIndexLine(w io.Writer, e indexEntry) error {
	_, err := fmt.Fprintf(w, "%s\t%s\n", e.digest.String(), e.path)
	return err
}

// readIndexFile parses every line of the index file at path. A
// missing file is not an error: it means a freshly initialized store.
func readIndexFile(path string) ([]indexEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []indexEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		d, err := digest.Parse(parts[0])
		if err != nil {
			continue
		}
		entries = append(entries, indexEntry{digest: d, path: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
