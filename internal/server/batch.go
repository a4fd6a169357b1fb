package server

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadBatch returns the references listed in r, one per line. Blank lines
// and lines starting with # are skipped.
func ReadBatch(r io.Reader) ([]string, error) {
	var refs []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return refs, nil
}

// ReadBatchFile opens path and reads it with ReadBatch.
func ReadBatchFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()
	return ReadBatch(f)
}
