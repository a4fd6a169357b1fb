package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

const (
	configFileName = "scrape-config.json"
	rawFileName    = "raw.json"
	outDirName     = "out"
)

// Handle owns the resources of one job attempt: a private work directory
// holding the worker config, the raw artifact and the converted output.
type Handle struct {
	RunID      string
	Dir        string
	ConfigPath string
	RawPath    string
	OutDir     string

	closeOnce sync.Once
	closeErr  error
}

// OpenHandle creates a fresh work directory under root.
func OpenHandle(root, runID string) (*Handle, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "run-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	out := filepath.Join(dir, outDirName)
	if err := os.Mkdir(out, 0o750); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Handle{
		RunID:      runID,
		Dir:        dir,
		ConfigPath: filepath.Join(dir, configFileName),
		RawPath:    filepath.Join(dir, rawFileName),
		OutDir:     out,
	}, nil
}

// WriteConfig serializes the worker request into the handle's config file.
func (h *Handle) WriteConfig(req scrape.Request) error {
	return scrape.WriteRequest(h.ConfigPath, req)
}

// RemoveConfig deletes the config file; a missing file is not an error.
func (h *Handle) RemoveConfig() error {
	if err := os.Remove(h.ConfigPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove worker config: %w", err)
	}
	return nil
}

// Close removes the work directory. It is safe to call multiple times.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if err := os.RemoveAll(h.Dir); err != nil {
			h.closeErr = fmt.Errorf("remove work dir: %w", err)
		}
	})
	return h.closeErr
}
