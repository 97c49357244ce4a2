package worksteps

import (
	"fmt"
	"os"
	"path/filepath"
)

// atomicWriteFile mirrors internal/scratchpad's temp-file-then-rename
// write.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("worksteps: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".result-*")
	if err != nil {
		return fmt.Errorf("worksteps: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("worksteps: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("worksteps: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("worksteps: close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
