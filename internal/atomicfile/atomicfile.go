// Package atomicfile replaces files with temp file + fsync + rename so readers
// never observe a partially written playlist or cache.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer buffers writes into a temp file next to the target.
// Commit renames it over the target; Abort discards it.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	perm    os.FileMode
}

// NewWriter creates the target directory if needed and opens a temp file in it.
func NewWriter(path string, perm os.FileMode) (*Writer, error) {
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("atomicfile: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("atomicfile: create temp: %w", err)
	}
	return &Writer{path: path, tmpPath: tmp.Name(), file: tmp, perm: perm}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit syncs the temp file and renames it over the target.
func (w *Writer) Commit() error {
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("atomicfile: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("atomicfile: close: %w", err)
	}
	if w.perm != 0 {
		if err := os.Chmod(w.tmpPath, w.perm); err != nil {
			os.Remove(w.tmpPath)
			return fmt.Errorf("atomicfile: chmod: %w", err)
		}
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("atomicfile: rename: %w", err)
	}
	return nil
}

// Abort discards the temp file. Safe to call after a failed Commit.
func (w *Writer) Abort() {
	w.file.Close()
	os.Remove(w.tmpPath)
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	w, err := NewWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return fmt.Errorf("atomicfile: write: %w", err)
	}
	return w.Commit()
}
