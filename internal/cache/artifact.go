// Package cache holds the two precomputed serving artifacts: the
// per-video similarity cache and the diversity-filtered random pool. Both
// follow the same protocol: a background job builds a shadow file, the
// shadow is validated, then an atomic rename promotes it and the in-memory
// snapshot pointer is swapped. The active artifact is never written in
// place, so any failure leaves serving untouched.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ErrValidation marks a shadow build that failed its structural checks and
// must not be promoted.
type ErrValidation struct {
	Artifact string
	Reason   string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("%s artifact validation: %s", e.Artifact, e.Reason)
}

// writeShadow serializes v into a shadow file next to path and returns the
// shadow's name. The caller validates, then promotes with promoteShadow or
// discards with os.Remove.
func writeShadow(path string, v any) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	shadow := fmt.Sprintf("%s.shadow-%d", path, os.Getpid())

	f, err := os.Create(shadow)
	if err != nil {
		return "", fmt.Errorf("create shadow artifact: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(shadow)
		return "", fmt.Errorf("encode shadow artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(shadow)
		return "", fmt.Errorf("sync shadow artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(shadow)
		return "", fmt.Errorf("close shadow artifact: %w", err)
	}
	return shadow, nil
}

// promoteShadow atomically replaces path with the shadow file. Rename
// within one directory is atomic on POSIX filesystems, so readers observe
// either the old or the new artifact, never a mix.
func promoteShadow(shadow, path string) error {
	if err := os.Rename(shadow, path); err != nil {
		os.Remove(shadow)
		return fmt.Errorf("promote artifact: %w", err)
	}
	return nil
}

// readArtifact loads an artifact file into v. A missing file is reported
// via os.IsNotExist so callers can start degraded.
func readArtifact(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode artifact %s: %w", filepath.Base(path), err)
	}
	return nil
}
