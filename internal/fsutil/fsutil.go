// Package fsutil provides small filesystem helpers shared by the
// persisted-record writers (calibration profiles, lock records): atomic
// write-then-rename so readers never observe a partial file, and a
// close-with-logged-error helper for defer sites.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"jouletrace/internal/logging"
)

const (
	// DefaultStatePermissions is the permission for state directories.
	DefaultStatePermissions = 0o750
	// DefaultFilePermissions is the permission for state files.
	DefaultFilePermissions = 0o600
)

// EnsureStateDirectory creates the state directory if it doesn't exist.
func EnsureStateDirectory(path string) error {
	if err := os.MkdirAll(path, DefaultStatePermissions); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}

// AtomicWriteFile writes data to path by first writing to path+".tmp" and
// renaming it into place, so readers never observe a partially written
// file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode, logger *logging.Logger) error {
	dir := filepath.Dir(path)
	if err := EnsureStateDirectory(dir); err != nil {
		return err
	}

	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			if logger != nil {
				logger.Warn("fsutil.cleanup_failed", "failed to remove temp file", map[string]interface{}{
					"path":  tmpPath,
					"error": removeErr.Error(),
				})
			}
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// CloseWithError closes a resource and logs any error if a logger is
// provided. Useful in defer statements where close errors should not be
// silently dropped but also should not fail the caller.
func CloseWithError(closer func() error, logger *logging.Logger, resource string) {
	if err := closer(); err != nil {
		if logger != nil {
			logger.Warn("fsutil.close_failed", fmt.Sprintf("failed to close %s", resource), map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
