// Package health validates the directories a monitoring session is asked to
// watch.
package health

import (
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemChecker provides filesystem health checks.
type FilesystemChecker struct{}

// NewFilesystemChecker creates a new filesystem checker.
func NewFilesystemChecker() *FilesystemChecker {
	return &FilesystemChecker{}
}

// CheckFolderAccessible verifies that a path exists and is a directory.
func (c *FilesystemChecker) CheckFolderAccessible(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", path)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied: %s", path)
		}
		return fmt.Errorf("cannot access path: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// FolderResult is the outcome of validating one configured directory.
type FolderResult struct {
	Path string
	Err  error
}

// CheckFolders validates every path, returning the usable absolute paths
// (duplicates removed, input order kept) and the rejected ones.
func (c *FilesystemChecker) CheckFolders(paths []string) (valid []string, invalid []FolderResult) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if err := c.CheckFolderAccessible(p); err != nil {
			invalid = append(invalid, FolderResult{Path: p, Err: err})
			continue
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			invalid = append(invalid, FolderResult{Path: p, Err: fmt.Errorf("cannot resolve path: %w", err)})
			continue
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		valid = append(valid, abs)
	}
	return valid, invalid
}
