package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var errAlreadyWatching = errors.New("another downloadnotifier instance is already watching")

// acquireLock takes the single-instance lock at path. The returned function
// releases it.
func acquireLock(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errAlreadyWatching
	}
	return lock.Unlock, nil
}
