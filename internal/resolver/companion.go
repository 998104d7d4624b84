package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Companion files are small; anything past this is not metadata.
const maxCompanionBytes = 1 << 20

var companionExtensions = []string{".info", ".meta", ".json"}

// CompanionStrategy reads sibling metadata files written next to a download.
type CompanionStrategy struct {
	fs afero.Fs
}

func NewCompanionStrategy(fs afero.Fs) *CompanionStrategy {
	return &CompanionStrategy{fs: fs}
}

func (s *CompanionStrategy) Name() string { return "companion file" }

func (s *CompanionStrategy) Resolve(ctx context.Context, req Request) (int64, error) {
	var errs []error
	for _, candidate := range CompanionCandidates(req.Path) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		data, err := readLimited(s.fs, candidate, maxCompanionBytes)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("read %s: %w", filepath.Base(candidate), err))
			}
			continue
		}
		if size, ok := ParseSize(data); ok {
			return size, nil
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, ErrUnknownSize
}

// CompanionCandidates lists the sibling metadata paths checked for path, in
// priority order.
func CompanionCandidates(path string) []string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	bases := []string{name}
	if stem != "" && stem != name {
		bases = append(bases, stem)
	}

	var prefixed []string
	for _, prefix := range []string{"", "."} {
		for _, base := range bases {
			if prefix != "" && strings.HasPrefix(base, prefix) {
				continue
			}
			prefixed = append(prefixed, prefix+base)
		}
	}

	seen := map[string]bool{filepath.Clean(path): true}
	candidates := make([]string, 0, len(prefixed)*len(companionExtensions))
	for _, base := range prefixed {
		for _, ext := range companionExtensions {
			candidate := filepath.Join(dir, base+ext)
			if seen[candidate] {
				continue
			}
			seen[candidate] = true
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

func readLimited(fs afero.Fs, path string, limit int64) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	return io.ReadAll(io.LimitReader(f, limit))
}
