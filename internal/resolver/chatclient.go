package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	_ "modernc.org/sqlite"

	"github.com/downloadnotifier/downloadnotifier/internal/classifier"
)

// StoreQuery is a guess at the chat client's download table. The real schema
// is not documented, so a mismatch simply yields no answer.
const StoreQuery = `SELECT size FROM downloads WHERE filename LIKE ? LIMIT 1`

// ChatClientStrategy looks for size metadata left by a desktop chat client
// that downloads into opaque, extension-less file names.
type ChatClientStrategy struct {
	fs         afero.Fs
	storePath  string
	queryStore bool
}

// NewChatClientStrategy creates the strategy. storePath is the location
// returned by DiscoverStore and is never changed afterwards.
func NewChatClientStrategy(fs afero.Fs, storePath string, queryStore bool) *ChatClientStrategy {
	return &ChatClientStrategy{
		fs:         fs,
		storePath:  storePath,
		queryStore: queryStore,
	}
}

func (s *ChatClientStrategy) Name() string { return "chat client metadata" }

// StorePath returns the discovered store location, or "".
func (s *ChatClientStrategy) StorePath() string { return s.storePath }

func (s *ChatClientStrategy) Resolve(ctx context.Context, req Request) (int64, error) {
	if !classifier.LooksLikeChatClientFile(req.Path) {
		return 0, ErrUnknownSize
	}

	var errs []error

	size, err := s.fromSiblings(req.Path)
	if err == nil {
		return size, nil
	}
	if !errors.Is(err, ErrUnknownSize) {
		errs = append(errs, err)
	}

	if s.queryStore && strings.HasSuffix(strings.ToLower(s.storePath), ".db") {
		size, err := s.lookupStore(ctx, filepath.Base(req.Path))
		if err == nil {
			return size, nil
		}
		if !errors.Is(err, ErrUnknownSize) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, ErrUnknownSize
}

func (s *ChatClientStrategy) fromSiblings(path string) (int64, error) {
	dir := filepath.Dir(path)
	name := filepath.Base(path)

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	for _, entry := range entries {
		n := entry.Name()
		if entry.IsDir() || n == name || !strings.HasPrefix(n, name) {
			continue
		}
		lower := strings.ToLower(n)
		if !strings.HasSuffix(lower, ".json") && !strings.HasSuffix(lower, ".info") {
			continue
		}

		data, err := readLimited(s.fs, filepath.Join(dir, n), maxCompanionBytes)
		if err != nil {
			continue
		}
		if size, ok := ParseSize(data); ok {
			return size, nil
		}
	}
	return 0, ErrUnknownSize
}

// lookupStore checks for the store through the injected filesystem; sqlite
// itself always opens the real file.
func (s *ChatClientStrategy) lookupStore(ctx context.Context, name string) (int64, error) {
	if _, err := s.fs.Stat(s.storePath); err != nil {
		return 0, ErrUnknownSize
	}

	db, err := sql.Open("sqlite", "file:"+s.storePath+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var raw any
	err = db.QueryRowContext(ctx, StoreQuery, "%"+name+"%").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownSize
	}
	if err != nil {
		return 0, fmt.Errorf("query store: %w", err)
	}

	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	size, ok := toSize(raw)
	if !ok {
		return 0, ErrUnknownSize
	}
	return size, nil
}

var storeRoots = []string{
	filepath.Join("AppData", "Roaming", "Telegram Desktop", "tdata"),
	filepath.Join(".local", "share", "TelegramDesktop", "tdata"),
	filepath.Join("Library", "Application Support", "Telegram Desktop", "tdata"),
}

var errStoreFound = errors.New("store found")

// DiscoverStore returns the chat client's database file under home, the
// client's data directory when no database file is found, or "" when the
// client is not installed.
func DiscoverStore(fs afero.Fs, home string) string {
	if home == "" {
		return ""
	}

	for _, rel := range storeRoots {
		root := filepath.Join(home, rel)
		info, err := fs.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}

		var found string
		_ = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			lower := strings.ToLower(info.Name())
			if strings.HasSuffix(lower, ".db") &&
				(strings.Contains(lower, "data") || strings.Contains(lower, "downloads")) {
				found = path
				return errStoreFound
			}
			return nil
		})
		if found != "" {
			return found
		}
		return root
	}
	return ""
}
