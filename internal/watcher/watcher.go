// Package watcher turns filesystem notifications into download candidates
// and runs monitoring sessions around the tracker.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Handler receives new-file notifications. Calls are made from the watcher's
// event goroutine and should return quickly.
type Handler interface {
	OnCreated(path string)
	// OnMoved reports a file renamed from src to dst.
	OnMoved(src, dst string)
}

// Config holds watcher configuration.
type Config struct {
	// Recursive enables watching subdirectories, including ones created later.
	Recursive bool

	// RenameWindow is how long a rename waits for the matching create.
	RenameWindow time.Duration
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Recursive:    true,
		RenameWindow: 500 * time.Millisecond,
	}
}

type pendingRename struct {
	path string
	at   time.Time
}

// Watcher monitors directories for new files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	config    Config
	logger    zerolog.Logger
	handler   Handler

	// Tracked paths
	watchedPaths map[string]bool
	pathsMu      sync.RWMutex

	// Only touched by the event loop.
	renamed *pendingRename

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new file watcher.
func New(config Config, logger zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if config.RenameWindow <= 0 {
		config.RenameWindow = DefaultConfig().RenameWindow
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		fsWatcher:    fsWatcher,
		config:       config,
		logger:       logger.With().Str("component", "watcher").Logger(),
		watchedPaths: make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// SetHandler sets the event handler. It must be called before Start.
func (w *Watcher) SetHandler(handler Handler) {
	w.handler = handler
}

// Start begins watching for file events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.eventLoop()
}

// Stop stops the watcher and waits for cleanup.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.fsWatcher.Close()
}

// AddPath adds a directory to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	if w.watchedPaths[absPath] {
		return nil
	}

	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.watchedPaths[absPath] = true

	w.logger.Info().Str("path", absPath).Msg("Added watch path")

	if w.config.Recursive {
		w.addSubdirsLocked(absPath)
	}
	return nil
}

func (w *Watcher) addSubdirsLocked(root string) {
	err := filepath.WalkDir(root, func(subPath string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && subPath != root && !w.watchedPaths[subPath] {
			if err := w.fsWatcher.Add(subPath); err != nil {
				w.logger.Warn().Err(err).Str("path", subPath).Msg("Failed to add subdirectory watch")
				return nil
			}
			w.watchedPaths[subPath] = true
		}
		return nil
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("path", root).Msg("Error walking subdirectories")
	}
}

// RemovePath removes a directory, and its watched subdirectories, from watching.
func (w *Watcher) RemovePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	for watchedPath := range w.watchedPaths {
		if watchedPath == absPath || (w.config.Recursive && isSubPath(watchedPath, absPath)) {
			_ = w.fsWatcher.Remove(watchedPath)
			delete(w.watchedPaths, watchedPath)
		}
	}

	w.logger.Info().Str("path", absPath).Msg("Removed watch path")
	return nil
}

// WatchedPaths returns the currently watched directories, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.pathsMu.RLock()
	defer w.pathsMu.RUnlock()

	paths := make([]string, 0, len(w.watchedPaths))
	for path := range w.watchedPaths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// handleFsEvent forwards file creations. A rename is held until the create
// of its new name arrives so the pair can be reported as a move.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		src := w.takeRename(event.Name)

		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if w.config.Recursive {
				w.pathsMu.Lock()
				if !w.watchedPaths[event.Name] {
					if err := w.fsWatcher.Add(event.Name); err == nil {
						w.watchedPaths[event.Name] = true
					}
				}
				w.addSubdirsLocked(event.Name)
				w.pathsMu.Unlock()
				w.logger.Debug().Str("path", event.Name).Msg("Added new subdirectory to watch")
			}
			return
		}

		if w.handler == nil {
			return
		}
		if src != "" {
			w.logger.Debug().Str("from", src).Str("to", event.Name).Msg("File moved")
			w.handler.OnMoved(src, event.Name)
			return
		}
		w.logger.Debug().Str("path", event.Name).Msg("File created")
		w.handler.OnCreated(event.Name)

	case event.Has(fsnotify.Rename):
		w.forgetDir(event.Name)
		w.renamed = &pendingRename{path: event.Name, at: time.Now()}

	case event.Has(fsnotify.Remove):
		w.forgetDir(event.Name)
	}
}

// forgetDir drops a watched directory that was removed or moved away.
func (w *Watcher) forgetDir(path string) {
	w.pathsMu.RLock()
	watched := w.watchedPaths[path]
	w.pathsMu.RUnlock()

	if !watched {
		return
	}
	if err := w.RemovePath(path); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to forget directory")
	}
}

// takeRename returns the source of a rename that pairs with a create of dst.
func (w *Watcher) takeRename(dst string) string {
	r := w.renamed
	w.renamed = nil
	if r == nil || r.path == dst {
		return ""
	}
	if time.Since(r.at) > w.config.RenameWindow || filepath.Dir(r.path) != filepath.Dir(dst) {
		return ""
	}
	return r.path
}

// isSubPath checks if child is a subdirectory of parent.
func isSubPath(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel) && rel != "."
}
