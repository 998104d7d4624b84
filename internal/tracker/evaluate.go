package tracker

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/h2non/filetype"

	"github.com/downloadnotifier/downloadnotifier/internal/classifier"
	"github.com/downloadnotifier/downloadnotifier/internal/notification"
)

// filetype needs at most this many leading bytes to identify a format.
const sniffLen = 261

type outcome struct {
	state State
	size  int64

	reason string
	level  notification.Level
}

func pending() outcome {
	return outcome{state: Pending}
}

func completed(size int64) outcome {
	return outcome{state: Completed, size: size}
}

func abandoned(reason string, level notification.Level) outcome {
	return outcome{state: Abandoned, reason: reason, level: level}
}

type snapshot struct {
	size    int64
	modTime time.Time
}

// evaluate examines d once. It updates the observation fields of d, which
// is a copy owned by the worker.
func (t *Tracker) evaluate(d *Download) outcome {
	name := filepath.Base(d.Path)

	snap, err := t.stat(d)
	if err != nil {
		return t.statFailure(name, err)
	}

	if d.HasExpectedSize() {
		if t.cfg.WithinTolerance(snap.size, d.ExpectedSize) {
			// Runs to completion even when stopping.
			time.Sleep(t.cfg.ConfirmDelay)

			confirm, err := t.stat(d)
			if err != nil {
				return t.statFailure(name, err)
			}
			if t.cfg.WithinTolerance(confirm.size, d.ExpectedSize) {
				return completed(confirm.size)
			}
			return pending()
		}

		if snap.size < d.ExpectedSize {
			t.progress.Update(d.Path, snap.size, d.ExpectedSize)
			return pending()
		}

		if !d.overshootLogged {
			d.overshootLogged = true
			t.sink.Log(fmt.Sprintf("Size of %s (%s bytes) exceeds expected %s bytes, waiting for it to settle",
				name, humanize.Comma(snap.size), humanize.Comma(d.ExpectedSize)), notification.LevelInfo)
		}
		return t.checkStability(d, name)
	}

	if classifier.LooksLikeChatClientFile(d.Path) && t.now().Sub(d.FirstSeenAt) < t.cfg.ChatClientGrace {
		return pending()
	}
	return t.checkStability(d, name)
}

// checkStability takes up to StableChecks snapshots and completes the entry
// once two consecutive ones agree on a non-zero size and modification time
// that is at least SettleTime old.
func (t *Tracker) checkStability(d *Download, name string) outcome {
	var prev *snapshot

	for i := 0; i < t.cfg.StableChecks; i++ {
		if i > 0 && !t.wait(t.cfg.CheckInterval) {
			return pending()
		}

		snap, err := t.stat(d)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && prev != nil {
				t.logger.Debug().Str("path", d.Path).Msg("File moved away after being observed")
				return completed(prev.size)
			}
			return t.statFailure(name, err)
		}

		if prev != nil &&
			snap.size > 0 &&
			snap.size == prev.size &&
			snap.modTime.Equal(prev.modTime) &&
			t.now().Sub(snap.modTime) >= t.cfg.SettleTime {
			return completed(snap.size)
		}
		prev = &snap
	}

	t.sink.Log(fmt.Sprintf("Still changing: %s", name), notification.LevelInfo)
	return pending()
}

func (t *Tracker) stat(d *Download) (snapshot, error) {
	info, err := t.fs.Stat(d.Path)
	if err != nil {
		return snapshot{}, err
	}
	if info.IsDir() {
		return snapshot{}, fmt.Errorf("%s is a directory", d.Path)
	}

	snap := snapshot{size: info.Size(), modTime: info.ModTime()}
	d.LastObservedSize = snap.size
	d.LastObservedModTime = snap.modTime
	return snap, nil
}

func (t *Tracker) statFailure(name string, err error) outcome {
	if errors.Is(err, fs.ErrNotExist) {
		return abandoned(fmt.Sprintf("File no longer exists: %s", name), notification.LevelInfo)
	}
	t.logger.Warn().Err(err).Str("file", name).Msg("Cannot read file")
	return abandoned(fmt.Sprintf("Cannot read %s: %v", name, err), notification.LevelError)
}

// sniff identifies the finished file's format from its leading bytes.
func (t *Tracker) sniff(path string) string {
	f, err := t.fs.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return ""
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
