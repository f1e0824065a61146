// Package watch notices when a served source file stops matching its index.
//
// The index records the uncompressed source size at build time. Any later
// write that changes that size, or a replacement of the file (new inode, removal,
// rename), makes the index stale. A stale index keeps serving; the watcher
// only reports.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"linedex/internal/logging"
	"linedex/internal/source"
)

// Config configures a Watcher.
type Config struct {
	// Path of the source file.
	Path string

	// SourceSize is the uncompressed size the index was built from.
	SourceSize int64

	// OnStale is called once, the first time the source is seen to differ.
	OnStale func(reason string)

	// PollInterval re-checks the file on a timer as well, for filesystems
	// where notifications are unreliable (NFS, some container mounts).
	// Zero disables polling.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Watcher watches one source file.
type Watcher struct {
	path         string
	size         int64
	onStale      func(reason string)
	pollInterval time.Duration
	logger       *slog.Logger

	inode    uint64
	hasInode bool
	fired    bool
}

// New creates a Watcher. The file's current inode is taken as the baseline.
func New(cfg Config) (*Watcher, error) {
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	w := &Watcher{
		path:         path,
		size:         cfg.SourceSize,
		onStale:      cfg.OnStale,
		pollInterval: cfg.PollInterval,
		logger:       logging.Default(cfg.Logger).With("component", "watch", "source", path),
	}
	w.inode, w.hasInode = getInode(info)
	return w, nil
}

// Check compares the file against the baseline and reports a reason when it
// no longer matches. An empty reason means the file is unchanged.
func (w *Watcher) Check() string {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "source removed"
		}
		return "stat failed: " + err.Error()
	}
	if ino, ok := getInode(info); ok && w.hasInode && ino != w.inode {
		return "source replaced"
	}
	size, err := uncompressedSize(w.path)
	if err != nil {
		return "source unreadable: " + err.Error()
	}
	if size != w.size {
		return fmt.Sprintf("source size changed from %d to %d bytes", w.size, size)
	}
	return ""
}

// uncompressedSize measures the source the way the builder saw it. For a
// seekable-zstd file that is the decompressed length, not the file size.
func uncompressedSize(path string) (int64, error) {
	src, err := source.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()
	return src.Size(), nil
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file so replacement by rename is seen.
func (w *Watcher) Run(ctx context.Context) error {
	// The file may have changed between build and now.
	w.evaluate()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching source", "size", w.size)

	var tickCh <-chan time.Time
	if w.pollInterval > 0 {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.evaluate()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)

		case <-tickCh:
			w.evaluate()
		}
	}
}

func (w *Watcher) evaluate() {
	if w.fired {
		return
	}
	reason := w.Check()
	if reason == "" {
		return
	}
	w.fired = true
	w.logger.Warn("source no longer matches index", "reason", reason)
	if w.onStale != nil {
		w.onStale(reason)
	}
}

// getInode extracts the inode number from file info.
func getInode(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return stat.Ino, true
}
