package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/varalys/lore/cmd/lore/cli/store"
	"github.com/varalys/lore/cmd/lore/cli/watcher"
)

// debounceInterval is how long a watcher's sources must be quiet before a
// rescan runs. Tools write transcripts in bursts.
const debounceInterval = 2 * time.Second

// tickInterval is the debounce check resolution.
const tickInterval = 500 * time.Millisecond

// Loop watches tool data directories and re-imports sources as they change.
type Loop struct {
	store     *store.Store
	machineID string
	watchers  []watcher.Watcher

	// roots maps a watched directory tree to the watcher owning it.
	roots map[string]watcher.Watcher

	// lastScan records when each watcher's sources were last imported;
	// only sources modified after this are re-read.
	lastScan map[string]time.Time

	enabled  func(name string) bool
	debounce time.Duration
}

// NewLoop builds a loop over every watcher whose tool is present and whose
// config toggle is on; a nil predicate enables all.
func NewLoop(st *store.Store, machineID string, enabled func(name string) bool) *Loop {
	l := &Loop{
		store:     st,
		machineID: machineID,
		roots:     make(map[string]watcher.Watcher),
		lastScan:  make(map[string]time.Time),
		enabled:   enabled,
		debounce:  debounceInterval,
	}
	for _, w := range watcher.Available() {
		if enabled != nil && !enabled(w.Info().Name) {
			continue
		}
		l.watchers = append(l.watchers, w)
	}
	for _, w := range l.watchers {
		for _, root := range w.WatchPaths() {
			l.roots[filepath.Clean(root)] = w
		}
	}
	return l
}

// Run imports everything once, then blocks watching for changes until the
// context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if _, err := watcher.Import(ctx, l.store, watcher.ImportOptions{MachineID: l.machineID, Enabled: l.enabled}); err != nil {
		return fmt.Errorf("initial import: %w", err)
	}
	now := time.Now()
	for _, w := range l.watchers {
		l.lastScan[w.Info().Name] = now
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	defer fsw.Close()

	for root := range l.roots {
		if err := addRecursive(fsw, root); err != nil {
			slog.Warn("watching directory failed", "dir", root, "error", err)
		}
	}

	slog.Info("daemon watching", "watchers", len(l.watchers), "roots", len(l.roots))

	// dirty holds the last event time per watcher name.
	dirty := make(map[string]time.Time)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if fi, statErr := os.Stat(event.Name); statErr == nil && fi.IsDir() {
					if err := addRecursive(fsw, event.Name); err != nil {
						slog.Debug("watching new directory failed", "dir", event.Name, "error", err)
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if w := l.ownerOf(event.Name); w != nil {
				dirty[w.Info().Name] = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("fs watcher error", "error", err)

		case <-ticker.C:
			for name, at := range dirty {
				if time.Since(at) < l.debounce {
					continue
				}
				delete(dirty, name)
				l.rescan(ctx, name)
			}
		}
	}
}

// ownerOf maps an event path to the watcher whose tree contains it.
func (l *Loop) ownerOf(path string) watcher.Watcher { //nolint:ireturn
	path = filepath.Clean(path)
	for root, w := range l.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return w
		}
	}
	return nil
}

// rescan re-imports the watcher's sources modified since the last scan.
func (l *Loop) rescan(ctx context.Context, name string) {
	var w watcher.Watcher
	for _, cand := range l.watchers {
		if cand.Info().Name == name {
			w = cand
			break
		}
	}
	if w == nil {
		return
	}

	since := l.lastScan[name]
	l.lastScan[name] = time.Now()

	sources, err := w.FindSources()
	if err != nil {
		slog.Debug("source discovery failed", "watcher", name, "error", err)
		return
	}

	imported := 0
	for _, source := range sources {
		if ctx.Err() != nil {
			return
		}
		fi, statErr := os.Stat(source)
		if statErr != nil || !fi.ModTime().After(since) {
			continue
		}
		if err := watcher.ImportSource(l.store, w, source, l.machineID); err != nil {
			slog.Debug("incremental import failed", "watcher", name, "source", source, "error", err)
			continue
		}
		imported++
	}
	if imported > 0 {
		slog.Info("re-imported changed sources", "watcher", name, "sources", imported)
	}
}

// addRecursive watches dir and every directory below it. fsnotify watches
// are not recursive, and skipped trees follow the import exclusion rules.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		// The root itself may be a hidden tool directory; exclusion rules
		// apply below it only.
		if path != dir && watcher.SkipDir(d.Name()) {
			return fs.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			slog.Debug("adding watch failed", "dir", path, "error", err)
		}
		return nil
	})
}
