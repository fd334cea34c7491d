package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/me/prodgraph/internal/logging"
)

// DefaultDebounce is how long the watcher waits for more events before
// reporting a batch.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changed paths below a project root. Events are debounced
// into batches; each batch lists the changed paths and their parent
// directories, whose listings change when entries appear or vanish.
type Watcher struct {
	tree     *FileSystemProjectTree
	watcher  *fsnotify.Watcher
	onChange func([]Path)
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[Path]struct{}
	timer   *time.Timer
	done    chan struct{}
	closed  bool
}

// NewWatcher watches every directory of tree. onChange is called from the
// watcher's goroutine, one batch at a time.
func NewWatcher(tree *FileSystemProjectTree, debounce time.Duration, onChange func([]Path), logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{
		tree:     tree,
		watcher:  fw,
		onChange: onChange,
		debounce: debounce,
		logger:   logging.Component(logger, "watcher"),
		pending:  make(map[Path]struct{}),
		done:     make(chan struct{}),
	}
	if err := w.addDirsRecursive(tree.Root()); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers change batches until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	batches := make(chan []Path, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch := <-batches:
			w.onChange(batch)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev, batches)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if !w.closed {
		w.closed = true
		close(w.done)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) handle(ev fsnotify.Event, batches chan<- []Path) {
	if shouldIgnore(ev.Name) {
		return
	}
	p, err := w.tree.Rel(ev.Name)
	if err != nil {
		w.logger.Debug("event outside root", "path", ev.Name)
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addDirsRecursive(ev.Name); err != nil {
				w.logger.Warn("watch new directory", "dir", ev.Name, "error", err)
			}
		}
	}
	w.logger.Debug("change", "path", p, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[p] = struct{}{}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.pending[p.Dir()] = struct{}{}
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		batch := make([]Path, 0, len(w.pending))
		for p := range w.pending {
			batch = append(batch, p)
		}
		w.pending = make(map[Path]struct{})
		w.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })
		select {
		case batches <- batch:
		case <-w.done:
		}
	})
}

func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && shouldIgnore(path) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("watch add failed", "dir", path, "error", err)
			}
		}
		return nil
	})
}

// shouldIgnore skips hidden entries and editor temp files.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#")
}
