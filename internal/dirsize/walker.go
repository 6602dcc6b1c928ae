// Package dirsize computes directory byte totals in the background and
// invalidates its cache when fsnotify reports a change in a watched
// directory, rather than recomputing on every listing request. Only
// directories whose size has been computed are watched, and each watch
// covers that directory alone, not its subdirectories.
package dirsize

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// entry holds a cached or in-flight size computation for one directory.
type entry struct {
	once sync.Once
	done chan struct{}
	size int64
	err  error
}

// Walker owns one background fsnotify watcher and a cache of directory
// sizes keyed by canonical absolute path. A single Walker is shared by the
// whole server instance.
type Walker struct {
	mu      sync.Mutex
	cache   map[string]*entry
	watcher *fsnotify.Watcher
	watched map[string]struct{}

	jobs chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a Walker whose background goroutines run until ctx is
// canceled (normally tied to the server's shutdown context).
func New(ctx context.Context) *Walker {
	runCtx, cancel := context.WithCancel(ctx)
	w := &Walker{
		cache:   make(map[string]*entry),
		watched: make(map[string]struct{}),
		jobs:    make(chan string, 64),
		ctx:     runCtx,
		cancel:  cancel,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("dirsize: fsnotify unavailable, size cache will not auto-invalidate: %v", err)
	} else {
		w.watcher = watcher
		w.wg.Add(1)
		go w.watchLoop()
	}

	w.wg.Add(1)
	go w.computeLoop()

	return w
}

// Close stops the background goroutines and releases the fsnotify watcher.
func (w *Walker) Close() {
	w.cancel()
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	w.wg.Wait()
}

// Get returns the cached size for dirAbs, if a completed computation
// exists. ok is false both when nothing has been requested yet and while a
// computation is still running.
func (w *Walker) Get(dirAbs string) (int64, bool) {
	dirAbs = filepath.Clean(dirAbs)
	w.mu.Lock()
	e, found := w.cache[dirAbs]
	w.mu.Unlock()
	if !found {
		return 0, false
	}
	select {
	case <-e.done:
		return e.size, e.err == nil
	default:
		return 0, false
	}
}

// Request schedules dirAbs for background size computation if it is not
// already cached or pending. It never blocks the caller.
func (w *Walker) Request(dirAbs string) {
	dirAbs = filepath.Clean(dirAbs)
	w.mu.Lock()
	_, exists := w.cache[dirAbs]
	if !exists {
		w.cache[dirAbs] = &entry{done: make(chan struct{})}
	}
	w.mu.Unlock()
	if exists {
		return
	}
	select {
	case w.jobs <- dirAbs:
	case <-w.ctx.Done():
	default:
		// queue full: drop the request, a later listing will re-request it
		w.mu.Lock()
		delete(w.cache, dirAbs)
		w.mu.Unlock()
	}
}

func (w *Walker) computeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case dir := <-w.jobs:
			w.compute(dir)
		}
	}
}

func (w *Walker) compute(dirAbs string) {
	w.mu.Lock()
	e := w.cache[dirAbs]
	w.mu.Unlock()
	if e == nil {
		return
	}
	e.once.Do(func() {
		size, err := recursiveDirSize(w.ctx, dirAbs)
		e.size, e.err = size, err
		close(e.done)
		if err == nil {
			w.watchSubtree(dirAbs)
		}
	})
}

// recursiveDirSize sums regular file sizes under root, deduplicating
// hardlinks by (dev, ino) on platforms that expose them.
func recursiveDirSize(ctx context.Context, root string) (int64, error) {
	var total int64
	seen := newInodeSet()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil // permission errors and the like: skip, don't fail the whole walk
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return nil
		}
		if seen.seenBefore(info) {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// invalidate drops the cached entry for dirAbs and every cached ancestor,
// since directory totals roll up.
func (w *Walker) invalidate(dirAbs string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.cache, dirAbs)
	for _, watchedRoot := range w.ancestorsOf(dirAbs) {
		delete(w.cache, watchedRoot)
	}
}

func (w *Walker) ancestorsOf(dirAbs string) []string {
	var out []string
	for cached := range w.cache {
		if isAncestor(cached, dirAbs) {
			out = append(out, cached)
		}
	}
	return out
}

func isAncestor(ancestor, path string) bool {
	rel, err := filepath.Rel(ancestor, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && rel[0] != '.'
}

// watchSubtree adds an fsnotify watch on root itself. fsnotify watches are
// not recursive, so a change deeper in root's subtree invalidates root's
// cached size only when the directory it happens in is itself watched.
func (w *Walker) watchSubtree(root string) {
	if w.watcher == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[root]; ok {
		return
	}
	if err := w.watcher.Add(root); err == nil {
		w.watched[root] = struct{}{}
	}
}

func (w *Walker) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.invalidate(filepath.Clean(filepath.Dir(ev.Name)))
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
