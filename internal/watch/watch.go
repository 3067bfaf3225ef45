// Package watch reports source files that were saved in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/drunlade/go-ndv/pal"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
// Editors often write a file in several steps.
const DefaultDebounce = 300 * time.Millisecond

// Handler is called with the path of a saved file.
type Handler func(path string)

// Watcher calls a Handler once for every burst of writes to a file.
type Watcher struct {
	fs       *fsnotify.Watcher
	dir      string
	handler  Handler
	filter   func(path string) bool
	debounce time.Duration
	logger   pal.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithFilter restricts the reported files.
func WithFilter(f func(path string) bool) Option {
	return func(w *Watcher) { w.filter = f }
}

// WithExtensions reports only files with one of the extensions, compared
// without case and without the leading dot.
func WithExtensions(exts ...string) Option {
	return WithFilter(func(path string) bool {
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		for _, e := range exts {
			if strings.EqualFold(e, ext) {
				return true
			}
		}
		return false
	})
}

// WithLogger sets the logger.
func WithLogger(l pal.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New watches dir. Subdirectories are not watched.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		fs:       fs,
		dir:      dir,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   pal.NoopLogger{},
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run delivers events until ctx is done or the watcher fails. Pending
// reports are dropped when it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", w.dir, err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return
	}
	if w.filter != nil && !w.filter(ev.Name) {
		return
	}
	if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.logger.Debug("saved %s", path)
		w.handler(path)
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.fs.Close()
}

// Close stops watching. It is only needed when Run is never called.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
