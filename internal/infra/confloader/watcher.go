package confloader

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports changes to configuration files. Events arriving within
// the debounce window are delivered as one callback per file.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	files     map[string]struct{}
	callbacks []func(string)

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the coalescing window. Zero delivers every event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher. Call Run to start delivering events.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		files:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds a file. Its directory is watched so replacing the file by
// rename is noticed; other files in the directory are ignored.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	w.mu.Lock()
	w.files[abs] = struct{}{}
	w.mu.Unlock()
	w.logger.Debug("watching configuration file", "path", abs)
	return nil
}

// OnChange registers a callback receiving the changed file's path.
// Callbacks run on the Run goroutine.
func (w *Watcher) OnChange(fn func(string)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Run delivers change events until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, ok := w.watched(ev.Name)
			if !ok {
				continue
			}
			if w.debounce <= 0 {
				w.notify(abs)
				continue
			}
			pending[abs] = struct{}{}
			timer.Reset(w.debounce)
		case <-timer.C:
			for path := range pending {
				w.notify(path)
				delete(pending, path)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configuration watcher error", "error", err)
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

// Stop releases the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) watched(name string) (string, bool) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[abs]
	return abs, ok
}

func (w *Watcher) notify(path string) {
	w.mu.Lock()
	callbacks := append(([]func(string))(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Debug("configuration file changed", "path", path)
	for _, fn := range callbacks {
		fn(path)
	}
}
