package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher monitors the config file for external edits and reloads the
// Manager in place, notifying registered callbacks.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu          sync.Mutex
	callbacks   []func(Config)
	running     bool
	lastModTime time.Time
}

// NewWatcher wraps manager with a file watcher on its config path.
func NewWatcher(manager *Manager) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{manager: manager, watcher: fw, stopCh: make(chan struct{})}, nil
}

// OnChange registers a callback invoked with the freshly reloaded config
// after every external edit.
func (w *Watcher) OnChange(cb func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if stat, err := os.Stat(w.manager.Path()); err == nil {
		w.lastModTime = stat.ModTime()
	}

	if err := w.watcher.Add(w.manager.Path()); err != nil {
		return err
	}
	if err := w.watcher.Add(filepath.Dir(w.manager.Path())); err != nil {
		return err
	}

	go w.loop()
	return nil
}

// Stop ends the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("config: watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	path := w.manager.Path()
	if event.Name == path {
		return event.Op&(fsnotify.Write|fsnotify.Create) != 0
	}
	if filepath.Dir(event.Name) == filepath.Dir(path) && filepath.Base(event.Name) == filepath.Base(path) {
		return event.Op&(fsnotify.Create|fsnotify.Rename) != 0
	}
	return false
}

func (w *Watcher) reload() {
	stat, err := os.Stat(w.manager.Path())
	if err != nil {
		return
	}
	if !stat.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = stat.ModTime()

	if err := w.manager.Load(); err != nil {
		logrus.WithError(err).Warn("config: reload failed")
		return
	}

	w.mu.Lock()
	callbacks := make([]func(Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	cfg := w.manager.Get()
	for _, cb := range callbacks {
		cb(cfg)
	}
}
