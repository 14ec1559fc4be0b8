package params

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider supplies socket connect params from a flat JSON object on
// disk, and refreshes its cached snapshot whenever the file changes. This
// recovers the teacher's fsnotify-driven "watch for changes, react" idiom
// (internal/watcher/watcher.go) as a Provider: Params() always returns the
// last successfully parsed snapshot rather than hitting disk synchronously,
// so a transient write-in-progress never breaks a connect() attempt.
type FileProvider struct {
	path   string
	logger func(string)

	mu     sync.RWMutex
	cached map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileProvider loads path once synchronously, then starts a watcher
// goroutine that re-reads it on every write or create event. logger
// may be nil.
func NewFileProvider(path string, logger func(string)) (*FileProvider, error) {
	if logger == nil {
		logger = func(string) {}
	}

	fp := &FileProvider{path: path, logger: logger, done: make(chan struct{})}
	if err := fp.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create params watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch params file %s: %w", path, err)
	}
	fp.watcher = w

	go fp.watch()
	return fp, nil
}

func (fp *FileProvider) reload() error {
	data, err := os.ReadFile(fp.path)
	if err != nil {
		return fmt.Errorf("read params file %s: %w", fp.path, err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse params file %s: %w", fp.path, err)
	}

	fp.mu.Lock()
	fp.cached = parsed
	fp.mu.Unlock()
	return nil
}

func (fp *FileProvider) watch() {
	for {
		select {
		case <-fp.done:
			return
		case event, ok := <-fp.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := fp.reload(); err != nil {
					fp.logger(fmt.Sprintf("[params] reload failed: %v", err))
				} else {
					fp.logger(fmt.Sprintf("[params] reloaded %s", fp.path))
				}
			}
		case err, ok := <-fp.watcher.Errors:
			if !ok {
				return
			}
			fp.logger(fmt.Sprintf("[params] watch error: %v", err))
		}
	}
}

// Params returns the last successfully parsed snapshot. The returned map
// is a defensive copy; callers may not mutate FileProvider's internal
// cache by mutating it.
func (fp *FileProvider) Params() (map[string]string, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	out := make(map[string]string, len(fp.cached))
	for k, v := range fp.cached {
		out[k] = v
	}
	return out, nil
}

// Close stops the watcher goroutine and releases its file descriptor.
func (fp *FileProvider) Close() error {
	close(fp.done)
	if fp.watcher != nil {
		return fp.watcher.Close()
	}
	return nil
}
