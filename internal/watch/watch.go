// Package watch reports changes to the files that decide the plugin version:
// version.properties, the plugin descriptor and the project config.
package watch

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the bursts editors produce on save.
const DefaultDebounce = 150 * time.Millisecond

// Watcher monitors a set of files and triggers onChange after they settle
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	delay    time.Duration
	debounce *time.Timer
	pending  map[string]bool
	mu       sync.Mutex
	onChange func(paths []string)
	done     chan struct{}
	stopOnce sync.Once
}

// New watches files and calls onChange with the sorted changed paths.
// Parent directories are watched so files that editors replace on save,
// or that do not exist yet, are still seen.
func New(files []string, delay time.Duration, onChange func(paths []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}

	w := &Watcher{
		watcher:  fsw,
		files:    make(map[string]bool),
		delay:    delay,
		pending:  make(map[string]bool),
		onChange: onChange,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := fsw.Add(d); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}

	go w.run()

	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			// Rename covers editors that write a temp file and move it over
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.schedule(filepath.Clean(event.Name))
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = true
	if w.debounce != nil {
		w.debounce.Stop()
	}

	w.debounce = time.AfterFunc(w.delay, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if len(paths) > 0 && w.onChange != nil {
		sort.Strings(paths)
		w.onChange(paths)
	}
}

// Stop closes the watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()
	})
}
