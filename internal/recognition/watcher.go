package recognition

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ModelWatcher tracks when the classifier artifact on disk last changed, so
// status reporting can flag a running session as serving a stale model.
// Supports both fsnotify and polling as fallback.
type ModelWatcher struct {
	path string

	mu         sync.RWMutex
	lastChange time.Time
}

func NewModelWatcher(path string) *ModelWatcher {
	w := &ModelWatcher{path: path}
	if info, err := os.Stat(path); err == nil {
		w.lastChange = info.ModTime()
	}
	return w
}

// LastChange returns the last observed modification time of the artifact,
// zero if it has never been seen.
func (w *ModelWatcher) LastChange() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastChange
}

// ChangedSince reports whether the artifact was rewritten after t.
func (w *ModelWatcher) ChangedSince(t time.Time) bool {
	return w.LastChange().After(t)
}

func (w *ModelWatcher) record(t time.Time) {
	w.mu.Lock()
	if t.After(w.lastChange) {
		w.lastChange = t
	}
	w.mu.Unlock()
}

// Start launches the watch loops. fsnotify reacts quickly to rewrites; a
// slow polling loop runs as a safety net since the trainer replaces the file
// rather than writing it in place.
func (w *ModelWatcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[ModelWatcher] fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else {
		if err := watcher.Add(w.path); err != nil {
			// The artifact may not exist before the first training run.
			log.Printf("[ModelWatcher] Failed to watch %s (%v), falling back to polling", w.path, err)
			usePolling = true
			watcher.Close()
		}
	}

	go func() {
		if usePolling {
			return
		}
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					time.Sleep(100 * time.Millisecond)
					w.poll()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[ModelWatcher] Error: %v", err)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
}

func (w *ModelWatcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if info.ModTime().After(w.LastChange()) {
		log.Printf("[ModelWatcher] Classifier artifact changed at %s", info.ModTime().Format(time.RFC3339))
		w.record(info.ModTime())
	}
}
