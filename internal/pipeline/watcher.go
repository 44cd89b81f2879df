package pipeline

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// MarkerSource provides the marker set for new monitor loops. A static
// MarkerSet satisfies it; MarkerWatcher adds hot reload.
type MarkerSource interface {
	Current() MarkerSet
}

// Current lets a plain MarkerSet act as its own source.
func (m MarkerSet) Current() MarkerSet { return m }

// MarkerWatcher serves a marker set from a YAML file and reloads it
// when the file changes. Runs already in flight keep the set they
// started with; only new runs pick up the reloaded markers.
type MarkerWatcher struct {
	path    string
	watcher *fsnotify.Watcher

	markers MarkerSet
	mu      sync.RWMutex

	cancel context.CancelFunc
}

// NewMarkerWatcher loads the file once and prepares the watch.
func NewMarkerWatcher(path string) (*MarkerWatcher, error) {
	markers, err := LoadMarkers(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	return &MarkerWatcher{path: path, watcher: watcher, markers: markers}, nil
}

// Current returns the most recently loaded marker set.
func (w *MarkerWatcher) Current() MarkerSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.markers
}

// Start begins reloading on file changes until Stop or ctx cancel.
func (w *MarkerWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				markers, err := LoadMarkers(w.path)
				if err != nil {
					// Keep the last good set on a bad write.
					continue
				}
				w.mu.Lock()
				w.markers = markers
				w.mu.Unlock()
			case _, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop ends the reload loop and releases the watch.
func (w *MarkerWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}
