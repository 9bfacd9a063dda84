package syncsched

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window a burst of filesystem events is coalesced
// over before triggering an eager sync_now.
const DefaultDebounce = 200 * time.Millisecond

// Watch adds an optional fsnotify-driven eager trigger for root: filesystem
// changes under root debounce into a single SyncNow(root) call ahead of the
// next scheduled tick, rather than waiting a full interval to notice a
// burst of edits. The interval tick remains authoritative; the watch only
// moves a root's next resync earlier.
// The returned stop function removes the watch; it is safe to call once.
func (s *Scheduler) Watch(root string, debounce time.Duration) (stop func(), err error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}, err
	}
	if err := addRecursive(w, root); err != nil {
		w.Close()
		return func() {}, err
	}

	var mu sync.Mutex
	var timer *time.Timer
	stopCh := make(chan struct{})

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() { s.SyncNow(root) })
	}

	go func() {
		for {
			select {
			case <-stopCh:
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				schedule()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("watch error", slog.String("root", root), slog.String("error", err.Error()))
			}
		}
	}()

	once := sync.Once{}
	return func() {
		once.Do(func() {
			close(stopCh)
			w.Close()
		})
	}, nil
}

// addRecursive registers every directory under root with w; fsnotify has no
// native recursive mode.
func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		return w.Add(path)
	})
}
