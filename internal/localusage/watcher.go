package localusage

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const rescanDebounce = 2 * time.Second

// Watcher keeps a Summary current by rescanning the session logs whenever a
// JSONL file changes. Reads never block on a scan in flight.
type Watcher struct {
	roots []string
	log   *zap.Logger

	mu      sync.RWMutex
	current Summary

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher performs an initial scan and then follows filesystem events on
// every root that exists. Roots that appear later are picked up by the
// periodic fallback rescan.
func NewWatcher(ctx context.Context, roots []string, log *zap.Logger) (*Watcher, error) {
	w := &Watcher{roots: roots, log: log, done: make(chan struct{})}

	first, err := Scan(ctx, roots, time.Now())
	if err != nil {
		return nil, err
	}
	w.current = first

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		// Inotify limits are common; fall back to periodic rescans only.
		w.log.Warn("fsnotify unavailable, using periodic rescan", zap.Error(err))
		fw = nil
	} else {
		for _, root := range roots {
			if _, statErr := os.Stat(root); statErr != nil {
				continue
			}
			if addErr := fw.Add(root); addErr != nil {
				w.log.Warn("watch root", zap.String("root", root), zap.Error(addErr))
			}
		}
	}

	w.wg.Add(1)
	go w.run(fw)
	return w, nil
}

// Current returns the most recent summary.
func (w *Watcher) Current() Summary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the event loop and waits for it to exit.
func (w *Watcher) Close() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.wg.Wait()
}

func (w *Watcher) run(fw *fsnotify.Watcher) {
	defer w.wg.Done()
	if fw != nil {
		defer fw.Close()
	}

	fallback := time.NewTicker(5 * time.Minute)
	defer fallback.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	var events <-chan fsnotify.Event
	var errs <-chan error
	if fw != nil {
		events = fw.Events
		errs = fw.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") && !ev.Has(fsnotify.Create) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = fw.Add(ev.Name)
				}
			}
			if debounce == nil {
				debounce = time.NewTimer(rescanDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(rescanDebounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.rescan()
		case <-fallback.C:
			w.rescan()
		}
	}
}

func (w *Watcher) rescan() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sum, err := Scan(ctx, w.roots, time.Now())
	if err != nil {
		w.log.Warn("local usage rescan", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = sum
	w.mu.Unlock()
}
