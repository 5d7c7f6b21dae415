// Package watcher rescans the mod catalog when the repository or the
// plugins directory changes on disk.
//
// Events are debounced: a burst of changes (an archive being extracted, a
// directory being copied) results in a single rescan once the directories
// have been quiet for the debounce interval. A rescan that finds a mutation
// in progress is retried after another interval.
package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watched directories must be quiet before
// a rescan.
const DefaultDebounce = 500 * time.Millisecond

// Target is what the watcher keeps up to date. core.Service implements it.
type Target interface {
	// Rescan reports false when it was skipped because a mutation holds
	// the service.
	Rescan(ctx context.Context) (bool, error)
	Watched() []string
}

// Watcher watches the target's directories with fsnotify.
type Watcher struct {
	target   Target
	log      *logrus.Logger
	debounce time.Duration

	fsw     *fsnotify.Watcher
	watched map[string]os.FileInfo
	stopCh  chan struct{}
	wg      sync.WaitGroup
	scans   func(ran bool, err error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// OnScan registers a callback run after every rescan attempt.
func OnScan(fn func(ran bool, err error)) Option {
	return func(w *Watcher) { w.scans = fn }
}

// New creates a Watcher. Nothing is watched until Start.
func New(target Target, log *logrus.Logger, opts ...Option) (*Watcher, error) {
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}
	w := &Watcher{
		target:   target,
		log:      log,
		debounce: DefaultDebounce,
		watched:  make(map[string]os.FileInfo),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The loop runs until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	w.fsw = fsw
	w.sync()

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for a running rescan to finish.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.log.WithFields(logrus.Fields{"path": ev.Name, "op": ev.Op.String()}).Debug("filesystem change")
			if _, root := w.watched[ev.Name]; root && ev.Has(fsnotify.Remove|fsnotify.Rename) {
				w.forget(ev.Name)
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("file watcher error")

		case <-timer.C:
			ran, err := w.target.Rescan(ctx)
			switch {
			case err != nil:
				w.log.WithError(err).Warn("rescan failed")
			case !ran:
				w.log.Debug("rescan deferred, operation in progress")
				timer.Reset(w.debounce)
			}
			if w.scans != nil {
				w.scans(ran, err)
			}
			w.sync()

		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

// sync follows settings changes: directories no longer reported by the
// target are dropped, new ones are added once they exist. A directory
// replaced on disk (a restore swaps whole trees in) is watched again.
func (w *Watcher) sync() {
	want := make(map[string]bool)
	for _, dir := range w.target.Watched() {
		if dir != "" {
			want[dir] = true
		}
	}

	for dir := range w.watched {
		if !want[dir] {
			w.forget(dir)
		}
	}

	for dir := range want {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			if _, ok := w.watched[dir]; ok {
				w.forget(dir)
			}
			continue
		}
		if prev, ok := w.watched[dir]; ok {
			if os.SameFile(prev, info) {
				continue
			}
			w.forget(dir)
		}
		if err := w.fsw.Add(dir); err != nil {
			w.log.WithError(err).WithField("path", dir).Warn("watching directory")
			continue
		}
		w.watched[dir] = info
		w.log.WithField("path", dir).Debug("watching directory")
	}
}

// forget drops dir. The kernel may already have removed the watch.
func (w *Watcher) forget(dir string) {
	if err := w.fsw.Remove(dir); err != nil {
		w.log.WithError(err).WithField("path", dir).Debug("unwatching directory")
	}
	delete(w.watched, dir)
}
