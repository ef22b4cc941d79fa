// Package docwatch watches open documents' files and reports external
// modifications so the session can mark its open copy dirty.
package docwatch

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeFunc is invoked with the canonical path of a watched file that was
// modified, created over, or removed behind the open copy.
type ChangeFunc func(path string)

// Watcher tracks a set of open files on disk.
type Watcher struct {
	logger   *zap.SugaredLogger
	onChange ChangeFunc
	fs       *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

// New starts a Watcher delivering change callbacks until Close.
func New(logger *zap.SugaredLogger, onChange ChangeFunc) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		logger:   logger,
		onChange: onChange,
		fs:       fs,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Add begins watching path.
func (w *Watcher) Add(path string) error {
	return w.fs.Add(path)
}

// Remove stops watching path. Unknown paths are fine; a close racing a
// remove must not fail the close.
func (w *Watcher) Remove(path string) {
	if err := w.fs.Remove(path); err != nil {
		w.logger.Debugw("removing watch", "path", path, "error", err)
	}
}

// Close stops the watcher and its delivery goroutine.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
				event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				w.onChange(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("file watcher error", "error", err)
		}
	}
}
