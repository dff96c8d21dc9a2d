package procmon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher is a procmon watcher that watches the scripts directory for new
// processes.
type Watcher struct {
	Events chan EventProcessListModify

	w   *fsnotify.Watcher
	j   Journaler
	dir string
}

// NewWatcher watches the given directory and logs errors into the journaler.
// The watcher is stopped once the given context is canceled.
func NewWatcher(ctx context.Context, dir string, j Journaler) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "failed to watch dir")
	}

	w := &Watcher{
		Events: make(chan EventProcessListModify),
		w:      watcher,
		j:      j,
		dir:    dir,
	}

	go w.watch(ctx)
	return w, nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}

			w.j.Write(&EventWarning{
				Component: "watcher",
				Error:     "inotify error: " + err.Error(),
			})

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}

			event, ok := translateFsnotifyEvt(evt, w.dir)
			if !ok {
				w.j.Write(&EventWarning{
					Component: "watcher",
					Error:     fmt.Sprintf("skipped unknown %s event at %q", evt.Op, evt.Name),
				})
				continue
			}

			select {
			case w.Events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// translateFsnotifyEvt translates an fsnotify event for a file directly inside
// dir into an EventProcessListModify event.
func translateFsnotifyEvt(evt fsnotify.Event, dir string) (EventProcessListModify, bool) {
	evDir, name := filepath.Split(evt.Name)
	if name == "" || filepath.Clean(evDir) != filepath.Clean(dir) {
		return EventProcessListModify{}, false
	}

	switch {
	case evt.Op&fsnotify.Create != 0:
		return EventProcessListModify{Op: ProcessListAdd, File: name}, true
	case evt.Op&fsnotify.Write != 0, evt.Op&fsnotify.Chmod != 0:
		// A chmod may make the file executable, or stop it from being one.
		return EventProcessListModify{Op: ProcessListUpdate, File: name}, true
	case evt.Op&fsnotify.Rename != 0:
		// Treat a rename as a remove; fsnotify does not report renames
		// properly, so it's apparently treated like a remove.
		// See: https://github.com/fsnotify/fsnotify/issues/26
		fallthrough
	case evt.Op&fsnotify.Remove != 0:
		return EventProcessListModify{Op: ProcessListRemove, File: name}, true
	}

	return EventProcessListModify{}, false
}
