package config

import (
	"github.com/fsnotify/fsnotify"
)

// realFSWatcher adapts *fsnotify.Watcher to the FSWatcher interface.
type realFSWatcher struct {
	w    *fsnotify.Watcher
	out  chan FSWatchEvent
	done chan struct{}
}

type realFSWatchEvent struct {
	ev fsnotify.Event
}

func (e realFSWatchEvent) IsWrite() bool  { return e.ev.Op&fsnotify.Write == fsnotify.Write }
func (e realFSWatchEvent) IsCreate() bool { return e.ev.Op&fsnotify.Create == fsnotify.Create }

// NewFSNotifyWatcher constructs the production FSWatcher backed by
// github.com/fsnotify/fsnotify. It forwards every event; Watcher.Start
// ignores all but write and create events.
func NewFSNotifyWatcher() (*realFSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &realFSWatcher{w: w, out: make(chan FSWatchEvent, 16), done: make(chan struct{})}
	go rw.pump()
	return rw, nil
}

func (r *realFSWatcher) pump() {
	defer close(r.out)
	for {
		select {
		case ev, ok := <-r.w.Events:
			if !ok {
				return
			}
			select {
			case r.out <- realFSWatchEvent{ev}:
			case <-r.done:
				return
			}
		case <-r.w.Errors:
			// surfaced errors are dropped; the caller only needs reload ticks
		case <-r.done:
			return
		}
	}
}

func (r *realFSWatcher) Add(path string) error {
	return r.w.Add(path)
}

func (r *realFSWatcher) Events() <-chan FSWatchEvent {
	return r.out
}

// Close stops the underlying fsnotify watcher.
func (r *realFSWatcher) Close() error {
	close(r.done)
	return r.w.Close()
}
