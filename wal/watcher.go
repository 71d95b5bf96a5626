package wal

import "github.com/nullvane/waltx/storage"

// Watcher is notified after every successful disk write. Notify must not
// block for long: it runs while the watcher mutex is held, briefly, for
// every watcher in turn.
type Watcher interface {
	Notify(vclock storage.Vclock)
}

// WatcherFunc adapts a plain function to the Watcher interface.
type WatcherFunc func(storage.Vclock)

func (f WatcherFunc) Notify(vclock storage.Vclock) { f(vclock) }

// Attach registers a watcher and returns a handle for Detach.
func (w *Writer) Attach(watcher Watcher) int {
	w.watchersMu.Lock()
	defer w.watchersMu.Unlock()
	id := w.nextWatch
	w.nextWatch++
	w.watchers[id] = watcher
	return id
}

// Detach removes a previously attached watcher.
func (w *Writer) Detach(id int) {
	w.watchersMu.Lock()
	defer w.watchersMu.Unlock()
	delete(w.watchers, id)
}

func (w *Writer) notifyWatchers() {
	vclock := w.st.vclock.Clone()

	w.watchersMu.Lock()
	defer w.watchersMu.Unlock()
	for _, watcher := range w.watchers {
		watcher.Notify(vclock)
	}
}
