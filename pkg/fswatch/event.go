package fswatch

import (
	"time"

	"github.com/sidkik/wikisync/pkg/sync"
)

// EventKind is the type of change reported by the watcher.
type EventKind string

const (
	Add        EventKind = "add"
	Update     EventKind = "update"
	Delete     EventKind = "delete"
	DirAdded   EventKind = "dir-added"
	DirRemoved EventKind = "dir-removed"
	Error      EventKind = "error"
)

// Event is a settled change within the watched tree.
type Event struct {
	Kind EventKind

	// Path is the absolute local path.
	Path string

	// DocPath is the canonical document path. It's only set for file events.
	DocPath string

	// Fingerprint is the new fingerprint for adds and updates, and the last
	// known fingerprint for deletes.
	Fingerprint string

	ModTime    time.Time
	DetectedAt time.Time
	Err        error
}

// IsFileEvent returns whether the event describes a document that should be
// synced. Directory and error events are informational.
func (e Event) IsFileEvent() bool {
	return e.Kind == Add || e.Kind == Update || e.Kind == Delete
}

// Item converts a file event into a sync item.
func (e Event) Item() sync.Item {
	var kind sync.ChangeKind
	fingerprint := e.Fingerprint
	switch e.Kind {
	case Add:
		kind = sync.Add
	case Update:
		kind = sync.Update
	case Delete:
		kind = sync.Delete
		fingerprint = ""
	}

	item := sync.NewItem(sync.Local, e.Path, e.DocPath, kind, fingerprint, e.DetectedAt)
	item.ModTime = e.ModTime
	if e.Kind == Delete {
		item.PreviousFingerprint = e.Fingerprint
	}
	return item
}
