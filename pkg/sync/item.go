package sync

import (
	"time"

	"github.com/google/uuid"
)

// Origin is the side of the sync that a change was detected on.
type Origin string

const (
	// Local changes come from the watched directory tree.
	Local Origin = "local"

	// Remote changes come from polling the wiki.
	Remote Origin = "remote"
)

// Opposite returns the other side of the sync.
func (o Origin) Opposite() Origin {
	if o == Local {
		return Remote
	}
	return Local
}

// ChangeKind describes what happened to an item. Local and remote sources
// use different names for the same three operations.
type ChangeKind string

const (
	Add    ChangeKind = "add"
	Update ChangeKind = "update"
	Delete ChangeKind = "delete"

	Discovered ChangeKind = "discovered"
	Updated    ChangeKind = "updated"
	Deleted    ChangeKind = "deleted"
)

// IsDelete returns whether the change removed the item.
func (k ChangeKind) IsDelete() bool {
	return k == Delete || k == Deleted
}

// IsCreate returns whether the change introduced a new item.
func (k ChangeKind) IsCreate() bool {
	return k == Add || k == Discovered
}

// Status is the processing state of an Item.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in-progress"
	Done       Status = "done"
	Failed     Status = "failed"
)

// Item is a single pending change from either side.
type Item struct {
	ID     string
	Origin Origin

	// Key is the absolute local path for local items, and the page ID for
	// remote items. The queue deduplicates on (Origin, Key).
	Key string

	// Path is the canonical document path shared by both sides. The state
	// store is keyed by it.
	Path string

	Kind ChangeKind

	// Fingerprint is empty for deletes.
	Fingerprint string

	// PreviousFingerprint is set for remote updates so that conflicts can
	// show what the page looked like before.
	PreviousFingerprint string

	DetectedAt time.Time
	ModTime    time.Time
	Status     Status

	// Attempts is the number of times the item failed to sync.
	Attempts int
}

// NewItem returns a pending item with a fresh ID.
func NewItem(origin Origin, key, path string, kind ChangeKind, fingerprint string,
	detectedAt time.Time) Item {
	return Item{
		ID:          uuid.New().String(),
		Origin:      origin,
		Key:         key,
		Path:        path,
		Kind:        kind,
		Fingerprint: fingerprint,
		DetectedAt:  detectedAt,
		Status:      Pending,
	}
}

// SideState is what one side of a document looks like right now.
type SideState struct {
	Side        Origin
	Exists      bool
	Fingerprint string
	ModTime     time.Time
	Content     string

	// Ref is the local path or remote page ID backing this side.
	Ref string
}
