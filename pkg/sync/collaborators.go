package sync

import (
	"context"
)

// Applied describes the outcome of writing a change to one side.
type Applied struct {
	// RemoteRef is the page ID the change was written to or read from.
	RemoteRef string

	// LocalPath is the file the change was written to or read from.
	LocalPath string

	// LocalFingerprint and RemoteFingerprint are the fingerprints of both
	// sides after the write. They are recorded in the state store.
	LocalFingerprint  string
	RemoteFingerprint string

	// Content is the document content that both sides now agree on. It's
	// recorded as the merge base for future conflicts.
	Content string
}

// Transport moves documents between the local tree and the wiki. Every call
// must be safe to repeat, since failed items are picked up again on the next
// change.
type Transport interface {
	// Inspect returns the current state of one side of the document at `path`.
	// A missing document is not an error, and is reported with Exists false.
	Inspect(ctx context.Context, side Origin, path string) (SideState, error)

	// ApplyLocalToRemote pushes the local document to the wiki. Deletes
	// remove the page.
	ApplyLocalToRemote(ctx context.Context, item Item) (Applied, error)

	// ApplyRemoteToLocal pulls the page into the local tree. Deletes remove
	// the file.
	ApplyRemoteToLocal(ctx context.Context, item Item) (Applied, error)

	// WriteResolved writes the same content to both sides.
	WriteResolved(ctx context.Context, item Item, content string) (Applied, error)
}

// Backup keeps a copy of a side before it's overwritten.
type Backup interface {
	BackupBeforeOverwrite(ctx context.Context, side Origin, item Item, current SideState) (string, error)
}

// BaseStore remembers the last content both sides agreed on, for use as the
// base of a three-way merge.
type BaseStore interface {
	FindBase(path string) (string, bool)
	RecordBase(path, content string) error
}

// Notifier is told about conflicts and errors. It's fire and forget, so
// implementations must handle their own failures.
type Notifier interface {
	Notify(eventType string, payload map[string]interface{})
}

// Persister loads and saves the sync state.
type Persister interface {
	Load() (map[string]Entry, error)
	Save(map[string]Entry) error
}
