package sync

import (
	goSync "sync"
	"time"
)

// Entry records what both sides of a document looked like the last time
// they were successfully synced.
type Entry struct {
	Path string `json:"path"`

	// Fingerprint is the fingerprint of the side that won the last sync.
	Fingerprint string `json:"fingerprint"`

	LocalFingerprint  string    `json:"localFingerprint"`
	RemoteFingerprint string    `json:"remoteFingerprint"`
	SyncedAt          time.Time `json:"syncedAt"`

	// Origin is the side whose change was applied during the last sync.
	Origin Origin `json:"origin"`

	RemoteID string `json:"remoteId,omitempty"`
}

// SideFingerprint returns the fingerprint recorded for the given side.
func (e Entry) SideFingerprint(side Origin) string {
	if side == Local {
		return e.LocalFingerprint
	}
	return e.RemoteFingerprint
}

// Deleted returns whether the last sync removed the document from both
// sides.
func (e Entry) Deleted() bool {
	return e.LocalFingerprint == "" && e.RemoteFingerprint == ""
}

// StateStore is the in-memory view of the persisted sync state. It's the
// only mutable state shared between components, so every access is
// guarded.
type StateStore struct {
	lock    goSync.RWMutex
	entries map[string]Entry
}

// NewStateStore returns an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{entries: map[string]Entry{}}
}

// Get returns the entry for the document path.
func (s *StateStore) Get(path string) (Entry, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	e, ok := s.entries[path]
	return e, ok
}

// Put records a successful sync.
func (s *StateStore) Put(e Entry) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries[e.Path] = e
}

// Len returns the number of tracked documents.
func (s *StateStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of all entries.
func (s *StateStore) Snapshot() map[string]Entry {
	s.lock.RLock()
	defer s.lock.RUnlock()

	// Copy the map because maps are reference types. Handing out the
	// underlying map would let callers mutate it without holding the lock.
	snapshotCopy := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshotCopy[k] = v
	}
	return snapshotCopy
}

// Replace swaps the contents of the store, e.g. after loading them from
// disk.
func (s *StateStore) Replace(entries map[string]Entry) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.entries = make(map[string]Entry, len(entries))
	for k, v := range entries {
		s.entries[k] = v
	}
}
