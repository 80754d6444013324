package engine

import (
	"time"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/sync"
)

// Event is something that happened in the engine. The concrete types are
// the structs in this file.
type Event interface {
	// Name is the wire name of the event, such as "sync:completed".
	Name() string
	isEvent()
}

// SyncCompleted is emitted after an item was applied, or found to be
// already in sync.
type SyncCompleted struct {
	Item    sync.Item
	Skipped bool
	At      time.Time
}

// SyncError is emitted when an item failed to sync.
type SyncError struct {
	Item sync.Item
	Err  error
	At   time.Time
}

// ConflictDetected is emitted when a conflict was queued for the user.
type ConflictDetected struct {
	Conflict conflict.Conflict
}

// ConflictResolved is emitted when a conflict was resolved, either
// automatically or by the user.
type ConflictResolved struct {
	Conflict   conflict.Conflict
	Resolution conflict.Resolution
	Auto       bool
}

// EngineStarted is emitted once the engine is running.
type EngineStarted struct {
	At time.Time
}

// EngineStopped is emitted once the engine has drained and persisted its
// state.
type EngineStopped struct {
	At time.Time
}

func (SyncCompleted) Name() string    { return "sync:completed" }
func (SyncError) Name() string        { return "sync:error" }
func (ConflictDetected) Name() string { return "conflict:detected" }
func (ConflictResolved) Name() string { return "conflict:resolved" }
func (EngineStarted) Name() string    { return "engine:started" }
func (EngineStopped) Name() string    { return "engine:stopped" }

func (SyncCompleted) isEvent()    {}
func (SyncError) isEvent()        {}
func (ConflictDetected) isEvent() {}
func (ConflictResolved) isEvent() {}
func (EngineStarted) isEvent()    {}
func (EngineStopped) isEvent()    {}

// Subscribe returns a channel that receives every event emitted after the
// call. Events are dropped rather than block the engine when the channel's
// `buffer` is full.
func (e *Engine) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	e.subsLock.Lock()
	e.subs = append(e.subs, ch)
	e.subsLock.Unlock()
	return ch
}

func (e *Engine) emit(ev Event) {
	e.subsLock.Lock()
	defer e.subsLock.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
