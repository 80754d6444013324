// Package engine runs the sync loop. Changes reported by the local file
// watcher and the wiki poller are queued, and processed in batches: each item
// is checked for conflicts against the sync state, and either applied to the
// other side, resolved automatically, or queued for the user.
package engine

import (
	"context"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/fswatch"
	"github.com/sidkik/wikisync/pkg/notify"
	"github.com/sidkik/wikisync/pkg/sync"
	"github.com/sidkik/wikisync/pkg/wikiwatch"
)

const (
	DefaultInterval     = time.Second
	DefaultPollInterval = 60 * time.Second
	DefaultBatchSize    = 10
	DefaultConcurrency  = 3

	// maxAttempts is the number of times an item is tried before it's
	// dropped. A later change to the same document queues it again.
	maxAttempts = 3

	remoteBuffer = 64
)

// LocalSource reports changes to the local tree.
type LocalSource interface {
	Watch(ctx context.Context) (<-chan fswatch.Event, error)

	// Documents returns the documents found when Watch scanned the tree.
	Documents() []fswatch.Document
}

// RemoteSource reports changes to wiki pages.
type RemoteSource interface {
	CheckForChanges(ctx context.Context) ([]wikiwatch.Event, error)
	Run(ctx context.Context, interval time.Duration, out chan<- wikiwatch.Event)
}

// Options configures an Engine.
type Options struct {
	Local     LocalSource
	Remote    RemoteSource
	Transport sync.Transport
	Backup    sync.Backup
	Bases     sync.BaseStore
	Notifier  sync.Notifier
	Persister sync.Persister

	Interval     time.Duration
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int

	// AutoResolve is the set of conflict types that are resolved without
	// asking the user.
	AutoResolve map[conflict.Type]bool

	// ConflictCache is where pending conflicts are written after every
	// batch. It's not written if empty.
	ConflictCache string

	// ResolveRequests is the directory that's checked for resolve requests
	// before every batch. Requests aren't read if empty.
	ResolveRequests string

	Clock clockwork.Clock
}

// Status is a snapshot of the engine.
type Status struct {
	Running       bool
	QueueDepth    int
	ConflictDepth int
	Documents     int
	LastSync      time.Time
}

// Engine coordinates the change sources, the conflict detector and
// resolver, and the transport.
type Engine struct {
	opts     Options
	state    *sync.StateStore
	queue    *sync.Queue
	detector *conflict.Detector
	resolver *conflict.Resolver

	lock      goSync.Mutex
	running   bool
	cancel    context.CancelFunc
	conflicts []*conflict.Conflict
	lastSync  time.Time

	// batchLock serializes batches and manual resolutions, so that a
	// resolution never races with an item for the same document.
	batchLock goSync.Mutex

	// wg tracks the producer goroutines and the batch loop.
	wg goSync.WaitGroup

	subsLock goSync.Mutex
	subs     []chan Event
}

// New creates an engine. Nothing runs until Start is called.
func New(opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.AutoResolve == nil {
		opts.AutoResolve = map[conflict.Type]bool{
			conflict.LocalNewer:  true,
			conflict.RemoteNewer: true,
			conflict.Content:     true,
		}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	state := sync.NewStateStore()
	return &Engine{
		opts:     opts,
		state:    state,
		queue:    sync.NewQueue(),
		detector: conflict.NewDetector(state, opts.Clock),
		resolver: conflict.NewResolver(opts.Transport, opts.Backup, opts.Bases, state, opts.Clock),
	}
}

// Start loads the sync state, takes an initial listing of the wiki, starts
// watching both sides, and starts the batch loop. Changes made while the
// engine wasn't running are queued. Start fails if the wiki rejects our
// credentials, since nothing could be synced.
//
// Cancelling `ctx` stops the producers and the loop, but Stop must still be
// called to persist the state.
func (e *Engine) Start(ctx context.Context) error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		return errors.ErrAlreadyRunning
	}
	e.running = true
	e.lock.Unlock()

	started := false
	defer func() {
		if !started {
			e.lock.Lock()
			e.running = false
			e.lock.Unlock()
		}
	}()

	entries, err := e.opts.Persister.Load()
	if err != nil {
		return errors.WithContext(err, "load state")
	}
	e.state.Replace(entries)

	runCtx, cancel := context.WithCancel(ctx)
	primed, err := e.opts.Remote.CheckForChanges(runCtx)
	switch {
	case errors.Is(err, errors.ErrAuthentication):
		cancel()
		return errors.WithContext(err, "list wiki pages")
	case err != nil:
		log.WithError(err).Warn("Failed to list wiki pages. Will retry at the next poll.")
	}
	for _, ev := range primed {
		e.Enqueue(ev.Item())
	}

	localEvents, err := e.opts.Local.Watch(runCtx)
	if err != nil {
		cancel()
		return errors.WithContext(err, "watch local files")
	}
	e.reconcileLocal()

	remoteEvents := make(chan wikiwatch.Event, remoteBuffer)
	e.wg.Add(4)
	go func() {
		defer e.wg.Done()
		e.opts.Remote.Run(runCtx, e.opts.PollInterval, remoteEvents)
	}()
	go e.consumeLocal(localEvents)
	go e.consumeRemote(runCtx, remoteEvents)
	go e.loop(runCtx)

	e.lock.Lock()
	e.cancel = cancel
	e.lock.Unlock()
	started = true

	log.WithFields(log.Fields{
		"documents": e.state.Len(),
		"queued":    e.queue.Len(),
	}).Info("Sync engine started")
	e.emit(EngineStarted{At: e.opts.Clock.Now()})
	return nil
}

// Stop stops the producers and the batch loop, waits for the batch in
// flight to finish, and persists the state. Stopping an engine that isn't
// running does nothing.
func (e *Engine) Stop() error {
	e.lock.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.lock.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	e.wg.Wait()

	err := e.persist()
	e.lock.Lock()
	e.running = false
	e.lock.Unlock()

	log.Info("Sync engine stopped")
	e.emit(EngineStopped{At: e.opts.Clock.Now()})
	return err
}

// Enqueue adds a change to the queue, replacing any queued change to the
// same item.
func (e *Engine) Enqueue(item sync.Item) {
	if e.queue.Enqueue(item) {
		log.WithFields(log.Fields{
			"path":   item.Path,
			"origin": item.Origin,
		}).Debug("Replaced queued change")
	}
}

// GetStatus returns a snapshot of the engine's state.
func (e *Engine) GetStatus() Status {
	e.lock.Lock()
	defer e.lock.Unlock()
	return Status{
		Running:       e.running,
		QueueDepth:    e.queue.Len(),
		ConflictDepth: len(e.conflicts),
		Documents:     e.state.Len(),
		LastSync:      e.lastSync,
	}
}

// GetConflicts returns the conflicts waiting for the user, oldest first.
func (e *Engine) GetConflicts() []conflict.Conflict {
	e.lock.Lock()
	defer e.lock.Unlock()

	conflicts := make([]conflict.Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		conflicts = append(conflicts, *c)
	}
	return conflicts
}

// ResolveConflict applies a user chosen resolution to a pending conflict.
// The conflict stays pending if the resolution fails.
func (e *Engine) ResolveConflict(ctx context.Context, id string,
	res conflict.Resolution) (conflict.Resolution, error) {

	e.batchLock.Lock()
	defer e.batchLock.Unlock()

	c, ok := e.findConflict(id)
	if !ok {
		return conflict.Resolution{}, errors.ConflictNotFound{ID: id}
	}

	applied, err := e.resolver.ResolveManual(ctx, c, res)
	if err != nil {
		if errors.Is(err, errors.ErrMergeFailed) {
			e.lock.Lock()
			c.Context = conflict.MergeEvidence{Regions: applied.Conflicts}
			e.lock.Unlock()
			e.writeConflictCache()
		}
		return applied, err
	}

	e.removeConflict(id)
	if err := e.persist(); err != nil {
		log.WithError(err).Error("Failed to save sync state")
	}
	e.writeConflictCache()

	log.WithFields(log.Fields{
		"path":     c.Item.Path,
		"strategy": applied.Strategy,
	}).Info("Resolved conflict")
	e.notifyResolved(c, applied, false)
	e.emit(ConflictResolved{Conflict: *c, Resolution: applied})
	return applied, nil
}

// reconcileLocal queues the documents that changed while the engine wasn't
// running. Documents that were deleted in the meantime aren't deleted from
// the wiki, since an empty or misconfigured root would otherwise wipe it.
func (e *Engine) reconcileLocal() {
	now := e.opts.Clock.Now()
	seen := map[string]struct{}{}
	for _, doc := range e.opts.Local.Documents() {
		seen[doc.DocPath] = struct{}{}

		entry, ok := e.state.Get(doc.DocPath)
		if ok && entry.LocalFingerprint == doc.Fingerprint {
			continue
		}

		kind := sync.Update
		if !ok || entry.Deleted() {
			kind = sync.Add
		}
		e.Enqueue(sync.NewItem(sync.Local, doc.Path, doc.DocPath, kind, doc.Fingerprint, now))
	}

	for path, entry := range e.state.Snapshot() {
		if _, ok := seen[path]; ok || entry.LocalFingerprint == "" {
			continue
		}
		log.WithField("path", path).Info("Document was deleted locally while wikisync " +
			"wasn't running. The wiki page will be kept.")
	}
}

func (e *Engine) consumeLocal(events <-chan fswatch.Event) {
	defer e.wg.Done()

	// The watcher closes the channel once it has shut down.
	for ev := range events {
		switch {
		case ev.IsFileEvent():
			e.Enqueue(ev.Item())
		case ev.Kind == fswatch.Error:
			log.WithError(ev.Err).WithField("path", ev.Path).Warn("File watcher error")
		default:
			log.WithFields(log.Fields{
				"path": ev.Path,
				"kind": ev.Kind,
			}).Debug("Directory changed")
		}
	}
}

func (e *Engine) consumeRemote(ctx context.Context, events <-chan wikiwatch.Event) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Kind == wikiwatch.Error {
				log.WithError(ev.Err).Error("Stopped polling the wiki")
				e.opts.Notifier.Notify("sync:error", map[string]interface{}{
					"origin": sync.Remote,
					"error":  ev.Err.Error(),
				})
				continue
			}
			e.Enqueue(ev.Item())
		}
	}
}

// loop processes a batch every interval until `ctx` is cancelled. The batch
// in flight when `ctx` is cancelled runs to completion.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.opts.Clock.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	batchCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		e.applyResolveRequests(batchCtx)
		e.processBatch(batchCtx)
	}
}

// processBatch syncs up to BatchSize queued items, and returns how many
// were processed.
func (e *Engine) processBatch(ctx context.Context) int {
	e.batchLock.Lock()
	defer e.batchLock.Unlock()

	items := e.queue.Pop(e.opts.BatchSize)
	if len(items) == 0 {
		return 0
	}

	// A document can be queued by both sides. Its items run one after
	// another in queue order, so each sees the state the previous one left.
	var group errgroup.Group
	group.SetLimit(e.opts.Concurrency)
	for _, docItems := range groupByPath(items) {
		docItems := docItems
		group.Go(func() error {
			for _, item := range docItems {
				e.processItem(ctx, item)
			}
			return nil
		})
	}
	group.Wait()

	if err := e.persist(); err != nil {
		log.WithError(err).Error("Failed to save sync state")
	}
	e.writeConflictCache()

	e.lock.Lock()
	e.lastSync = e.opts.Clock.Now()
	e.lock.Unlock()

	log.WithField("items", len(items)).Debug("Processed batch")
	return len(items)
}

// groupByPath splits items by document path. Groups are ordered by their
// first item, and keep the order of the items within them.
func groupByPath(items []sync.Item) [][]sync.Item {
	var groups [][]sync.Item
	index := map[string]int{}
	for _, item := range items {
		i, ok := index[item.Path]
		if !ok {
			i = len(groups)
			index[item.Path] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

func (e *Engine) persist() error {
	if err := e.opts.Persister.Save(e.state.Snapshot()); err != nil {
		return errors.WithContext(err, "save state")
	}
	return nil
}

func (e *Engine) findConflict(id string) (*conflict.Conflict, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, c := range e.conflicts {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (e *Engine) removeConflict(id string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for i, c := range e.conflicts {
		if c.ID == id {
			e.conflicts = append(e.conflicts[:i], e.conflicts[i+1:]...)
			return
		}
	}
}

// queueConflict adds the conflict for the user. A pending conflict for the
// same document is replaced, since it describes an older state.
func (e *Engine) queueConflict(c *conflict.Conflict) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for i, pending := range e.conflicts {
		if pending.Item.Path == c.Item.Path {
			e.conflicts[i] = c
			return
		}
	}
	e.conflicts = append(e.conflicts, c)
}
