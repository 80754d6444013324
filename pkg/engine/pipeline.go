package engine

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/wikisync/pkg/conflict"
	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
)

// processItem syncs a single item. Failures are reported rather than
// returned so that one document can't hold up the rest of the batch.
func (e *Engine) processItem(ctx context.Context, item sync.Item) {
	item.Status = sync.InProgress
	logger := log.WithFields(log.Fields{
		"path":   item.Path,
		"origin": item.Origin,
		"kind":   item.Kind,
	})

	incoming, err := e.opts.Transport.Inspect(ctx, item.Origin, item.Path)
	if err != nil {
		e.fail(item, errors.WithContext(err, "inspect incoming side"))
		return
	}
	opposing, err := e.opts.Transport.Inspect(ctx, item.Origin.Opposite(), item.Path)
	if err != nil {
		e.fail(item, errors.WithContext(err, "inspect opposing side"))
		return
	}

	// The queued change may be stale, so sync whatever the incoming side
	// looks like now.
	item = current(item, incoming)

	if c := e.detector.Detect(item, incoming, opposing); c != nil {
		e.handleConflict(ctx, c)
		return
	}

	entry, hasEntry := e.state.Get(item.Path)
	switch {
	case item.Kind.IsDelete() && (!hasEntry || entry.Deleted()):
		// Never propagate the delete of a document that was never synced,
		// or whose deletion was already synced.
		logger.Debug("Ignoring delete of unsynced document")
		e.complete(item, true)
		return
	case hasEntry && !entry.Deleted() && incoming.Fingerprint == entry.SideFingerprint(item.Origin):
		// This is usually the echo of a change we wrote ourselves.
		logger.Debug("Document already in sync")
		e.complete(item, true)
		return
	case !hasEntry && incoming.Exists && opposing.Exists && incoming.Content == opposing.Content:
		// Both sides already agree, so there's nothing to transfer.
		e.resolver.Record(item, adopted(item, incoming, opposing))
		logger.Info("Adopted document that already matches")
		e.complete(item, false)
		return
	}

	// Keep a copy of content that the state store has never seen, since
	// it can't be recovered from a merge base.
	if opposing.Exists && (!hasEntry || entry.Deleted() || item.Kind.IsDelete()) {
		if _, err := e.opts.Backup.BackupBeforeOverwrite(ctx, opposing.Side, item, opposing); err != nil {
			e.fail(item, errors.WithContext(err, "backup"))
			return
		}
	}

	var applied sync.Applied
	if item.Origin == sync.Local {
		applied, err = e.opts.Transport.ApplyLocalToRemote(ctx, item)
	} else {
		applied, err = e.opts.Transport.ApplyRemoteToLocal(ctx, item)
	}
	if err != nil {
		e.fail(item, errors.WithContext(err, "apply"))
		return
	}

	e.resolver.Record(item, applied)
	logger.Info("Synced document")
	e.complete(item, false)
}

func (e *Engine) handleConflict(ctx context.Context, c *conflict.Conflict) {
	logger := log.WithFields(log.Fields{
		"path":     c.Item.Path,
		"type":     c.Type,
		"severity": c.Severity,
	})

	if c.AutoResolvable && e.opts.AutoResolve[c.Type] {
		res, err := e.resolver.AutoResolve(ctx, c)
		switch {
		case err == nil:
			logger.WithField("result", res.Result).Info("Automatically resolved conflict")
			e.notifyResolved(c, res, true)
			e.emit(ConflictResolved{Conflict: *c, Resolution: res, Auto: true})
			return
		case errors.Is(err, errors.ErrMergeFailed):
			c.Context = conflict.MergeEvidence{Regions: res.Conflicts}
		case errors.Is(err, errors.ErrManualResolutionRequired):
		default:
			e.fail(c.Item, errors.WithContext(err, "resolve conflict"))
			return
		}
	}

	e.queueConflict(c)
	logger.Warn(c.Message)
	e.opts.Notifier.Notify("conflict:detected", map[string]interface{}{
		"id":       c.ID,
		"path":     c.Item.Path,
		"type":     string(c.Type),
		"severity": string(c.Severity),
		"origin":   string(c.Item.Origin),
		"message":  c.Message,
	})
	e.emit(ConflictDetected{Conflict: *c})
}

func (e *Engine) notifyResolved(c *conflict.Conflict, res conflict.Resolution, auto bool) {
	e.opts.Notifier.Notify("conflict:resolved", map[string]interface{}{
		"id":       c.ID,
		"path":     c.Item.Path,
		"type":     string(c.Type),
		"strategy": string(res.Strategy),
		"result":   string(res.Result),
		"auto":     auto,
	})
}

func (e *Engine) complete(item sync.Item, skipped bool) {
	item.Status = sync.Done
	e.emit(SyncCompleted{Item: item, Skipped: skipped, At: e.opts.Clock.Now()})
}

// fail reports the failure, and retries the item unless it has failed too
// many times or retrying can't help.
func (e *Engine) fail(item sync.Item, err error) {
	item.Status = sync.Failed
	item.Attempts++

	logger := log.WithError(err).WithFields(log.Fields{
		"path":     item.Path,
		"origin":   item.Origin,
		"attempts": item.Attempts,
	})
	if item.Attempts < maxAttempts && !errors.Is(err, errors.ErrAuthentication) && e.queue.Requeue(item) {
		logger.Warn("Failed to sync document. Will retry.")
	} else {
		logger.Error("Failed to sync document")
	}

	e.opts.Notifier.Notify("sync:error", map[string]interface{}{
		"path":     item.Path,
		"origin":   string(item.Origin),
		"attempts": item.Attempts,
		"error":    err.Error(),
	})
	e.emit(SyncError{Item: item, Err: err, At: e.opts.Clock.Now()})
}

// current updates the kind of change to match the incoming side, which may
// have changed since the item was queued.
func current(item sync.Item, incoming sync.SideState) sync.Item {
	switch {
	case !incoming.Exists && !item.Kind.IsDelete():
		item.Kind = sync.Delete
		if item.Origin == sync.Remote {
			item.Kind = sync.Deleted
		}
		item.Fingerprint = ""
	case incoming.Exists && item.Kind.IsDelete():
		item.Kind = sync.Update
		if item.Origin == sync.Remote {
			item.Kind = sync.Updated
		}
		item.Fingerprint = incoming.Fingerprint
	case incoming.Exists:
		item.Fingerprint = incoming.Fingerprint
	}
	return item
}

// adopted describes a document that was already identical on both sides.
func adopted(item sync.Item, incoming, opposing sync.SideState) sync.Applied {
	local, remote := incoming, opposing
	if item.Origin == sync.Remote {
		local, remote = opposing, incoming
	}
	return sync.Applied{
		RemoteRef:         remote.Ref,
		LocalPath:         local.Ref,
		LocalFingerprint:  local.Fingerprint,
		RemoteFingerprint: remote.Fingerprint,
		Content:           local.Content,
	}
}
