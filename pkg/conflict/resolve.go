package conflict

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
)

// Resolver applies resolutions to conflicts.
type Resolver struct {
	transport sync.Transport
	backup    sync.Backup
	bases     sync.BaseStore
	state     *sync.StateStore
	clock     clockwork.Clock
}

// NewResolver returns a Resolver that writes through `transport`, and
// records successful resolutions in `state`.
func NewResolver(transport sync.Transport, backup sync.Backup, bases sync.BaseStore,
	state *sync.StateStore, clock clockwork.Clock) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		transport: transport,
		backup:    backup,
		bases:     bases,
		state:     state,
		clock:     clock,
	}
}

// AutoResolve resolves the conflict using the strategy for its type. Types
// without an automatic strategy return ErrManualResolutionRequired. A merge
// that leaves conflicting regions returns ErrMergeFailed along with the
// regions.
func (r *Resolver) AutoResolve(ctx context.Context, c *Conflict) (Resolution, error) {
	switch c.Type {
	case LocalNewer:
		return r.useSide(ctx, c, sync.Local, false)
	case RemoteNewer:
		return r.useSide(ctx, c, sync.Remote, false)
	case Content:
		return r.tryAutoMerge(ctx, c)
	default:
		return Resolution{}, errors.ErrManualResolutionRequired
	}
}

// ResolveManual applies a user chosen resolution. Both sides are backed up
// before anything is written.
func (r *Resolver) ResolveManual(ctx context.Context, c *Conflict, res Resolution) (Resolution, error) {
	switch res.Strategy {
	case UseLocal:
		return r.useSide(ctx, c, sync.Local, true)
	case UseRemote:
		return r.useSide(ctx, c, sync.Remote, true)
	case AutoMerge:
		return r.tryAutoMerge(ctx, c)
	case UseCustom:
		if res.Content == "" {
			return Resolution{}, errors.InvalidStrategy{Strategy: string(res.Strategy),
				Reason: "replacement content is required"}
		}
		return r.writeResolved(ctx, c, res.Strategy, Applied, res.Content)
	case ManualMerge:
		if res.Content == "" {
			return Resolution{}, errors.InvalidStrategy{Strategy: string(res.Strategy),
				Reason: "merged content is required"}
		}
		if HasConflictMarkers(res.Content) {
			return Resolution{}, errors.ErrUnresolvedMarkers
		}
		return r.writeResolved(ctx, c, res.Strategy, Merged, res.Content)
	default:
		return Resolution{}, errors.InvalidStrategy{Strategy: string(res.Strategy)}
	}
}

// useSide overwrites the losing side with the `winner` side. When not
// `manual`, an item that came from the winning side has nothing to
// transfer, and is ignored.
func (r *Resolver) useSide(ctx context.Context, c *Conflict, winner sync.Origin,
	manual bool) (Resolution, error) {

	strategy := UseLocal
	if winner == sync.Remote {
		strategy = UseRemote
	}

	if !manual && c.Item.Origin == winner {
		return Resolution{Strategy: strategy, Result: Ignored, Timestamp: r.clock.Now()}, nil
	}

	winnerState, err := r.transport.Inspect(ctx, winner, c.Item.Path)
	if err != nil {
		return Resolution{}, errors.WithContext(err, fmt.Sprintf("inspect %s", winner))
	}

	sides := []sync.Origin{winner.Opposite()}
	if manual {
		sides = []sync.Origin{sync.Local, sync.Remote}
	}
	backups, err := r.backupSides(ctx, c.Item, sides...)
	if err != nil {
		return Resolution{}, err
	}

	item := winnerItem(c.Item, winner, winnerState)
	var applied sync.Applied
	if winner == sync.Local {
		applied, err = r.transport.ApplyLocalToRemote(ctx, item)
	} else {
		applied, err = r.transport.ApplyRemoteToLocal(ctx, item)
	}
	if err != nil {
		return Resolution{}, errors.WithContext(err, fmt.Sprintf("apply %s", winner))
	}

	r.Record(item, applied)
	return Resolution{
		Strategy:  strategy,
		Result:    Applied,
		Backups:   backups,
		Timestamp: r.clock.Now(),
	}, nil
}

func (r *Resolver) tryAutoMerge(ctx context.Context, c *Conflict) (Resolution, error) {
	local, err := r.transport.Inspect(ctx, sync.Local, c.Item.Path)
	if err != nil {
		return Resolution{}, errors.WithContext(err, "inspect local")
	}
	remote, err := r.transport.Inspect(ctx, sync.Remote, c.Item.Path)
	if err != nil {
		return Resolution{}, errors.WithContext(err, "inspect remote")
	}

	base, ok := r.bases.FindBase(c.Item.Path)
	if !ok {
		log.WithField("path", c.Item.Path).Debug("No merge base available")
	}

	merged := ThreeWayMerge(local.Content, remote.Content, base)
	if !merged.Success {
		return Resolution{
			Strategy:       AutoMerge,
			Result:         MergeFailed,
			Conflicts:      merged.Conflicts,
			RequiresManual: true,
			Timestamp:      r.clock.Now(),
		}, errors.ErrMergeFailed
	}
	return r.writeResolved(ctx, c, AutoMerge, Merged, merged.Content())
}

// writeResolved writes `content` to both sides after backing them up.
func (r *Resolver) writeResolved(ctx context.Context, c *Conflict, strategy Strategy,
	result Result, content string) (Resolution, error) {

	backups, err := r.backupSides(ctx, c.Item, sync.Local, sync.Remote)
	if err != nil {
		return Resolution{}, err
	}

	applied, err := r.transport.WriteResolved(ctx, c.Item, content)
	if err != nil {
		return Resolution{}, errors.WithContext(err, "write resolution")
	}

	r.Record(c.Item, applied)
	return Resolution{
		Strategy:  strategy,
		Result:    result,
		Content:   content,
		Backups:   backups,
		Timestamp: r.clock.Now(),
	}, nil
}

func (r *Resolver) backupSides(ctx context.Context, item sync.Item,
	sides ...sync.Origin) ([]string, error) {

	var ids []string
	for _, side := range sides {
		current, err := r.transport.Inspect(ctx, side, item.Path)
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("inspect %s", side))
		}
		if !current.Exists {
			continue
		}

		id, err := r.backup.BackupBeforeOverwrite(ctx, side, item, current)
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("backup %s", side))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Record stores the fingerprints both sides agreed on after `item` was
// applied, and remembers the content as the base for future merges.
func (r *Resolver) Record(item sync.Item, applied sync.Applied) {
	entry := sync.Entry{
		Path:              item.Path,
		LocalFingerprint:  applied.LocalFingerprint,
		RemoteFingerprint: applied.RemoteFingerprint,
		SyncedAt:          r.clock.Now(),
		Origin:            item.Origin,
		RemoteID:          applied.RemoteRef,
	}
	entry.Fingerprint = entry.SideFingerprint(item.Origin)
	if prev, ok := r.state.Get(item.Path); ok && entry.RemoteID == "" {
		entry.RemoteID = prev.RemoteID
	}
	r.state.Put(entry)

	if item.Kind.IsDelete() {
		return
	}
	if err := r.bases.RecordBase(item.Path, applied.Content); err != nil {
		log.WithError(err).WithField("path", item.Path).Warn("Failed to record merge base")
	}
}

// winnerItem returns an item that describes the winning side, so that the
// transport copies it in the right direction with the right kind of change.
func winnerItem(item sync.Item, winner sync.Origin, state sync.SideState) sync.Item {
	item.Origin = winner
	item.Fingerprint = state.Fingerprint
	item.ModTime = state.ModTime
	if state.Ref != "" {
		item.Key = state.Ref
	}

	switch {
	case !state.Exists && winner == sync.Local:
		item.Kind = sync.Delete
		item.Fingerprint = ""
	case !state.Exists:
		item.Kind = sync.Deleted
		item.Fingerprint = ""
	case winner == sync.Local:
		item.Kind = sync.Update
	default:
		item.Kind = sync.Updated
	}
	return item
}
