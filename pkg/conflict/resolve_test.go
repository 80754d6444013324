package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
)

// memTransport keeps both sides of every document in memory.
type memTransport struct {
	local  map[string]string
	remote map[string]string
	writes int
}

func newMemTransport() *memTransport {
	return &memTransport{local: map[string]string{}, remote: map[string]string{}}
}

func (m *memTransport) docs(side sync.Origin) map[string]string {
	if side == sync.Local {
		return m.local
	}
	return m.remote
}

func (m *memTransport) Inspect(ctx context.Context, side sync.Origin, path string) (sync.SideState, error) {
	content, ok := m.docs(side)[path]
	if !ok {
		return sync.SideState{Side: side}, nil
	}
	return sync.SideState{
		Side:        side,
		Exists:      true,
		Fingerprint: sync.HashContent([]byte(content)),
		Content:     content,
		Ref:         path,
	}, nil
}

func (m *memTransport) copy(item sync.Item, from, to sync.Origin) (sync.Applied, error) {
	m.writes++
	content, ok := m.docs(from)[item.Path]
	if !ok || item.Kind.IsDelete() {
		delete(m.docs(to), item.Path)
		return sync.Applied{}, nil
	}
	m.docs(to)[item.Path] = content
	fp := sync.HashContent([]byte(content))
	return sync.Applied{LocalFingerprint: fp, RemoteFingerprint: fp, RemoteRef: "id-" + item.Path,
		Content: content}, nil
}

func (m *memTransport) ApplyLocalToRemote(ctx context.Context, item sync.Item) (sync.Applied, error) {
	return m.copy(item, sync.Local, sync.Remote)
}

func (m *memTransport) ApplyRemoteToLocal(ctx context.Context, item sync.Item) (sync.Applied, error) {
	return m.copy(item, sync.Remote, sync.Local)
}

func (m *memTransport) WriteResolved(ctx context.Context, item sync.Item, content string) (sync.Applied, error) {
	m.writes++
	m.local[item.Path] = content
	m.remote[item.Path] = content
	fp := sync.HashContent([]byte(content))
	return sync.Applied{LocalFingerprint: fp, RemoteFingerprint: fp, Content: content}, nil
}

type memBackup struct {
	backups []sync.Origin
	err     error
}

func (b *memBackup) BackupBeforeOverwrite(ctx context.Context, side sync.Origin, item sync.Item,
	current sync.SideState) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.backups = append(b.backups, side)
	return string(side) + "-backup", nil
}

type memBases map[string]string

func (b memBases) FindBase(path string) (string, bool) {
	content, ok := b[path]
	return content, ok
}

func (b memBases) RecordBase(path, content string) error {
	b[path] = content
	return nil
}

type resolverTest struct {
	transport *memTransport
	backup    *memBackup
	bases     memBases
	state     *sync.StateStore
	resolver  *Resolver
}

func newResolverTest() resolverTest {
	rt := resolverTest{
		transport: newMemTransport(),
		backup:    &memBackup{},
		bases:     memBases{},
		state:     sync.NewStateStore(),
	}
	rt.resolver = NewResolver(rt.transport, rt.backup, rt.bases, rt.state, clockwork.NewFakeClock())
	return rt
}

func newConflict(typ Type, origin sync.Origin) *Conflict {
	kind := sync.Update
	if origin == sync.Remote {
		kind = sync.Updated
	}
	return &Conflict{
		ID:   "c1",
		Type: typ,
		Item: sync.NewItem(origin, "key", "doc", kind, "fp", time.Now()),
	}
}

func TestAutoResolveUseRemote(t *testing.T) {
	rt := newResolverTest()
	rt.transport.local["doc"] = "local"
	rt.transport.remote["doc"] = "remote"

	res, err := rt.resolver.AutoResolve(context.Background(), newConflict(RemoteNewer, sync.Local))
	require.NoError(t, err)
	assert.Equal(t, UseRemote, res.Strategy)
	assert.Equal(t, Applied, res.Result)
	assert.Equal(t, "remote", rt.transport.local["doc"])

	// Only the overwritten side is backed up.
	assert.Equal(t, []sync.Origin{sync.Local}, rt.backup.backups)

	entry, ok := rt.state.Get("doc")
	require.True(t, ok)
	assert.Equal(t, sync.HashContent([]byte("remote")), entry.LocalFingerprint)
	assert.Equal(t, sync.Remote, entry.Origin)
	assert.Equal(t, "remote", rt.bases["doc"])
}

func TestAutoResolveIgnoresWinningOrigin(t *testing.T) {
	rt := newResolverTest()
	rt.transport.local["doc"] = "local"
	rt.transport.remote["doc"] = "remote"

	res, err := rt.resolver.AutoResolve(context.Background(), newConflict(LocalNewer, sync.Local))
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Result)
	assert.Zero(t, rt.transport.writes)
	assert.Empty(t, rt.backup.backups)
	assert.Equal(t, 0, rt.state.Len())
}

func TestAutoResolveManualTypes(t *testing.T) {
	for _, typ := range []Type{BothChanged, Structural} {
		rt := newResolverTest()
		_, err := rt.resolver.AutoResolve(context.Background(), newConflict(typ, sync.Local))
		assert.True(t, errors.Is(err, errors.ErrManualResolutionRequired), string(typ))
		assert.Zero(t, rt.transport.writes)
	}
}

func TestAutoMerge(t *testing.T) {
	rt := newResolverTest()
	rt.transport.local["doc"] = lines("# A", "local", "C")
	rt.transport.remote["doc"] = lines("# A", "B", "remote")
	rt.bases["doc"] = lines("# A", "B", "C")

	res, err := rt.resolver.AutoResolve(context.Background(), newConflict(Content, sync.Local))
	require.NoError(t, err)
	assert.Equal(t, Merged, res.Result)
	assert.Equal(t, lines("# A", "local", "remote"), res.Content)
	assert.Equal(t, res.Content, rt.transport.local["doc"])
	assert.Equal(t, res.Content, rt.transport.remote["doc"])
	assert.Len(t, rt.backup.backups, 2)
	assert.Equal(t, res.Content, rt.bases["doc"])
}

func TestAutoMergeFailure(t *testing.T) {
	rt := newResolverTest()
	rt.transport.local["doc"] = lines("A", "L", "C")
	rt.transport.remote["doc"] = lines("A", "R", "C")
	rt.bases["doc"] = lines("A", "B", "C")

	res, err := rt.resolver.AutoResolve(context.Background(), newConflict(Content, sync.Remote))
	assert.True(t, errors.Is(err, errors.ErrMergeFailed))
	assert.Equal(t, MergeFailed, res.Result)
	assert.True(t, res.RequiresManual)
	assert.Len(t, res.Conflicts, 1)

	// Nothing is written when the merge fails.
	assert.Zero(t, rt.transport.writes)
	assert.Equal(t, 0, rt.state.Len())
}

func TestResolveManual(t *testing.T) {
	tests := []struct {
		name       string
		resolution Resolution
		expErr     error
		expLocal   string
		expRemote  string
	}{
		{
			name:       "use local",
			resolution: Resolution{Strategy: UseLocal},
			expLocal:   "local",
			expRemote:  "local",
		},
		{
			name:       "use remote",
			resolution: Resolution{Strategy: UseRemote},
			expLocal:   "remote",
			expRemote:  "remote",
		},
		{
			name:       "use custom",
			resolution: Resolution{Strategy: UseCustom, Content: "custom"},
			expLocal:   "custom",
			expRemote:  "custom",
		},
		{
			name:       "manual merge",
			resolution: Resolution{Strategy: ManualMerge, Content: "merged"},
			expLocal:   "merged",
			expRemote:  "merged",
		},
		{
			name:       "custom without content",
			resolution: Resolution{Strategy: UseCustom},
			expErr:     errors.InvalidStrategy{Strategy: "use_custom", Reason: "replacement content is required"},
		},
		{
			name: "manual merge with markers",
			resolution: Resolution{Strategy: ManualMerge,
				Content: lines("A", "<<<<<<< LOCAL", "L", "=======", "R", ">>>>>>> REMOTE")},
			expErr: errors.ErrUnresolvedMarkers,
		},
		{
			name:       "unknown strategy",
			resolution: Resolution{Strategy: "flip_a_coin"},
			expErr:     errors.InvalidStrategy{Strategy: "flip_a_coin"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rt := newResolverTest()
			rt.transport.local["doc"] = "local"
			rt.transport.remote["doc"] = "remote"

			res, err := rt.resolver.ResolveManual(context.Background(),
				newConflict(BothChanged, sync.Local), test.resolution)
			if test.expErr != nil {
				assert.Equal(t, test.expErr, err)

				// Rejected resolutions never touch either side.
				assert.Zero(t, rt.transport.writes)
				assert.Empty(t, rt.backup.backups)
				assert.Equal(t, "local", rt.transport.local["doc"])
				assert.Equal(t, "remote", rt.transport.remote["doc"])
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.resolution.Strategy, res.Strategy)
			assert.Equal(t, test.expLocal, rt.transport.local["doc"])
			assert.Equal(t, test.expRemote, rt.transport.remote["doc"])
			assert.ElementsMatch(t, []sync.Origin{sync.Local, sync.Remote}, rt.backup.backups)

			_, ok := rt.state.Get("doc")
			assert.True(t, ok)
		})
	}
}

func TestResolveBackupFailure(t *testing.T) {
	rt := newResolverTest()
	rt.transport.local["doc"] = "local"
	rt.transport.remote["doc"] = "remote"
	rt.backup.err = errors.New("disk full")

	_, err := rt.resolver.ResolveManual(context.Background(), newConflict(BothChanged, sync.Local),
		Resolution{Strategy: UseLocal})
	assert.Error(t, err)
	assert.Zero(t, rt.transport.writes)
	assert.Equal(t, 0, rt.state.Len())
}

func TestWinnerItem(t *testing.T) {
	item := sync.NewItem(sync.Remote, "7", "doc", sync.Updated, "r", time.Now())

	gone := winnerItem(item, sync.Local, sync.SideState{Side: sync.Local})
	assert.Equal(t, sync.Delete, gone.Kind)
	assert.Equal(t, sync.Local, gone.Origin)
	assert.Empty(t, gone.Fingerprint)

	present := winnerItem(item, sync.Local, sync.SideState{Side: sync.Local, Exists: true,
		Fingerprint: "l", Ref: "/root/doc.md"})
	assert.Equal(t, sync.Update, present.Kind)
	assert.Equal(t, "/root/doc.md", present.Key)
	assert.Equal(t, "l", present.Fingerprint)
}
