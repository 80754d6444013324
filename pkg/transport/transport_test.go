package transport

import (
	"context"
	goSync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/wikisync/pkg/sync"
	"github.com/sidkik/wikisync/pkg/wiki"
)

type memWiki struct {
	lock   goSync.Mutex
	pages  map[int]wiki.Page
	nextID int
	gets   int
}

func newMemWiki() *memWiki {
	return &memWiki{pages: map[int]wiki.Page{}, nextID: 1}
}

func (w *memWiki) ListPages(ctx context.Context) (pages []wiki.Page, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	for _, p := range w.pages {
		pages = append(pages, p)
	}
	return pages, nil
}

func (w *memWiki) GetPage(ctx context.Context, id int) (wiki.Page, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.gets++
	p, ok := w.pages[id]
	if !ok {
		return wiki.Page{}, wiki.ErrPageNotFound
	}
	return p, nil
}

func (w *memWiki) GetPageByPath(ctx context.Context, path, locale string) (wiki.Page, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	for _, p := range w.pages {
		if p.Path == path {
			return p, nil
		}
	}
	return wiki.Page{}, wiki.ErrPageNotFound
}

func (w *memWiki) CreatePage(ctx context.Context, page wiki.Page) (wiki.Page, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	page.ID = w.nextID
	w.nextID++
	page.UpdatedAt = time.Now()
	w.pages[page.ID] = page
	return page, nil
}

func (w *memWiki) UpdatePage(ctx context.Context, page wiki.Page) (wiki.Page, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if _, ok := w.pages[page.ID]; !ok {
		return wiki.Page{}, wiki.ErrPageNotFound
	}
	page.UpdatedAt = time.Now()
	w.pages[page.ID] = page
	return page, nil
}

func (w *memWiki) DeletePage(ctx context.Context, id int) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.pages, id)
	return nil
}

func (w *memWiki) ServerVersion(ctx context.Context) (string, error) {
	return "2.5.0", nil
}

func newTestTransport() (*Transport, *memWiki) {
	fs = afero.NewMemMapFs()
	client := newMemWiki()
	return New(client, Options{Root: "/root", Locale: "en"}), client
}

func TestPushAndPull(t *testing.T) {
	ctx := context.Background()
	tr, client := newTestTransport()
	require.NoError(t, afero.WriteFile(fs, "/root/guides/setup.md", []byte("# Setup Guide\n\nSteps."), 0644))

	item := sync.NewItem(sync.Local, "/root/guides/setup.md", "guides/setup", sync.Add, "", time.Now())
	applied, err := tr.ApplyLocalToRemote(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "1", applied.RemoteRef)
	assert.Equal(t, "/root/guides/setup.md", applied.LocalPath)
	assert.Equal(t, sync.HashContent([]byte("# Setup Guide\n\nSteps.")), applied.LocalFingerprint)

	page := client.pages[1]
	assert.Equal(t, "guides/setup", page.Path)
	assert.Equal(t, "Setup Guide", page.Title)
	assert.True(t, page.IsPublished)
	assert.Equal(t, "en", page.Locale)
	assert.Equal(t, page.Fingerprint(), applied.RemoteFingerprint)

	// Both sides now inspect to the fingerprints that were recorded.
	local, err := tr.Inspect(ctx, sync.Local, "guides/setup")
	require.NoError(t, err)
	assert.True(t, local.Exists)
	assert.Equal(t, applied.LocalFingerprint, local.Fingerprint)

	remote, err := tr.Inspect(ctx, sync.Remote, "guides/setup")
	require.NoError(t, err)
	assert.True(t, remote.Exists)
	assert.Equal(t, applied.RemoteFingerprint, remote.Fingerprint)
	assert.Equal(t, "1", remote.Ref)

	// Edit the page remotely and pull it.
	page.Content = "# Setup Guide\n\nNew steps."
	page.Tags = []string{"docs"}
	client.pages[1] = page

	pull := sync.NewItem(sync.Remote, "1", "guides/setup", sync.Updated, "", time.Now())
	applied, err = tr.ApplyRemoteToLocal(ctx, pull)
	require.NoError(t, err)
	content, err := afero.ReadFile(fs, "/root/guides/setup.md")
	require.NoError(t, err)
	assert.Equal(t, "# Setup Guide\n\nNew steps.", string(content))
	assert.Equal(t, page.Fingerprint(), applied.RemoteFingerprint)

	// Pushing an update keeps the page's metadata.
	require.NoError(t, afero.WriteFile(fs, "/root/guides/setup.md", []byte("# Renamed\n"), 0644))
	_, err = tr.ApplyLocalToRemote(ctx, sync.NewItem(sync.Local, "/root/guides/setup.md",
		"guides/setup", sync.Update, "", time.Now()))
	require.NoError(t, err)
	assert.Len(t, client.pages, 1)
	assert.Equal(t, "Renamed", client.pages[1].Title)
	assert.Equal(t, []string{"docs"}, client.pages[1].Tags)

	// No temporary files are left behind.
	files, err := afero.ReadDir(fs, "/root/guides")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	tr, client := newTestTransport()
	require.NoError(t, afero.WriteFile(fs, "/root/a.md", []byte("a"), 0644))

	_, err := tr.ApplyLocalToRemote(ctx, sync.NewItem(sync.Local, "/root/a.md", "a", sync.Add, "", time.Now()))
	require.NoError(t, err)
	require.Len(t, client.pages, 1)

	require.NoError(t, fs.Remove("/root/a.md"))
	applied, err := tr.ApplyLocalToRemote(ctx, sync.NewItem(sync.Local, "/root/a.md", "a", sync.Delete, "",
		time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "1", applied.RemoteRef)
	assert.Empty(t, client.pages)

	// Deleting something that's already gone is a no-op.
	_, err = tr.ApplyLocalToRemote(ctx, sync.NewItem(sync.Local, "/root/a.md", "a", sync.Delete, "",
		time.Now()))
	assert.NoError(t, err)

	remote, err := tr.Inspect(ctx, sync.Remote, "a")
	assert.NoError(t, err)
	assert.False(t, remote.Exists)

	require.NoError(t, afero.WriteFile(fs, "/root/b.md", []byte("b"), 0644))
	_, err = tr.ApplyRemoteToLocal(ctx, sync.NewItem(sync.Remote, "9", "b", sync.Deleted, "", time.Now()))
	assert.NoError(t, err)
	exists, err := afero.Exists(fs, "/root/b.md")
	assert.NoError(t, err)
	assert.False(t, exists)

	local, err := tr.Inspect(ctx, sync.Local, "b")
	assert.NoError(t, err)
	assert.False(t, local.Exists)
	assert.Equal(t, "/root/b.md", local.Ref)
}

func TestPushMissingFile(t *testing.T) {
	tr, _ := newTestTransport()
	_, err := tr.ApplyLocalToRemote(context.Background(),
		sync.NewItem(sync.Local, "/root/a.md", "a", sync.Add, "", time.Now()))
	assert.Error(t, err)
}

func TestWriteResolved(t *testing.T) {
	ctx := context.Background()
	tr, client := newTestTransport()

	item := sync.NewItem(sync.Remote, "1", "notes/todo", sync.Updated, "", time.Now())
	applied, err := tr.WriteResolved(ctx, item, "# Todo\n- merged")
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/root/notes/todo.md")
	require.NoError(t, err)
	assert.Equal(t, "# Todo\n- merged", string(content))
	assert.Equal(t, "# Todo\n- merged", client.pages[1].Content)
	assert.Equal(t, "# Todo\n- merged", applied.Content)
}

func TestFindPageUsesCachedID(t *testing.T) {
	ctx := context.Background()
	tr, client := newTestTransport()
	created, err := client.CreatePage(ctx, wiki.Page{Path: "a", Content: "a"})
	require.NoError(t, err)

	_, err = tr.Inspect(ctx, sync.Remote, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, client.gets)

	_, err = tr.Inspect(ctx, sync.Remote, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, client.gets)

	// A page that moved is found again by path.
	moved := client.pages[created.ID]
	moved.Path = "b"
	client.pages[created.ID] = moved
	state, err := tr.Inspect(ctx, sync.Remote, "a")
	assert.NoError(t, err)
	assert.False(t, state.Exists)
}

// slowLookupWiki blocks path lookups until released.
type slowLookupWiki struct {
	*memWiki
	release chan struct{}
	lookups int32
}

func (w *slowLookupWiki) GetPageByPath(ctx context.Context, path, locale string) (wiki.Page, error) {
	atomic.AddInt32(&w.lookups, 1)
	<-w.release
	return w.memWiki.GetPageByPath(ctx, path, locale)
}

func TestConcurrentLookupsCollapse(t *testing.T) {
	ctx := context.Background()
	fs = afero.NewMemMapFs()
	client := &slowLookupWiki{memWiki: newMemWiki(), release: make(chan struct{})}
	_, err := client.CreatePage(ctx, wiki.Page{Path: "guide", Content: "# Guide"})
	require.NoError(t, err)
	tr := New(client, Options{Root: "/root", Locale: "en"})

	var wg goSync.WaitGroup
	states := make([]sync.SideState, 2)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], _ = tr.Inspect(ctx, sync.Remote, "guide")
		}(i)
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&client.lookups) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&client.lookups))
	assert.True(t, states[0].Exists)
	assert.Equal(t, states[0], states[1])
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Hello", Title("a/b", "intro\n# Hello \n## Sub"))
	assert.Equal(t, "b", Title("a/b", "## Only a subheader"))
	assert.Equal(t, "b", Title("a/b", "#\n"))
}
