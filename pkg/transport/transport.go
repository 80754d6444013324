// Package transport moves documents between the local tree and the wiki.
package transport

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	goSync "sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
	"github.com/sidkik/wikisync/pkg/wiki"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Options configures a Transport.
type Options struct {
	Root               string
	Locale             string
	LargeFileThreshold int64
}

// Transport implements sync.Transport on top of the local filesystem and the
// wiki API.
type Transport struct {
	root      string
	locale    string
	threshold int64
	client    wiki.Client

	lock goSync.Mutex
	ids  map[string]int

	// lookups collapses concurrent path lookups of the same document.
	lookups singleflight.Group
}

// New returns a Transport that syncs `opts.Root` with the wiki.
func New(client wiki.Client, opts Options) *Transport {
	if opts.LargeFileThreshold == 0 {
		opts.LargeFileThreshold = sync.DefaultLargeFileThreshold
	}
	return &Transport{
		root:      opts.Root,
		locale:    opts.Locale,
		threshold: opts.LargeFileThreshold,
		client:    client,
		ids:       map[string]int{},
	}
}

// Inspect returns the current state of one side of a document.
func (t *Transport) Inspect(ctx context.Context, side sync.Origin, docPath string) (sync.SideState, error) {
	if side == sync.Local {
		return t.inspectLocal(docPath)
	}

	page, err := t.findPage(ctx, docPath, "")
	if errors.Is(err, wiki.ErrPageNotFound) {
		return sync.SideState{Side: sync.Remote}, nil
	}
	if err != nil {
		return sync.SideState{}, err
	}
	return remoteState(page), nil
}

func (t *Transport) inspectLocal(docPath string) (sync.SideState, error) {
	localPath := sync.LocalPath(t.root, docPath)
	state := sync.SideState{Side: sync.Local, Ref: localPath}

	fi, err := fs.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return sync.SideState{}, errors.WithContext(err, "stat")
	}

	content, err := afero.ReadFile(fs, localPath)
	if err != nil {
		return sync.SideState{}, errors.WithContext(err, "read")
	}

	fp, err := sync.HashFile(fs, localPath, t.threshold)
	if err != nil {
		return sync.SideState{}, errors.WithContext(err, "fingerprint")
	}

	state.Exists = true
	state.Fingerprint = fp
	state.ModTime = fi.ModTime()
	state.Content = string(content)
	return state, nil
}

// ApplyLocalToRemote pushes the local document to the wiki, or deletes the
// page if the item is a delete.
func (t *Transport) ApplyLocalToRemote(ctx context.Context, item sync.Item) (sync.Applied, error) {
	localPath := sync.LocalPath(t.root, item.Path)

	if item.Kind.IsDelete() {
		page, err := t.findPage(ctx, item.Path, "")
		switch {
		case errors.Is(err, wiki.ErrPageNotFound):
			return sync.Applied{LocalPath: localPath}, nil
		case err != nil:
			return sync.Applied{}, err
		}

		if err := t.client.DeletePage(ctx, page.ID); err != nil && !errors.Is(err, wiki.ErrPageNotFound) {
			return sync.Applied{}, err
		}
		t.forget(item.Path)
		log.WithField("path", item.Path).Info("Deleted wiki page")
		return sync.Applied{LocalPath: localPath, RemoteRef: page.Key()}, nil
	}

	content, err := afero.ReadFile(fs, localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return sync.Applied{}, errors.FileNotFound{Path: localPath}
		}
		return sync.Applied{}, errors.WithContext(err, "read")
	}

	return t.push(ctx, item.Path, localPath, string(content))
}

// ApplyRemoteToLocal writes the wiki page to the local tree, or removes the
// local file if the item is a delete.
func (t *Transport) ApplyRemoteToLocal(ctx context.Context, item sync.Item) (sync.Applied, error) {
	localPath := sync.LocalPath(t.root, item.Path)

	if item.Kind.IsDelete() {
		if err := fs.Remove(localPath); err != nil && !os.IsNotExist(err) {
			return sync.Applied{}, errors.WithContext(err, "remove")
		}
		t.forget(item.Path)
		log.WithField("path", localPath).Info("Deleted local file")
		return sync.Applied{LocalPath: localPath, RemoteRef: item.Key}, nil
	}

	keyHint := ""
	if item.Origin == sync.Remote {
		keyHint = item.Key
	}
	page, err := t.findPage(ctx, item.Path, keyHint)
	if err != nil {
		return sync.Applied{}, err
	}

	if err := writeFile(localPath, page.Content); err != nil {
		return sync.Applied{}, err
	}

	fp, err := sync.HashFile(fs, localPath, t.threshold)
	if err != nil {
		return sync.Applied{}, errors.WithContext(err, "fingerprint")
	}

	log.WithField("path", localPath).Info("Pulled wiki page")
	return sync.Applied{
		RemoteRef:         page.Key(),
		LocalPath:         localPath,
		LocalFingerprint:  fp,
		RemoteFingerprint: page.Fingerprint(),
		Content:           page.Content,
	}, nil
}

// WriteResolved writes `content` to both sides.
func (t *Transport) WriteResolved(ctx context.Context, item sync.Item, content string) (sync.Applied, error) {
	localPath := sync.LocalPath(t.root, item.Path)
	if err := writeFile(localPath, content); err != nil {
		return sync.Applied{}, err
	}
	return t.push(ctx, item.Path, localPath, content)
}

// push creates or updates the page for `docPath` with `content`. Metadata of
// existing pages is preserved, except for the title which follows the
// document's top level header.
func (t *Transport) push(ctx context.Context, docPath, localPath, content string) (sync.Applied, error) {
	page, err := t.findPage(ctx, docPath, "")
	exists := err == nil
	if err != nil && !errors.Is(err, wiki.ErrPageNotFound) {
		return sync.Applied{}, err
	}

	page.Path = docPath
	page.Content = content
	page.Title = Title(docPath, content)
	if page.Locale == "" {
		page.Locale = t.locale
	}

	var stored wiki.Page
	if exists {
		stored, err = t.client.UpdatePage(ctx, page)
	} else {
		page.IsPublished = true
		stored, err = t.client.CreatePage(ctx, page)
	}
	if err != nil {
		return sync.Applied{}, err
	}
	t.remember(docPath, stored.ID)

	fp, err := sync.HashFile(fs, localPath, t.threshold)
	if err != nil {
		return sync.Applied{}, errors.WithContext(err, "fingerprint")
	}

	log.WithFields(log.Fields{
		"path":    docPath,
		"page":    stored.ID,
		"created": !exists,
	}).Info("Pushed document to wiki")
	return sync.Applied{
		RemoteRef:         stored.Key(),
		LocalPath:         localPath,
		LocalFingerprint:  fp,
		RemoteFingerprint: stored.Fingerprint(),
		Content:           content,
	}, nil
}

// findPage looks up the page for `docPath`. The page ID is used if it's
// known, either from `keyHint` or a previous lookup, and the path otherwise.
func (t *Transport) findPage(ctx context.Context, docPath, keyHint string) (wiki.Page, error) {
	id, ok := t.lookup(docPath)
	if keyHint != "" {
		if parsed, err := strconv.Atoi(keyHint); err == nil {
			id, ok = parsed, true
		}
	}

	if ok {
		page, err := t.client.GetPage(ctx, id)
		switch {
		case err == nil && sync.CleanDocPath(page.Path) == docPath:
			return page, nil
		case err != nil && !errors.Is(err, wiki.ErrPageNotFound):
			return wiki.Page{}, err
		}
		// The page moved or was deleted, so fall back to the path.
		t.forget(docPath)
	}

	found, err, _ := t.lookups.Do(docPath, func() (interface{}, error) {
		return t.client.GetPageByPath(ctx, docPath, t.locale)
	})
	if err != nil {
		return wiki.Page{}, err
	}
	page := found.(wiki.Page)
	t.remember(docPath, page.ID)
	return page, nil
}

func (t *Transport) lookup(docPath string) (int, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	id, ok := t.ids[docPath]
	return id, ok
}

func (t *Transport) remember(docPath string, id int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.ids[docPath] = id
}

func (t *Transport) forget(docPath string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.ids, docPath)
}

func remoteState(page wiki.Page) sync.SideState {
	return sync.SideState{
		Side:        sync.Remote,
		Exists:      true,
		Fingerprint: page.Fingerprint(),
		ModTime:     page.UpdatedAt,
		Content:     page.Content,
		Ref:         page.Key(),
	}
}

// writeFile atomically replaces the file at `path`. The temporary file
// doesn't have the document extension so the watcher ignores it.
func writeFile(path, content string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create directory")
	}

	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.wikisync-tmp", filepath.Base(path)))
	if err := afero.WriteFile(fs, tmpPath, []byte(content), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return errors.WithContext(err, "rename")
	}
	return nil
}

// Title returns the title for a document: its first top level header, or
// its file name if it doesn't have one.
func Title(docPath, content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			if title := strings.TrimSpace(trimmed[2:]); title != "" {
				return title
			}
		}
	}
	return path.Base(docPath)
}
