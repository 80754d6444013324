package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	goSync "sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
)

var fs = afero.NewOsFs()

const (
	// DefaultDebounce is how long a path must be quiet before its change is
	// handled.
	DefaultDebounce = time.Second

	defaultBuffer = 64
)

// Options configures a Watcher.
type Options struct {
	// Ignore is a list of doublestar globs matched against the slash
	// separated path relative to the root, and against the file name.
	Ignore []string

	Debounce           time.Duration
	LargeFileThreshold int64
	Clock              clockwork.Clock

	// Buffer is the capacity of the event channel.
	Buffer int
}

// Watcher watches a directory tree and reports settled changes to markdown
// documents within it.
type Watcher struct {
	root string
	opts Options

	events chan Event
	stop   chan struct{}

	lock     goSync.Mutex
	cache    map[string]string
	dirs     map[string]struct{}
	timers   map[string]pendingTimer
	seq      uint64
	stopped  bool
	inFlight goSync.WaitGroup

	notify *fsnotify.Watcher
}

type pendingTimer struct {
	timer clockwork.Timer
	seq   uint64
}

// New creates a watcher for `root`. Nothing happens until Watch is called.
func New(root string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.LargeFileThreshold == 0 {
		opts.LargeFileThreshold = sync.DefaultLargeFileThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	return &Watcher{
		root:   filepath.Clean(root),
		opts:   opts,
		events: make(chan Event, opts.Buffer),
		stop:   make(chan struct{}),
		cache:  map[string]string{},
		dirs:   map[string]struct{}{},
		timers: map[string]pendingTimer{},
	}
}

// Watch scans the tree, and then reports changes on the returned channel
// until `ctx` is cancelled. The channel is closed once the watcher has shut
// down.
func (w *Watcher) Watch(ctx context.Context) (<-chan Event, error) {
	if err := w.scan(w.root); err != nil {
		return nil, errors.WithContext(err, "scan")
	}

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	w.lock.Lock()
	w.notify = notify
	dirs := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		dirs = append(dirs, dir)
	}
	w.lock.Unlock()

	// fsnotify doesn't watch directories recursively, so each directory is
	// added individually.
	for _, dir := range dirs {
		if err := notify.Add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := notify.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}
			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	go w.run(ctx, notify)
	return w.events, nil
}

func (w *Watcher) run(ctx context.Context, notify *fsnotify.Watcher) {
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-notify.Events:
			if !ok {
				return
			}
			w.schedule(ev.Name)
		case err, ok := <-notify.Errors:
			if !ok {
				return
			}
			w.emit(Event{Kind: Error, Path: w.root, Err: err, DetectedAt: w.opts.Clock.Now()})
		}
	}
}

// shutdown stops all pending timers, waits for running handlers, and closes
// the event channel.
func (w *Watcher) shutdown() {
	w.lock.Lock()
	if w.stopped {
		w.lock.Unlock()
		return
	}
	w.stopped = true
	close(w.stop)
	for path, pending := range w.timers {
		pending.timer.Stop()
		delete(w.timers, path)
	}
	notify := w.notify
	w.lock.Unlock()

	if notify != nil {
		if err := notify.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}

	w.inFlight.Wait()
	close(w.events)
}

// Fingerprint returns the cached fingerprint of the file at `path`.
func (w *Watcher) Fingerprint(path string) (string, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	fp, ok := w.cache[path]
	return fp, ok
}

// Document is a markdown file the watcher knows about.
type Document struct {
	Path        string
	DocPath     string
	Fingerprint string
}

// Documents returns every document the watcher knows about, with the
// fingerprint it last saw.
func (w *Watcher) Documents() []Document {
	w.lock.Lock()
	defer w.lock.Unlock()

	docs := make([]Document, 0, len(w.cache))
	for path, fp := range w.cache {
		docPath, _ := sync.DocPath(w.root, path)
		docs = append(docs, Document{Path: path, DocPath: docPath, Fingerprint: fp})
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Path < docs[j].Path
	})
	return docs
}

// schedule (re)starts the debounce timer for `path`.
func (w *Watcher) schedule(path string) {
	path = filepath.Clean(path)
	if w.ignored(path) {
		return
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	if w.stopped {
		return
	}

	if pending, ok := w.timers[path]; ok {
		pending.timer.Stop()
	}
	w.seq++
	seq := w.seq
	settledAt := w.opts.Clock.Now().Add(w.opts.Debounce)
	w.timers[path] = pendingTimer{
		seq: seq,
		timer: w.opts.Clock.AfterFunc(w.opts.Debounce, func() {
			w.settle(path, seq, settledAt)
		}),
	}
}

func (w *Watcher) settle(path string, seq uint64, settledAt time.Time) {
	w.lock.Lock()
	if pending, ok := w.timers[path]; ok && pending.seq == seq {
		delete(w.timers, path)
	}
	if w.stopped {
		w.lock.Unlock()
		return
	}
	w.inFlight.Add(1)
	w.lock.Unlock()

	defer w.inFlight.Done()
	w.handleAt(path, settledAt)
}

func (w *Watcher) handle(path string) {
	w.handleAt(path, w.opts.Clock.Now())
}

// handleAt inspects `path` after its notifications have settled, and reports
// what changed.
func (w *Watcher) handleAt(path string, now time.Time) {
	fi, err := fs.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.emit(Event{Kind: Error, Path: path, Err: errors.WithContext(err, "stat"), DetectedAt: now})
			return
		}
		w.handleRemoved(path, now)
		return
	}

	if fi.IsDir() {
		w.handleDirAdded(path, now)
		return
	}
	w.handleFile(path, fi, now)
}

func (w *Watcher) handleFile(path string, fi os.FileInfo, now time.Time) {
	docPath, ok := sync.DocPath(w.root, path)
	if !ok {
		return
	}

	fp, err := sync.HashFile(fs, path, w.opts.LargeFileThreshold)
	if err != nil {
		w.emit(Event{Kind: Error, Path: path, Err: errors.WithContext(err, "fingerprint"), DetectedAt: now})
		return
	}

	w.lock.Lock()
	old, known := w.cache[path]
	w.cache[path] = fp
	w.lock.Unlock()

	ev := Event{
		Path:        path,
		DocPath:     docPath,
		Fingerprint: fp,
		ModTime:     fi.ModTime(),
		DetectedAt:  now,
	}
	switch {
	case !known:
		ev.Kind = Add
	case old != fp:
		ev.Kind = Update
	default:
		log.WithField("path", path).Debug("Ignoring change that didn't alter file contents")
		return
	}
	w.emit(ev)
}

func (w *Watcher) handleRemoved(path string, now time.Time) {
	w.lock.Lock()
	if _, ok := w.dirs[path]; ok {
		prefix := path + string(filepath.Separator)
		for dir := range w.dirs {
			if dir == path || strings.HasPrefix(dir, prefix) {
				delete(w.dirs, dir)
			}
		}
		for file := range w.cache {
			if strings.HasPrefix(file, prefix) {
				delete(w.cache, file)
			}
		}
		w.lock.Unlock()
		w.emit(Event{Kind: DirRemoved, Path: path, DetectedAt: now})
		return
	}

	fp, ok := w.cache[path]
	delete(w.cache, path)
	w.lock.Unlock()
	if !ok {
		return
	}

	docPath, _ := sync.DocPath(w.root, path)
	w.emit(Event{
		Kind:        Delete,
		Path:        path,
		DocPath:     docPath,
		Fingerprint: fp,
		DetectedAt:  now,
	})
}

func (w *Watcher) handleDirAdded(path string, now time.Time) {
	w.lock.Lock()
	_, known := w.dirs[path]
	w.lock.Unlock()
	if known {
		return
	}

	w.emit(Event{Kind: DirAdded, Path: path, DetectedAt: now})

	// Files may have been created before the new directory was watched, so
	// walk it and report anything we haven't seen.
	err := afero.Walk(fs, path, func(child string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if w.ignored(child) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.IsDir() {
			w.handleFile(child, fi, now)
			return nil
		}

		w.lock.Lock()
		w.dirs[child] = struct{}{}
		notify := w.notify
		w.lock.Unlock()
		if notify != nil {
			if err := notify.Add(child); err != nil {
				return errors.WithContext(err, fmt.Sprintf("watch %q", child))
			}
		}
		return nil
	})
	if err != nil {
		w.emit(Event{Kind: Error, Path: path, Err: errors.WithContext(err, "scan directory"), DetectedAt: now})
	}
}

// scan walks `dir`, recording every directory and the fingerprint of every
// document. Files that fail to fingerprint are skipped, and will be picked up
// by their next change.
func (w *Watcher) scan(dir string) error {
	return afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}
		if path != dir && w.ignored(path) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.IsDir() {
			w.lock.Lock()
			w.dirs[path] = struct{}{}
			w.lock.Unlock()
			return nil
		}

		if _, ok := sync.DocPath(w.root, path); !ok {
			return nil
		}

		fp, err := sync.HashFile(fs, path, w.opts.LargeFileThreshold)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to fingerprint file")
			return nil
		}

		w.lock.Lock()
		w.cache[path] = fp
		w.lock.Unlock()
		return nil
	})
}

// ignored returns whether `path` matches any of the ignore patterns.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	if rel == "." {
		return false
	}

	rel = filepath.ToSlash(rel)
	name := filepath.Base(path)
	for _, pattern := range w.opts.Ignore {
		if match(pattern, rel) || match(pattern, name) {
			return true
		}
	}
	return false
}

func match(pattern, path string) bool {
	matched, err := doublestar.Match(pattern, path)
	if err != nil {
		log.WithError(err).WithField("pattern", pattern).Debug("Invalid ignore pattern")
		return false
	}
	return matched
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}
