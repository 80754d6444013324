// Package wikiwatch detects changes to wiki pages by periodically listing
// them and comparing fingerprints with the previous listing.
package wikiwatch

import (
	"context"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/wikisync/pkg/errors"
	"github.com/sidkik/wikisync/pkg/sync"
	"github.com/sidkik/wikisync/pkg/wiki"
)

// DefaultDeleteGraceCycles is the number of consecutive listings a page may
// be missing from before it's considered deleted.
const DefaultDeleteGraceCycles = 1

// Lister is the part of the wiki client used for polling.
type Lister interface {
	ListPages(ctx context.Context) ([]wiki.Page, error)
}

// EventKind is the type of change reported by the poller.
type EventKind string

const (
	Discovered EventKind = "discovered"
	Updated    EventKind = "updated"
	Deleted    EventKind = "deleted"
	Error      EventKind = "error"
)

// Event is a change to a single page.
type Event struct {
	Kind EventKind

	// Page is the page as listed. For deletes, it's the last listing that
	// contained the page.
	Page wiki.Page

	Fingerprint         string
	PreviousFingerprint string
	DetectedAt          time.Time
	Err                 error
}

// Item converts a page event into a sync item.
func (e Event) Item() sync.Item {
	var kind sync.ChangeKind
	fingerprint := e.Fingerprint
	switch e.Kind {
	case Discovered:
		kind = sync.Discovered
	case Updated:
		kind = sync.Updated
	case Deleted:
		kind = sync.Deleted
		fingerprint = ""
	}

	item := sync.NewItem(sync.Remote, e.Page.Key(), sync.CleanDocPath(e.Page.Path),
		kind, fingerprint, e.DetectedAt)
	item.PreviousFingerprint = e.PreviousFingerprint
	item.ModTime = e.Page.UpdatedAt
	return item
}

// Options configures a Poller.
type Options struct {
	// DeleteGraceCycles is how many consecutive successful listings a page
	// must be absent from before it's reported as deleted.
	DeleteGraceCycles int
	Clock             clockwork.Clock
}

type seenPage struct {
	page         wiki.Page
	fingerprint  string
	lastModified time.Time
	lastSeen     time.Time
	missed       int
}

// Poller tracks the pages seen in previous listings.
type Poller struct {
	lister Lister
	opts   Options

	lock    goSync.Mutex
	polling bool
	seen    map[int]*seenPage
}

// New returns a Poller that hasn't seen any pages yet.
func New(lister Lister, opts Options) *Poller {
	if opts.DeleteGraceCycles <= 0 {
		opts.DeleteGraceCycles = DefaultDeleteGraceCycles
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Poller{
		lister: lister,
		opts:   opts,
		seen:   map[int]*seenPage{},
	}
}

// CheckForChanges lists the wiki once, and returns the pages that were
// discovered or updated since the previous listing. It returns nothing if
// another check is already running.
func (p *Poller) CheckForChanges(ctx context.Context) ([]Event, error) {
	p.lock.Lock()
	if p.polling {
		p.lock.Unlock()
		log.Debug("Skipping wiki poll because one is already running")
		return nil, nil
	}
	p.polling = true
	p.lock.Unlock()

	defer func() {
		p.lock.Lock()
		p.polling = false
		p.lock.Unlock()
	}()

	pages, err := p.lister.ListPages(ctx)
	if err != nil {
		return nil, errors.WithContext(err, "list pages")
	}

	now := p.opts.Clock.Now()
	listed := make(map[int]struct{}, len(pages))

	p.lock.Lock()
	defer p.lock.Unlock()

	var events []Event
	for _, page := range pages {
		listed[page.ID] = struct{}{}
		fp := page.Fingerprint()

		prev, ok := p.seen[page.ID]
		if !ok {
			p.seen[page.ID] = &seenPage{
				page:         page,
				fingerprint:  fp,
				lastModified: page.UpdatedAt,
				lastSeen:     now,
			}
			events = append(events, Event{
				Kind:        Discovered,
				Page:        page,
				Fingerprint: fp,
				DetectedAt:  now,
			})
			continue
		}

		prev.lastSeen = now
		prev.missed = 0
		if prev.fingerprint == fp && !page.UpdatedAt.After(prev.lastModified) {
			continue
		}

		events = append(events, Event{
			Kind:                Updated,
			Page:                page,
			Fingerprint:         fp,
			PreviousFingerprint: prev.fingerprint,
			DetectedAt:          now,
		})
		prev.page = page
		prev.fingerprint = fp
		prev.lastModified = page.UpdatedAt
	}

	// Only successful listings count towards deletion.
	for id, prev := range p.seen {
		if _, ok := listed[id]; !ok {
			prev.missed++
		}
	}
	return events, nil
}

// DetectDeleted returns the pages that have been missing from more than the
// configured number of consecutive listings, and forgets them.
func (p *Poller) DetectDeleted() []Event {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := p.opts.Clock.Now()
	var events []Event
	for id, prev := range p.seen {
		if prev.missed <= p.opts.DeleteGraceCycles {
			continue
		}

		events = append(events, Event{
			Kind:                Deleted,
			Page:                prev.page,
			PreviousFingerprint: prev.fingerprint,
			DetectedAt:          now,
		})
		delete(p.seen, id)
	}
	return events
}

// Known returns the number of pages being tracked.
func (p *Poller) Known() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.seen)
}

// Run polls every `interval` until the context is cancelled, sending changes
// on `out`. Authentication failures are sent as an error event and end the
// loop since retrying won't help. Other failures are retried at the next
// interval.
func (p *Poller) Run(ctx context.Context, interval time.Duration, out chan<- Event) {
	ticker := p.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if !p.poll(ctx, out) {
			return
		}
	}
}

// poll runs a single polling cycle. It returns false if polling should stop.
func (p *Poller) poll(ctx context.Context, out chan<- Event) bool {
	events, err := p.CheckForChanges(ctx)
	switch {
	case errors.Is(err, errors.ErrAuthentication):
		send(ctx, out, Event{Kind: Error, Err: err, DetectedAt: p.opts.Clock.Now()})
		return false
	case err != nil:
		log.WithError(err).Warn("Failed to poll wiki. Will retry.")
		return true
	}

	events = append(events, p.DetectDeleted()...)
	for _, ev := range events {
		if !send(ctx, out, ev) {
			return false
		}
	}
	return true
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
