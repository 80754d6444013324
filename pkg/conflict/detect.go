package conflict

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sidkik/wikisync/pkg/sync"
)

// Detector classifies incoming changes against the sync state.
type Detector struct {
	state *sync.StateStore
	clock clockwork.Clock
}

// NewDetector returns a Detector that reads `state`.
func NewDetector(state *sync.StateStore, clock clockwork.Clock) *Detector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Detector{state: state, clock: clock}
}

// Detect returns the conflict that applying `item` would cause, or nil if
// it's safe to apply. `incoming` is the current state of the side the item
// came from, and `opposing` is the current state of the other side.
//
// The checks are ordered so that the conflicts with the highest risk of
// losing data are found first. In particular, a document that changed on
// both sides is never reported as one side simply being newer.
func (d *Detector) Detect(item sync.Item, incoming, opposing sync.SideState) *Conflict {
	entry, ok := d.state.Get(item.Path)
	if !ok || entry.Deleted() {
		return nil
	}

	if !opposing.Exists {
		if item.Kind.IsDelete() || !incoming.Exists {
			// Both sides are gone, so there's nothing to reconcile.
			return nil
		}
		return d.newConflict(item, Structural, High, false,
			fmt.Sprintf("%s was changed on the %s side, but is missing on the %s side",
				item.Path, item.Origin, item.Origin.Opposite()),
			StructuralEvidence{
				Missing:             item.Origin.Opposite(),
				LastSyncFingerprint: entry.Fingerprint,
			})
	}

	opposingSide := item.Origin.Opposite()
	incomingFP := ""
	if incoming.Exists {
		incomingFP = incoming.Fingerprint
	}
	incomingChanged := incomingFP != entry.SideFingerprint(item.Origin)
	opposingChanged := opposing.Fingerprint != entry.SideFingerprint(opposingSide)

	if incomingChanged && opposingChanged {
		ev := BothChangedEvidence{
			BaseLocal:  entry.LocalFingerprint,
			BaseRemote: entry.RemoteFingerprint,
		}
		if item.Origin == sync.Local {
			ev.Local, ev.Remote = incomingFP, opposing.Fingerprint
		} else {
			ev.Local, ev.Remote = opposing.Fingerprint, incomingFP
		}
		return d.newConflict(item, BothChanged, High, false,
			fmt.Sprintf("%s changed on both sides since the last sync", item.Path), ev)
	}

	if !opposingChanged {
		return nil
	}

	if opposing.ModTime.After(entry.SyncedAt) {
		typ := RemoteNewer
		if opposingSide == sync.Local {
			typ = LocalNewer
		}
		return d.newConflict(item, typ, Low, true,
			fmt.Sprintf("the %s version of %s is newer", opposingSide, item.Path),
			NewerEvidence{
				Winner:              opposingSide,
				OpposingFingerprint: opposing.Fingerprint,
				OpposingModTime:     opposing.ModTime,
				LastSync:            entry.SyncedAt,
			})
	}

	local, remote := incoming, opposing
	if item.Origin == sync.Remote {
		local, remote = opposing, incoming
	}
	localHeaders := Headers(local.Content)
	remoteHeaders := Headers(remote.Content)
	if !slices.Equal(localHeaders, remoteHeaders) {
		return d.newConflict(item, Content, Medium, true,
			fmt.Sprintf("the sections of %s differ between the local and remote versions", item.Path),
			ContentEvidence{
				LocalHeaders:  localHeaders,
				RemoteHeaders: remoteHeaders,
				Regions:       DiffRegions(local.Content, remote.Content),
			})
	}
	return nil
}

func (d *Detector) newConflict(item sync.Item, typ Type, severity Severity,
	autoResolvable bool, msg string, ev Evidence) *Conflict {
	return &Conflict{
		ID:             uuid.New().String(),
		Type:           typ,
		Message:        msg,
		Severity:       severity,
		AutoResolvable: autoResolvable,
		Item:           item,
		Context:        ev,
		DetectedAt:     d.clock.Now(),
	}
}

// Headers returns the markdown section headers in `content`, ignoring
// anything inside fenced code blocks.
func Headers(content string) []string {
	var headers []string
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(trimmed, "#") {
			continue
		}

		level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
		rest := trimmed[level:]
		if level > 6 || (rest != "" && !strings.HasPrefix(rest, " ")) {
			continue
		}
		headers = append(headers, trimmed)
	}
	return headers
}

// DiffRegions returns the line ranges where `local` and `remote` differ.
// Line numbers refer to the local version.
func DiffRegions(local, remote string) []Region {
	dmp := diffmatchpatch.New()
	localChars, remoteChars, lines := dmp.DiffLinesToChars(local, remote)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(localChars, remoteChars, false), lines)

	var regions []Region
	var current *Region
	line := 1
	flush := func() {
		if current != nil {
			current.Local = strings.TrimSuffix(current.Local, "\n")
			current.Remote = strings.TrimSuffix(current.Remote, "\n")
			regions = append(regions, *current)
			current = nil
		}
	}

	for _, diff := range diffs {
		n := countLines(diff.Text)
		if diff.Type == diffmatchpatch.DiffEqual {
			flush()
			line += n
			continue
		}

		if current == nil {
			current = &Region{StartLine: line, EndLine: line - 1}
		}
		switch diff.Type {
		case diffmatchpatch.DiffDelete:
			current.Local += diff.Text
			current.EndLine += n
			line += n
		case diffmatchpatch.DiffInsert:
			current.Remote += diff.Text
		}
	}
	flush()

	// Pure insertions don't span any local lines.
	for i := range regions {
		if regions[i].EndLine < regions[i].StartLine {
			regions[i].EndLine = regions[i].StartLine
		}
	}
	return regions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
