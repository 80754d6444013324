// Package conflict detects when the two sides of a document have diverged,
// and resolves the divergence either automatically or with user-supplied
// content.
package conflict

import (
	"time"

	"github.com/sidkik/wikisync/pkg/sync"
)

// Type is the kind of divergence.
type Type string

const (
	// LocalNewer means the local side changed since the last sync, and is
	// newer than the incoming remote change.
	LocalNewer Type = "local_newer"

	// RemoteNewer is the mirror of LocalNewer.
	RemoteNewer Type = "remote_newer"

	// BothChanged means both sides changed since the last sync.
	BothChanged Type = "both_changed"

	// Structural means one side of the document is missing entirely.
	Structural Type = "structural_conflict"

	// Content means the sides differ in their section structure without a
	// clear ordering between them.
	Content Type = "content_conflict"
)

// Severity is how much information could be lost by resolving a conflict
// the wrong way.
type Severity string

const (
	Low    Severity = "low"
	Medium Severity = "medium"
	High   Severity = "high"
)

// Conflict is a detected divergence between the two sides of a document.
type Conflict struct {
	ID             string
	Type           Type
	Message        string
	Severity       Severity
	AutoResolvable bool
	Item           sync.Item
	Context        Evidence
	DetectedAt     time.Time
}

// Evidence is the type specific context of a conflict.
type Evidence interface {
	isEvidence()
}

// StructuralEvidence is attached to Structural conflicts.
type StructuralEvidence struct {
	Missing             sync.Origin
	LastSyncFingerprint string
}

// BothChangedEvidence holds the fingerprint each side had at the last sync,
// and the fingerprint it has now.
type BothChangedEvidence struct {
	BaseLocal  string
	BaseRemote string
	Local      string
	Remote     string
}

// NewerEvidence is attached to LocalNewer and RemoteNewer conflicts.
type NewerEvidence struct {
	Winner              sync.Origin
	OpposingFingerprint string
	OpposingModTime     time.Time
	LastSync            time.Time
}

// ContentEvidence is attached to Content conflicts.
type ContentEvidence struct {
	LocalHeaders  []string
	RemoteHeaders []string
	Regions       []Region
}

// MergeEvidence replaces the evidence of a conflict whose automatic merge
// failed.
type MergeEvidence struct {
	Regions []Region
}

func (StructuralEvidence) isEvidence()  {}
func (BothChangedEvidence) isEvidence() {}
func (NewerEvidence) isEvidence()       {}
func (ContentEvidence) isEvidence()     {}
func (MergeEvidence) isEvidence()       {}

// Region is a span of lines where the two sides disagree. Line numbers are
// 1-based and inclusive.
type Region struct {
	StartLine int
	EndLine   int
	Local     string
	Remote    string
	Base      string
}

// Strategy is a way of resolving a conflict.
type Strategy string

const (
	UseLocal    Strategy = "use_local"
	UseRemote   Strategy = "use_remote"
	AutoMerge   Strategy = "auto_merge"
	UseCustom   Strategy = "use_custom"
	ManualMerge Strategy = "manual_merge"
)

// Result labels the outcome of a resolution.
type Result string

const (
	Applied     Result = "applied"
	Ignored     Result = "ignored"
	Merged      Result = "merged"
	MergeFailed Result = "merge_failed"
)

// Resolution is how a conflict was, or should be, resolved.
type Resolution struct {
	Strategy Strategy
	Result   Result

	// Content is the replacement content for UseCustom and ManualMerge, and
	// the merged content for a successful AutoMerge.
	Content string

	// Conflicts are the regions an automatic merge couldn't reconcile.
	Conflicts      []Region
	RequiresManual bool

	// Backups are the IDs of the backups taken before writing.
	Backups   []string
	Timestamp time.Time
}
