package conflict

import (
	"strings"
)

const (
	markerLocal  = "<<<<<<< LOCAL"
	markerSplit  = "======="
	markerRemote = ">>>>>>> REMOTE"

	// lookahead is the maximum number of lines searched on each side when
	// resynchronizing after a conflicting line.
	lookahead = 5
)

// MergeResult is the outcome of a three-way merge.
type MergeResult struct {
	// Success is true if the merge produced no conflict blocks.
	Success bool

	// Lines is the merged document. It contains conflict markers if the merge
	// failed.
	Lines     []string
	Conflicts []Region
}

// Content returns the merged document as a string.
func (r MergeResult) Content() string {
	return strings.Join(r.Lines, "\n")
}

// ThreeWayMerge merges the local and remote versions of a document using
// their common ancestor `base`. An empty base means there is no known
// ancestor.
//
// The three versions are walked in lock step. A line that both sides agree
// on is kept, and a line that only one side changed takes that side's
// version. When all three differ, the lines up to the next point where the
// sides agree again are emitted as a conflict block. That point is searched
// for within a few lines of the conflict, so this is an approximation of a
// real diff3 rather than a minimal merge.
func ThreeWayMerge(local, remote, base string) MergeResult {
	return mergeLines(splitLines(local), splitLines(remote), splitLines(base))
}

func mergeLines(l, r, b []string) MergeResult {
	res := MergeResult{Success: true}
	i, j, k := 0, 0, 0

	for i < len(l) || j < len(r) {
		switch {
		case i >= len(l):
			// Lines left over on the remote side are additions, unless they're
			// base lines that the local side deleted.
			if k < len(b) && r[j] == b[k] {
				k++
			} else {
				res.Lines = append(res.Lines, r[j])
			}
			j++
		case j >= len(r):
			if k < len(b) && l[i] == b[k] {
				k++
			} else {
				res.Lines = append(res.Lines, l[i])
			}
			i++
		case l[i] == r[j]:
			res.Lines = append(res.Lines, l[i])
			i, j, k = i+1, j+1, advance(k, 1, len(b))
		case k < len(b) && l[i] == b[k]:
			// Only the remote side changed this line.
			res.Lines = append(res.Lines, r[j])
			i, j, k = i+1, j+1, k+1
		case k < len(b) && r[j] == b[k]:
			res.Lines = append(res.Lines, l[i])
			i, j, k = i+1, j+1, k+1
		default:
			a, c := resync(l, r, i, j)
			nextK := resyncBase(b, k, l, i+a, a, c)

			start := len(res.Lines) + 1
			res.Lines = append(res.Lines, markerLocal)
			res.Lines = append(res.Lines, l[i:i+a]...)
			res.Lines = append(res.Lines, markerSplit)
			res.Lines = append(res.Lines, r[j:j+c]...)
			res.Lines = append(res.Lines, markerRemote)

			res.Success = false
			res.Conflicts = append(res.Conflicts, Region{
				StartLine: start,
				EndLine:   len(res.Lines),
				Local:     strings.Join(l[i:i+a], "\n"),
				Remote:    strings.Join(r[j:j+c], "\n"),
				Base:      strings.Join(b[k:nextK], "\n"),
			})
			i, j, k = i+a, j+c, nextK
		}
	}
	return res
}

// resync finds the smallest number of lines to skip on each side, `a` local
// lines and `c` remote lines, after which the sides agree again. If they
// don't agree within the lookahead window, the whole window is skipped.
func resync(l, r []string, i, j int) (a, c int) {
	for total := 1; total <= 2*lookahead; total++ {
		for a := 0; a <= total && a <= lookahead; a++ {
			c := total - a
			if c > lookahead {
				continue
			}
			if i+a < len(l) && j+c < len(r) && l[i+a] == r[j+c] {
				return a, c
			}
		}
	}
	return min(lookahead, len(l)-i), min(lookahead, len(r)-j)
}

// resyncBase returns where the base cursor should continue from after a
// conflict block. It prefers the base line that matches the line the sides
// resynchronized on.
func resyncBase(b []string, k int, l []string, resumeAt, a, c int) int {
	if resumeAt < len(l) {
		for bk := k; bk < len(b) && bk <= k+lookahead; bk++ {
			if b[bk] == l[resumeAt] {
				return bk
			}
		}
	}
	return advance(k, max(a, c), len(b))
}

func advance(k, n, limit int) int {
	return min(k+n, limit)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// HasConflictMarkers returns whether `content` still contains the markers of
// an unresolved merge. A bare "=======" line is not enough since markdown uses
// it to underline headers.
func HasConflictMarkers(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>") {
			return true
		}
	}
	return false
}
