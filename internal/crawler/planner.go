// Package crawler turns a repository's revision history into indexable
// documents: it plans which revisions to process next, filters changed
// entries and assembles their documents.
package crawler

import "github.com/sha1n/svn-river/internal/domain"

// DefaultMaxWindow is the default number of revisions processed per tick.
const DefaultMaxWindow = 200

// PlanInput holds the planner inputs of one tick.
type PlanInput struct {
	// LastCheckpoint is the last processed revision, 0 if never processed.
	LastCheckpoint domain.Revision
	// StartRevision is the first revision to index, -1 for head only.
	StartRevision domain.Revision
	Head          domain.Revision
	// MaxWindow bounds To-From. Values <= 0 mean DefaultMaxWindow.
	MaxWindow int64
}

// Window is an inclusive revision range.
type Window struct {
	From        domain.Revision
	To          domain.Revision
	Incremental bool
}

// Empty reports whether the window holds no revision.
func (w Window) Empty() bool {
	return w.From > w.To
}

// Size returns the number of revisions in the window.
func (w Window) Size() int64 {
	if w.Empty() {
		return 0
	}
	return w.To - w.From + 1
}

// Plan computes the next window to process. A cold pass starts at the
// configured start revision (or at head for -1); an incremental pass resumes
// after the checkpoint. Both are clamped to MaxWindow revisions past From, and
// neither bound ever exceeds Head.
func Plan(in PlanInput) Window {
	maxWindow := in.MaxWindow
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}

	var w Window
	if in.LastCheckpoint == domain.NotIndexedRevision || in.LastCheckpoint < in.StartRevision {
		w.To = in.Head
		if in.StartRevision == domain.HeadRevision {
			w.From = in.Head
		} else {
			w.From = in.StartRevision
		}
	} else {
		w.Incremental = true
		w.From = min(in.LastCheckpoint+1, in.Head)
		w.To = in.Head
	}

	if w.From > in.Head {
		// start revision beyond head: nothing to do yet
		return Window{From: in.Head, To: in.Head - 1, Incremental: w.Incremental}
	}
	if w.From+maxWindow < w.To {
		w.To = w.From + maxWindow
	}
	return w
}
