// Package model holds the data types shared by every replay component:
// the changeset stream read from the CVCS, the branch topology inferred
// from it, and the hash tracker and checkpoint state produced while
// replaying it into the DVCS.
package model

import "time"

// ItemType distinguishes a file change from a folder change.
type ItemType int

const (
	ItemFile ItemType = iota
	ItemFolder
)

func (t ItemType) String() string {
	if t == ItemFolder {
		return "Folder"
	}
	return "File"
}

// ChangeTypeMask is the CVCS's bit-flag change-type. Multiple bits may be
// set simultaneously (e.g. Rename|Edit|Merge).
type ChangeTypeMask uint16

const (
	Add ChangeTypeMask = 1 << iota
	Edit
	Delete
	Rename
	SourceRename
	Branch
	Merge
	Undelete
	Rollback
	Encoding
)

var maskNames = []struct {
	bit  ChangeTypeMask
	name string
}{
	{Add, "Add"},
	{Edit, "Edit"},
	{Delete, "Delete"},
	{Rename, "Rename"},
	{SourceRename, "SourceRename"},
	{Branch, "Branch"},
	{Merge, "Merge"},
	{Undelete, "Undelete"},
	{Rollback, "Rollback"},
	{Encoding, "Encoding"},
}

// Has reports whether every bit in other is set in m.
func (m ChangeTypeMask) Has(other ChangeTypeMask) bool {
	return m&other == other
}

// Any reports whether any bit in other is set in m.
func (m ChangeTypeMask) Any(other ChangeTypeMask) bool {
	return m&other != 0
}

func (m ChangeTypeMask) String() string {
	var names []string
	for _, e := range maskNames {
		if m.Has(e.bit) {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "(none)"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "|" + n
	}
	return out
}

// MergeSource describes the provenance of a Branch/Merge/Rename operation:
// a source path and the version range it covers.
type MergeSource struct {
	SourcePath  string
	VersionFrom int
	VersionTo   int
}

// IsRange reports whether this source spans more than one version.
func (m MergeSource) IsRange() bool {
	return m.VersionFrom != m.VersionTo
}

// Change is a single per-path entry inside a Changeset.
type Change struct {
	ServerPath    string
	ItemType      ItemType
	ChangeType    ChangeTypeMask
	MergeSources  []MergeSource
	branchCreated bool // set by the Replay Engine when this change caused lazy branch creation
}

// FirstSource returns the first merge source, or the zero value and false
// if there are none. Additional sources beyond the first are warned about
// and ignored by callers.
func (c Change) FirstSource() (MergeSource, bool) {
	if len(c.MergeSources) == 0 {
		return MergeSource{}, false
	}
	return c.MergeSources[0], true
}

// HasSource reports whether this change carries at least one merge source.
func (c Change) HasSource() bool {
	return len(c.MergeSources) > 0
}

// MarkBranchCreated flags that dispatching this change is what caused the
// Branch Registry to lazily create its target branch descriptor; the
// Replay Engine uses this to decide whether a "forceAdd" (download
// without a source) is required even when no Add/Edit bit is set.
func (c *Change) MarkBranchCreated(v bool) { c.branchCreated = v }

// BranchCreated reports the flag set by MarkBranchCreated.
func (c Change) BranchCreated() bool { return c.branchCreated }

// Changeset is one atomic, globally-numbered CVCS commit.
type Changeset struct {
	CID             int
	AuthorDisplay   string
	CreationDate    time.Time
	Comment         string
	Changes         []Change
}

// ChangesetSummary is the lightweight record returned by history queries,
// before the full per-change list has been fetched.
type ChangesetSummary struct {
	CID          int
	CreationDate time.Time
}

// BranchDescriptor maps one server-path prefix onto a DVCS branch.
type BranchDescriptor struct {
	Name          string // filesystem-safe slug
	ServerPath    string // the CVCS path this branch's worktree root corresponds to
	RewritePrefix string // ServerPath with the project root stripped
	WorktreePath  string // on-disk path of this branch's worktree
}

// RelativePath strips the branch's server path from a full server path,
// returning the path as it should appear inside the branch's worktree.
func (b BranchDescriptor) RelativePath(serverPath string) string {
	rel := serverPath
	if len(rel) >= len(b.ServerPath) && rel[:len(b.ServerPath)] == b.ServerPath {
		rel = rel[len(b.ServerPath):]
	}
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}

// BranchCID identifies one branch's commit for one changeset; it is the
// key of the HashTracker.
type BranchCID struct {
	Branch string
	CID    int
}

// HashTracker maps (branchName, CID) to the commit hash produced for it.
type HashTracker map[BranchCID]string

// Lookup returns the tracked hash and whether it was present.
func (h HashTracker) Lookup(branch string, cid int) (string, bool) {
	hash, ok := h[BranchCID{Branch: branch, CID: cid}]
	return hash, ok
}

// Record stores the commit hash for a (branch, CID) pair.
func (h HashTracker) Record(branch string, cid int, hash string) {
	h[BranchCID{Branch: branch, CID: cid}] = hash
}

// ChangesetProgress is the serializable replay state checkpointed by the
// Checkpoint Store and restored on resume.
type ChangesetProgress struct {
	ProcessedCount int                 `json:"processedCount"`
	ProcessedItems int                 `json:"processedItems"`
	Branches       []BranchDescriptor  `json:"branches"`
	HashTracker    map[string]string   `json:"hashTracker"` // "branch@cid" -> hash, JSON can't key on structs
	ProcessingCID  int                 `json:"processingCID"`
}
