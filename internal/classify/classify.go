// Package classify decomposes the CVCS's bit-flag change-type into a
// canonical action and orders per-changeset operations so the DVCS
// index never enters an impossible state. The precedence table and
// no-op table are each a single literal Go value acting as the single
// source of truth.
package classify

import (
	"sort"
	"strings"

	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// precedenceTable maps each bit to its sort rank. A change's rank is the
// lowest rank among the bits it has set; ties are broken by path
// segment count, then lexicographically.
var precedenceTable = []struct {
	bit  model.ChangeTypeMask
	rank int
}{
	{model.Delete, 1},
	{model.Rename, 2},
	{model.SourceRename, 2},
	{model.Add, 3},
	{model.Edit, 4},
	{model.Merge, 5},
	{model.Branch, 6},
	{model.Undelete, 6},
	{model.Rollback, 6},
}

// Precedence returns the sort rank for a change-type mask.
func Precedence(mask model.ChangeTypeMask) int {
	best := 7
	for _, e := range precedenceTable {
		if mask.Has(e.bit) && e.rank < best {
			best = e.rank
		}
	}
	return best
}

func segmentCount(path string) int {
	path = strings.Trim(path, "/")
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

// Sort orders changes by precedence (lowest rank first), breaking ties
// by segment count ascending then lexicographically, and then applies
// the Rename-before-Add fixup.
func Sort(changes []model.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		pi, pj := Precedence(changes[i].ChangeType), Precedence(changes[j].ChangeType)
		if pi != pj {
			return pi < pj
		}
		si, sj := segmentCount(changes[i].ServerPath), segmentCount(changes[j].ServerPath)
		if si != sj {
			return si < sj
		}
		return changes[i].ServerPath < changes[j].ServerPath
	})
	fixupRenameBeforeAdd(changes)
}

// fixupRenameBeforeAdd detects Add(P) paired with a Rename whose source
// is P and ensures the Rename is emitted before the Add: a Rename that
// sorted after its Add is moved to sit immediately before it, and one
// already ahead of the Add stays where it is. Without this, an Add landing at P before the Rename reads P as its
// source and clobbers the content the Rename was meant to move.
func fixupRenameBeforeAdd(changes []model.Change) {
	for addIdx, add := range changes {
		if !add.ChangeType.Has(model.Add) {
			continue
		}
		renameIdx := -1
		for i, c := range changes {
			if i == addIdx {
				continue
			}
			if !c.ChangeType.Any(model.Rename | model.SourceRename) {
				continue
			}
			src, ok := c.FirstSource()
			if ok && src.SourcePath == add.ServerPath {
				renameIdx = i
				break
			}
		}
		if renameIdx == -1 || renameIdx < addIdx {
			continue
		}
		// Move the rename to sit immediately before the add.
		rename := changes[renameIdx]
		copy(changes[addIdx+1:renameIdx+1], changes[addIdx:renameIdx])
		changes[addIdx] = rename
	}
}

// Disposition is the no-op classification: certain mask/itemType
// combinations are DVCS no-ops because the snapshot model subsumes them.
type Disposition int

const (
	// DispositionNormal means the change must be dispatched normally.
	DispositionNormal Disposition = iota
	// DispositionNoOp means the change has no DVCS effect at all.
	DispositionNoOp
	// DispositionEnsureDir means only directory existence needs ensuring
	// (non-delete folder change); it has no commit effect of its own.
	DispositionEnsureDir
)

// Classify maps a (changeType, itemType) pair to its disposition, the
// single source of truth for the no-op table.
func Classify(mask model.ChangeTypeMask, itemType model.ItemType) Disposition {
	if itemType == model.ItemFolder {
		if mask.Has(model.Delete) {
			return DispositionNoOp
		}
		return DispositionEnsureDir
	}
	if mask.Has(model.Delete) && mask.Has(model.SourceRename) {
		return DispositionNoOp
	}
	if mask.Has(model.Merge) && mask.Has(model.SourceRename) && mask.Has(model.Delete) {
		return DispositionNoOp
	}
	if mask.Has(model.Merge) && !mask.Has(model.Edit) && !mask.Has(model.Branch) {
		return DispositionNoOp
	}
	return DispositionNormal
}
