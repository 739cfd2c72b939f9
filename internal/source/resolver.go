// Package source resolves a Change's cross-branch or cross-version
// merge source to the concrete (branch, commit, path) snapshot to read
// from.
package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cvcsreplay/cvcsreplay/internal/branch"
	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
	"github.com/cvcsreplay/cvcsreplay/internal/fsutil"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// Resolved is the concrete snapshot a MergeSource resolves to.
type Resolved struct {
	BranchName   string
	CID          int
	CommitHash   string // empty means "none": the intra-changeset
	// working-tree shortcut, a same-changeset source on another branch
	// that has not been committed yet (both Deleted=false), or the
	// deleted-source sentinel (Deleted=true).
	RelativePath string
	Foreign      bool // source path is outside the project root
	Deleted      bool // source ceased to exist within the searched range
}

// ErrUnreachable is returned when no tracked commit can supply the
// source: a direct lookup at versionTo finds no hash, or a range search
// exhausts every tracked commit in range without finding the path
// present or deleted.
type ErrUnreachable struct {
	SourcePath  string
	VersionFrom int
	VersionTo   int
}

func (e *ErrUnreachable) Error() string {
	return fmt.Sprintf("source resolver: %s unreachable in range [%d..%d]", e.SourcePath, e.VersionFrom, e.VersionTo)
}

// Resolver implements the merge-source resolution algorithm: foreign
// check, branch lookup, intra-changeset shortcut, direct lookup, and
// range search.
type Resolver struct {
	Registry    *branch.Registry
	Hashes      model.HashTracker
	Driver      *dvcs.Driver
	ProjectRoot string
	Log         *logrus.Logger
}

// New builds a Resolver.
func New(reg *branch.Registry, hashes model.HashTracker, driver *dvcs.Driver, projectRoot string, log *logrus.Logger) *Resolver {
	return &Resolver{Registry: reg, Hashes: hashes, Driver: driver, ProjectRoot: strings.TrimRight(projectRoot, "/"), Log: log}
}

func (r *Resolver) isForeign(path string) bool {
	path = strings.TrimRight(path, "/")
	return path != r.ProjectRoot && !strings.HasPrefix(path, r.ProjectRoot+"/")
}

// Resolve resolves one merge source, observed from currentBranch while
// replaying currentCID.
func (r *Resolver) Resolve(ms model.MergeSource, currentBranch string, currentCID int) (Resolved, error) {
	// Step 1: foreign-source check.
	if r.isForeign(ms.SourcePath) {
		if r.Log != nil {
			r.Log.WithField("path", ms.SourcePath).Warn("merge source outside project root; downgrading to plain Add")
		}
		return Resolved{Foreign: true}, nil
	}

	sourceBranch := r.Registry.Lookup(ms.SourcePath)
	// Step 2: relative path within the source branch's worktree.
	relativePath := sourceBranch.RelativePath(ms.SourcePath)

	// Step 4: intra-changeset same-branch shortcut, checked before the
	// range search since it short-circuits the whole resolution.
	if ms.VersionTo == currentCID && sourceBranch.Name == currentBranch {
		candidate := filepath.Join(sourceBranch.WorktreePath, filepath.FromSlash(relativePath))
		if fsutil.Exists(candidate) {
			return Resolved{
				BranchName:   sourceBranch.Name,
				CID:          currentCID,
				CommitHash:   "",
				RelativePath: relativePath,
			}, nil
		}
	}

	// Step 3: direct lookup at versionTo.
	cid := ms.VersionTo
	commitHash, ok := r.Hashes.Lookup(sourceBranch.Name, cid)

	// Step 5: range search when versionFrom != versionTo.
	if ms.IsRange() {
		return r.rangeSearch(sourceBranch.Name, sourceBranch.WorktreePath, relativePath, ms.VersionFrom, ms.VersionTo)
	}

	if !ok {
		if cid == currentCID && sourceBranch.Name != currentBranch {
			// The source branch's commit for this changeset is still
			// pending; the engine commits it early and fills in the hash.
			return Resolved{BranchName: sourceBranch.Name, CID: cid, RelativePath: relativePath}, nil
		}
		return Resolved{}, &ErrUnreachable{SourcePath: ms.SourcePath, VersionFrom: ms.VersionFrom, VersionTo: ms.VersionTo}
	}
	return Resolved{
		BranchName:   sourceBranch.Name,
		CID:          cid,
		CommitHash:   commitHash,
		RelativePath: relativePath,
	}, nil
}

// rangeSearch walks downward from versionTo to versionFrom, probing each
// tracked commit for relativePath; the latest reachable version in range
// that contains the file wins, as an approximation of a true
// content-level merge. If a tracked commit shows the file absent but
// that commit's own change list touched the path, the file is treated
// as having been deleted there.
func (r *Resolver) rangeSearch(branchName, worktree, relativePath string, from, to int) (Resolved, error) {
	for k := to; k >= from; k-- {
		hash, ok := r.Hashes.Lookup(branchName, k)
		if !ok {
			continue
		}
		entries, err := r.Driver.LsTree(worktree, hash, relativePath, false)
		if err != nil {
			return Resolved{}, fmt.Errorf("probing %s@%s: %w", relativePath, hash, err)
		}
		if len(entries) > 0 {
			return Resolved{BranchName: branchName, CID: k, CommitHash: hash, RelativePath: relativePath}, nil
		}
		touched, err := r.Driver.ShowNameOnly(worktree, hash)
		if err != nil {
			return Resolved{}, fmt.Errorf("probing commit %s: %w", hash, err)
		}
		for _, t := range touched {
			if t == relativePath {
				return Resolved{BranchName: branchName, CID: k, CommitHash: "", RelativePath: relativePath, Deleted: true}, nil
			}
		}
	}
	return Resolved{}, &ErrUnreachable{SourcePath: relativePath, VersionFrom: from, VersionTo: to}
}
