// Package pathcase canonicalizes on-disk path casing. The working tree
// may be case-insensitive on some hosts while the DVCS index is always
// case-sensitive, so any path newly introduced into the index must be
// presented in its on-disk true casing. Built as a directory-entry walk
// since no third-party filesystem layer covers this concern.
package pathcase

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver canonicalizes working-tree paths against a worktree root.
type Resolver struct {
	Root string
}

// New builds a Resolver rooted at root.
func New(root string) *Resolver {
	return &Resolver{Root: root}
}

// Canonicalize returns the on-disk true-cased form of relPath (normalized
// to forward slashes) under the resolver's root. If relPath does not
// exist, it is returned unchanged except for separator normalization.
func (r *Resolver) Canonicalize(relPath string) string {
	relPath = filepath.ToSlash(relPath)
	segments := strings.Split(relPath, "/")
	current := r.Root
	resolved := make([]string, 0, len(segments))

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		trueName, ok := lookupTrueName(current, seg)
		if !ok {
			// Remainder doesn't exist on disk yet; keep it verbatim.
			resolved = append(resolved, seg)
			current = filepath.Join(current, seg)
			continue
		}
		resolved = append(resolved, trueName)
		current = filepath.Join(current, trueName)
	}
	return strings.Join(resolved, "/")
}

// lookupTrueName finds seg's true on-disk name inside dir, matching
// case-insensitively.
func lookupTrueName(dir, seg string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Name() == seg {
			return e.Name(), true
		}
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), seg) {
			return e.Name(), true
		}
	}
	return "", false
}

// NormalizeSeparators converts path separators to '/' at the boundary
// where a path enters the resolver.
func NormalizeSeparators(path string) string {
	return filepath.ToSlash(path)
}
