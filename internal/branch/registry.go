// Package branch maintains the mapping from server-path prefix to DVCS
// branch descriptor, and creates worktrees lazily on first use. Lookup
// walks a server path upward one segment at a time until it finds a
// registered prefix.
package branch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// Registry maps server-path prefixes to BranchDescriptors. The primary
// branch, rooted at projectRoot, is always present and is the catch-all
// for any path not claimed by a more specific prefix.
type Registry struct {
	projectRoot string
	outputDir   string
	byPrefix    map[string]model.BranchDescriptor
	slugs       map[string]string // slug -> prefix that owns it, for collision detection
	order       model.OrderedStringSet
	driver      *dvcs.Driver
	log         *logrus.Logger
}

// New constructs a Registry and registers the primary branch at
// projectRoot under primaryName.
func New(projectRoot, outputDir, primaryName string, driver *dvcs.Driver, log *logrus.Logger) *Registry {
	r := &Registry{
		projectRoot: strings.TrimRight(projectRoot, "/"),
		outputDir:   outputDir,
		byPrefix:    make(map[string]model.BranchDescriptor),
		slugs:       make(map[string]string),
		driver:      driver,
		log:         log,
	}
	primary := model.BranchDescriptor{
		Name:          primaryName,
		ServerPath:    r.projectRoot,
		RewritePrefix: "",
		WorktreePath:  filepath.Join(outputDir, primaryName),
	}
	r.byPrefix[r.projectRoot] = primary
	r.slugs[primaryName] = r.projectRoot
	r.order.Add(r.projectRoot)
	return r
}

// Primary returns the always-present primary branch descriptor.
func (r *Registry) Primary() model.BranchDescriptor {
	return r.byPrefix[r.projectRoot]
}

// Slug derives the filesystem-safe branch name for a server path:
// strip the project root, replace {'/', '.', ' '} with '-'.
func Slug(projectRoot, serverPath string) string {
	rest := strings.TrimPrefix(serverPath, projectRoot)
	rest = strings.Trim(rest, "/")
	replacer := strings.NewReplacer("/", "-", ".", "-", " ", "-")
	slug := replacer.Replace(rest)
	if slug == "" {
		return "root"
	}
	return slug
}

// Lookup walks serverPath upward, stripping one segment at a time, until
// it finds a registered prefix; it always falls back to the primary
// branch.
func (r *Registry) Lookup(serverPath string) model.BranchDescriptor {
	candidate := strings.TrimRight(serverPath, "/")
	for {
		if bd, ok := r.byPrefix[candidate]; ok {
			return bd
		}
		if candidate == r.projectRoot || candidate == "" || !strings.Contains(candidate, "/") {
			break
		}
		idx := strings.LastIndex(candidate, "/")
		candidate = candidate[:idx]
	}
	return r.Primary()
}

// Create allocates a worktree for serverPath's branch if one doesn't
// already exist, returning the (possibly pre-existing) descriptor.
// Branch creation is idempotent: if the computed slug collides with an
// existing branch's slug, the existing branch is returned rather than
// creating a second worktree.
func (r *Registry) Create(serverPath string) (model.BranchDescriptor, error) {
	serverPath = strings.TrimRight(serverPath, "/")
	if bd, ok := r.byPrefix[serverPath]; ok {
		return bd, nil
	}
	slug := Slug(r.projectRoot, serverPath)
	if existingPrefix, ok := r.slugs[slug]; ok {
		existing := r.byPrefix[existingPrefix]
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"slug":            slug,
				"existingPath":    existingPrefix,
				"newPath":         serverPath,
			}).Warn("branch slug collision; merging into existing branch")
		}
		r.byPrefix[serverPath] = existing
		return existing, nil
	}

	rewritePrefix := strings.TrimPrefix(serverPath, r.projectRoot)
	rewritePrefix = strings.TrimPrefix(rewritePrefix, "/")
	bd := model.BranchDescriptor{
		Name:          slug,
		ServerPath:    serverPath,
		RewritePrefix: rewritePrefix,
		WorktreePath:  filepath.Join(r.outputDir, slug),
	}
	if r.driver != nil {
		if err := r.driver.WorktreeAdd(r.Primary().WorktreePath, bd.WorktreePath, bd.Name); err != nil {
			return model.BranchDescriptor{}, fmt.Errorf("creating worktree for branch %s: %w", bd.Name, err)
		}
		if err := r.driver.ConfigureRepo(bd.WorktreePath); err != nil {
			return model.BranchDescriptor{}, err
		}
	}
	r.byPrefix[serverPath] = bd
	r.slugs[slug] = serverPath
	r.order.Add(serverPath)
	return bd, nil
}

// All returns every registered BranchDescriptor, primary first, in
// registration order. Used by the Replay Engine to put branch state into
// each checkpoint.
func (r *Registry) All() []model.BranchDescriptor {
	out := make([]model.BranchDescriptor, 0, len(r.order))
	for _, prefix := range r.order {
		out = append(out, r.byPrefix[prefix])
	}
	return out
}

// Restore repopulates the registry from checkpointed branch descriptors,
// used by the Replay Engine when resuming from a checkpoint. It does not recreate
// worktrees; those are assumed to already exist on disk from the
// interrupted run.
func (r *Registry) Restore(branches []model.BranchDescriptor) {
	for _, bd := range branches {
		if _, ok := r.byPrefix[bd.ServerPath]; ok {
			continue
		}
		r.byPrefix[bd.ServerPath] = bd
		r.slugs[bd.Name] = bd.ServerPath
		r.order.Add(bd.ServerPath)
	}
}
