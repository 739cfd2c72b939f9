package cvcsclient

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// blobVersion is one recorded version of a path's content, keyed by the
// CID at which it took effect; a nil Content with Deleted=true marks a
// tombstone, used by the range-merge-with-deleted-source scenario.
type blobVersion struct {
	CID     int
	Content []byte
	Deleted bool
}

// MemoryClient is an in-memory fixture implementation of Client, letting
// the Replay Engine's end-to-end tests run without a live CVCS server.
type MemoryClient struct {
	Changesets []model.Changeset
	Changes    map[int][]model.Change
	Branches   map[string][]BranchObject // branch root server path -> branch objects, matched as a path prefix by QueryBranchObjects
	History    map[string][]blobVersion  // serverPath -> versions in CID order

	ProjectRoot string
}

// NewMemoryClient builds an empty fixture.
func NewMemoryClient(projectRoot string) *MemoryClient {
	return &MemoryClient{
		Changes:     make(map[int][]model.Change),
		Branches:    make(map[string][]BranchObject),
		History:     make(map[string][]blobVersion),
		ProjectRoot: projectRoot,
	}
}

// AddChangeset registers a changeset and its changes. It records a
// tombstone for every Delete change's server path, and a version for
// every other change whose server path has an entry in contents, so
// Download has something to answer with.
func (m *MemoryClient) AddChangeset(cs model.Changeset, changes []model.Change, contents map[string][]byte) {
	m.Changesets = append(m.Changesets, cs)
	m.Changes[cs.CID] = changes
	for _, ch := range changes {
		if ch.ChangeType.Has(model.Delete) {
			m.History[ch.ServerPath] = append(m.History[ch.ServerPath], blobVersion{CID: cs.CID, Deleted: true})
			continue
		}
		if content, ok := contents[ch.ServerPath]; ok {
			m.History[ch.ServerPath] = append(m.History[ch.ServerPath], blobVersion{CID: cs.CID, Content: content})
		}
	}
}

// RegisterBranch records a branch object rooted at serverPath; it is
// reported for every cid.
func (m *MemoryClient) RegisterBranch(serverPath, ownerPath string) {
	m.Branches[serverPath] = []BranchObject{{ServerPath: serverPath, OwnerPath: ownerPath}}
}

func (m *MemoryClient) QueryHistory(_ context.Context, _ string, fromCID int) ([]model.ChangesetSummary, error) {
	var out []model.ChangesetSummary
	for _, cs := range m.Changesets {
		if cs.CID >= fromCID {
			out = append(out, model.ChangesetSummary{CID: cs.CID, CreationDate: cs.CreationDate})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationDate.Before(out[j].CreationDate) })
	return out, nil
}

func (m *MemoryClient) GetChangeset(_ context.Context, cid int) (model.Changeset, error) {
	for _, cs := range m.Changesets {
		if cs.CID == cid {
			return cs, nil
		}
	}
	return model.Changeset{}, fmt.Errorf("memory client: no such changeset %d", cid)
}

func (m *MemoryClient) GetChanges(_ context.Context, cid int) ([]model.Change, error) {
	changes, ok := m.Changes[cid]
	if !ok {
		return nil, fmt.Errorf("memory client: no changes for changeset %d", cid)
	}
	return changes, nil
}

// QueryBranchObjects returns every registered branch object whose
// ServerPath is path itself or an ancestor of it, mirroring how the real
// CVCS reports branch roots reachable from a given file path rather than
// requiring an exact match.
func (m *MemoryClient) QueryBranchObjects(_ context.Context, path string, _ int) ([]BranchObject, error) {
	var out []BranchObject
	for prefix, objs := range m.Branches {
		if prefix == path || (len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/') {
			out = append(out, objs...)
		}
	}
	return out, nil
}

// versionAt returns the version in effect at or before cid, or false if
// none exists yet.
func versionAt(versions []blobVersion, cid int) (blobVersion, bool) {
	var best blobVersion
	found := false
	for _, v := range versions {
		if v.CID <= cid && (!found || v.CID > best.CID) {
			best = v
			found = true
		}
	}
	return best, found
}

func (m *MemoryClient) Download(_ context.Context, serverPath string, cid int, destPath string) error {
	versions, ok := m.History[serverPath]
	if !ok {
		return fmt.Errorf("memory client: no history for %s", serverPath)
	}
	v, found := versionAt(versions, cid)
	if !found || v.Deleted {
		return fmt.Errorf("memory client: %s not present at or before %d", serverPath, cid)
	}
	return os.WriteFile(destPath, v.Content, 0644)
}

// VersionDeletedAt reports whether serverPath is recorded as deleted at
// or before cid.
func (m *MemoryClient) VersionDeletedAt(serverPath string, cid int) bool {
	v, found := versionAt(m.History[serverPath], cid)
	return found && v.Deleted
}

func (m *MemoryClient) GetTeamProject(_ context.Context, name string) (ServerItem, error) {
	return ServerItem{Name: name, ServerPath: m.ProjectRoot}, nil
}
