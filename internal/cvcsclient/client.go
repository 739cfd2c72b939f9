// Package cvcsclient wraps the CVCS's remote calls: history query,
// changeset fetch, per-change list, branch-object query, and file
// download. This package defines the interface the rest of the module
// is written against, plus an HTTP-backed implementation and an
// in-memory fixture used by tests.
package cvcsclient

import (
	"context"

	"github.com/cvcsreplay/cvcsreplay/internal/config"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// BranchObject is the branch metadata the CVCS exposes for a server path.
type BranchObject struct {
	ServerPath string
	OwnerPath  string // the path this branch was created from, empty if none
}

// ServerItem is the minimal team-project descriptor returned by
// getTeamProject.
type ServerItem struct {
	Name       string
	ServerPath string
}

// Client is the CVCS remote interface every replay component is written
// against.
type Client interface {
	// QueryHistory returns every changeset summary touching projectRoot's
	// subtree from fromCID onward (inclusive), sorted by CreationDate
	// ascending.
	QueryHistory(ctx context.Context, projectRoot string, fromCID int) ([]model.ChangesetSummary, error)
	// GetChangeset fetches one changeset's details excluding its change
	// list (author, date, comment).
	GetChangeset(ctx context.Context, cid int) (model.Changeset, error)
	// GetChanges fetches the ordered (as returned by the server; the
	// caller is responsible for classifying and sorting) list of changes
	// for one changeset.
	GetChanges(ctx context.Context, cid int) ([]model.Change, error)
	// QueryBranchObjects returns branch metadata known to the CVCS for a
	// server path as of cid.
	QueryBranchObjects(ctx context.Context, path string, cid int) ([]BranchObject, error)
	// Download fetches serverPath as it existed at cid into destPath.
	Download(ctx context.Context, serverPath string, cid int, destPath string) error
	// GetTeamProject resolves a team project by name.
	GetTeamProject(ctx context.Context, name string) (ServerItem, error)
}

// unrooted prefixes a relative path with the project root; server paths
// are always absolute, but callers may pass a bare relative path.
func unrooted(projectRoot, path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	return projectRoot + "/" + path
}

// NewClient selects an HTTP-backed implementation wired to cfg's
// endpoint and auth method.
func NewClient(cfg *config.Config) Client {
	return newHTTPClient(cfg)
}
