package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvcsreplay/cvcsreplay/internal/branch"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

func TestResolveForeignSourceIsDowngraded(t *testing.T) {
	reg := branch.New("/Proj", "/out", "main", nil, nil)
	r := New(reg, make(model.HashTracker), nil, "/Proj", nil)

	resolved, err := r.Resolve(model.MergeSource{SourcePath: "/Other/file.go", VersionFrom: 1, VersionTo: 1}, "main", 5)
	require.NoError(t, err)
	assert.True(t, resolved.Foreign)
}

func TestResolveDirectLookupAtVersionTo(t *testing.T) {
	reg := branch.New("/Proj", "/out", "main", nil, nil)
	hashes := make(model.HashTracker)
	hashes.Record("main", 3, "abc123")
	r := New(reg, hashes, nil, "/Proj", nil)

	resolved, err := r.Resolve(model.MergeSource{SourcePath: "/Proj/file.go", VersionFrom: 3, VersionTo: 3}, "other", 5)
	require.NoError(t, err)
	assert.Equal(t, "main", resolved.BranchName)
	assert.Equal(t, "abc123", resolved.CommitHash)
	assert.Equal(t, "file.go", resolved.RelativePath)
}

func TestResolveDirectLookupUnreachableReturnsError(t *testing.T) {
	reg := branch.New("/Proj", "/out", "main", nil, nil)
	r := New(reg, make(model.HashTracker), nil, "/Proj", nil)

	_, err := r.Resolve(model.MergeSource{SourcePath: "/Proj/file.go", VersionFrom: 3, VersionTo: 3}, "other", 5)
	require.Error(t, err)
	var unreach *ErrUnreachable
	require.ErrorAs(t, err, &unreach)
}

func TestResolveIntraChangesetSameBranchShortcutRequiresExistingFile(t *testing.T) {
	reg := branch.New("/Proj", "/out", "main", nil, nil)
	hashes := make(model.HashTracker)
	r := New(reg, hashes, nil, "/Proj", nil)

	// No hash recorded for CID 5 yet, and the on-disk file under the
	// primary's worktree path doesn't exist in this test environment, so
	// the shortcut cannot fire and direct lookup must fail as unreachable.
	_, err := r.Resolve(model.MergeSource{SourcePath: "/Proj/file.go", VersionFrom: 5, VersionTo: 5}, "main", 5)
	require.Error(t, err)
}
