package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	progress := model.ChangesetProgress{
		ProcessedCount: 3,
		ProcessedItems: 12,
		Branches:       []model.BranchDescriptor{{Name: "main", ServerPath: "/Proj"}},
		HashTracker:    map[string]string{"main@3": "deadbeef"},
		ProcessingCID:  4,
	}
	require.NoError(t, s.Save(progress))

	loaded, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, progress, loaded)
}

func TestLoadReportsNotFoundWithoutError(t *testing.T) {
	s := New(t.TempDir())
	_, found, err := s.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save(model.ChangesetProgress{}))

	_, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, matches)
}

func TestToProgressAndFromProgressRoundTrip(t *testing.T) {
	hashes := make(model.HashTracker)
	hashes.Record("main", 1, "aaa")
	hashes.Record("dev", 2, "bbb")

	flat := ToProgress(hashes)
	restored := FromProgress(model.ChangesetProgress{HashTracker: flat})

	h1, ok := restored.Lookup("main", 1)
	require.True(t, ok)
	assert.Equal(t, "aaa", h1)
	h2, ok := restored.Lookup("dev", 2)
	require.True(t, ok)
	assert.Equal(t, "bbb", h2)
}
