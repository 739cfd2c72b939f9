package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvcsreplay/cvcsreplay/internal/cvcsclient"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

func TestVerifyPassesOnWhitespaceOnlyDifference(t *testing.T) {
	client := cvcsclient.NewMemoryClient("/Proj")
	client.AddChangeset(
		model.Changeset{CID: 1},
		[]model.Change{{ServerPath: "/Proj/file.go", ChangeType: model.Add}},
		map[string][]byte{"/Proj/file.go": []byte("package main\n\nfunc main() {}\n")},
	)

	dir := t.TempDir()
	local := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(local, []byte("package main\nfunc main(){}"), 0644))

	v := New(client, nil, nil, false, dir)
	err := v.Verify(context.Background(), "/Proj/file.go", 1, local)
	assert.NoError(t, err)
}

func TestVerifyFailsOnRealContentDivergence(t *testing.T) {
	client := cvcsclient.NewMemoryClient("/Proj")
	client.AddChangeset(
		model.Changeset{CID: 1},
		[]model.Change{{ServerPath: "/Proj/file.go", ChangeType: model.Add}},
		map[string][]byte{"/Proj/file.go": []byte("expected content")},
	)

	dir := t.TempDir()
	local := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(local, []byte("totally different content"), 0644))

	v := New(client, nil, nil, false, dir)
	err := v.Verify(context.Background(), "/Proj/file.go", 1, local)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestVerifySkipsOnRedownloadFailure(t *testing.T) {
	client := cvcsclient.NewMemoryClient("/Proj")

	dir := t.TempDir()
	local := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(local, []byte("whatever was replayed"), 0644))

	v := New(client, nil, nil, false, dir)
	err := v.Verify(context.Background(), "/Proj/missing.go", 1, local)
	assert.NoError(t, err)
}

func TestVerifyIgnoresZeroByteVersusNonZeroMismatch(t *testing.T) {
	client := cvcsclient.NewMemoryClient("/Proj")
	client.AddChangeset(
		model.Changeset{CID: 1},
		[]model.Change{{ServerPath: "/Proj/file.go", ChangeType: model.Add}},
		map[string][]byte{"/Proj/file.go": []byte("")},
	)

	dir := t.TempDir()
	local := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(local, []byte("non-empty"), 0644))

	v := New(client, nil, nil, false, dir)
	err := v.Verify(context.Background(), "/Proj/file.go", 1, local)
	assert.NoError(t, err)
}
