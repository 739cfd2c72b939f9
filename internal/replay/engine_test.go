package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/cvcsreplay/cvcsreplay/internal/branch"
	"github.com/cvcsreplay/cvcsreplay/internal/config"
	"github.com/cvcsreplay/cvcsreplay/internal/cvcsclient"
	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
	"github.com/cvcsreplay/cvcsreplay/internal/session"
	"github.com/cvcsreplay/cvcsreplay/internal/source"
)

// requireGit skips the test if no git binary is reachable, since these
// tests exercise the real plumbing layer rather than a fake.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/usr/bin/git"); err == nil {
		return
	}
	if _, err := os.Stat("/usr/local/bin/git"); err == nil {
		return
	}
	t.Skip("git binary not found; skipping plumbing-backed replay test")
}

func newTestEngine(t *testing.T, projectRoot string) (*Engine, *cvcsclient.MemoryClient) {
	t.Helper()
	outputDir := t.TempDir()

	cfg := &config.Config{
		TFSEndpoint: "unused",
		ProjectPath: projectRoot,
		OutputDir:   outputDir,
		PrimaryName: "main",
	}
	require.NoError(t, cfg.Validate())

	sess, err := session.New(cfg)
	require.NoError(t, err)
	sess.Log.SetLevel(logrus.WarnLevel)

	driver, err := dvcs.New("git", sess.Log)
	require.NoError(t, err)

	primaryWorktree := filepath.Join(outputDir, "main")
	require.NoError(t, driver.Init(primaryWorktree, "main"))
	require.NoError(t, driver.ConfigureRepo(primaryWorktree))

	reg := branch.New(projectRoot, outputDir, "main", driver, sess.Log)
	client := cvcsclient.NewMemoryClient(projectRoot)
	resolver := source.New(reg, sess.Hashes, driver, projectRoot, sess.Log)

	engine := New(sess, client, driver, reg, resolver, nil, nil, projectRoot, t.TempDir())
	return engine, client
}

func TestReplayLinearAddEditDelete(t *testing.T) {
	requireGit(t)
	root := "/Proj"
	engine, client := newTestEngine(t, root)

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	client.AddChangeset(
		model.Changeset{CID: 1, AuthorDisplay: "Alice", CreationDate: base, Comment: "add file"},
		[]model.Change{{ServerPath: root + "/file.txt", ItemType: model.ItemFile, ChangeType: model.Add}},
		map[string][]byte{root + "/file.txt": []byte("hello")},
	)
	client.AddChangeset(
		model.Changeset{CID: 2, AuthorDisplay: "Alice", CreationDate: base.Add(time.Hour), Comment: "edit file"},
		[]model.Change{{ServerPath: root + "/file.txt", ItemType: model.ItemFile, ChangeType: model.Edit}},
		map[string][]byte{root + "/file.txt": []byte("hello world")},
	)
	client.AddChangeset(
		model.Changeset{CID: 3, AuthorDisplay: "Alice", CreationDate: base.Add(2 * time.Hour), Comment: "delete file"},
		[]model.Change{{ServerPath: root + "/file.txt", ItemType: model.ItemFile, ChangeType: model.Delete}},
		nil,
	)

	require.NoError(t, engine.Run(context.Background()))

	require.Equal(t, 3, engine.Session.Stats.ChangesetsProcessed)
	require.Equal(t, 3, engine.Session.Stats.CommitsByBranch["main"])

	for cid := 1; cid <= 3; cid++ {
		_, ok := engine.Session.Hashes.Lookup("main", cid)
		require.True(t, ok, "expected a commit hash recorded for cid %d", cid)
	}

	primaryWorktree := engine.Registry.Primary().WorktreePath
	_, err := os.Stat(filepath.Join(primaryWorktree, "file.txt"))
	require.True(t, os.IsNotExist(err), "expected file.txt to be gone after delete")
}

func TestReplayBranchCreationFromRootPrefix(t *testing.T) {
	requireGit(t)
	root := "/Proj"
	engine, client := newTestEngine(t, root)

	client.RegisterBranch(root+"/branches/feature", root)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	client.AddChangeset(
		model.Changeset{CID: 1, AuthorDisplay: "Bob", CreationDate: base, Comment: "seed feature branch"},
		[]model.Change{{ServerPath: root + "/branches/feature/file.txt", ItemType: model.ItemFile, ChangeType: model.Add | model.Branch}},
		map[string][]byte{root + "/branches/feature/file.txt": []byte("seed")},
	)

	require.NoError(t, engine.Run(context.Background()))

	bd := engine.Registry.Lookup(root + "/branches/feature/anything")
	require.Equal(t, "branches-feature", bd.Name)

	content, err := os.ReadFile(filepath.Join(bd.WorktreePath, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "seed", string(content))

	_, ok := engine.Session.Hashes.Lookup("branches-feature", 1)
	require.True(t, ok)
}
