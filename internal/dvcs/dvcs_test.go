package dvcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/usr/bin/git"); err == nil {
		return
	}
	if _, err := os.Stat("/usr/local/bin/git"); err == nil {
		return
	}
	t.Skip("git binary not found; skipping plumbing-backed dvcs test")
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	d, err := New("git", log)
	require.NoError(t, err)
	return d
}

func TestInitAddCommitRevParseRoundTrip(t *testing.T) {
	requireGit(t)
	d := newTestDriver(t)
	dir := t.TempDir()

	require.NoError(t, d.Init(dir, "main"))
	require.NoError(t, d.ConfigureRepo(dir))

	filePath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("one"), 0644))
	require.NoError(t, d.Add(dir, []string{"a.txt"}, false))

	msgFile := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(msgFile, []byte("first commit\n"), 0644))
	require.NoError(t, d.Commit(dir, msgFile))

	hash, err := d.RevParseHEAD(dir)
	require.NoError(t, err)
	assert.Len(t, hash, 40)
}

func TestRmAndMv(t *testing.T) {
	requireGit(t)
	d := newTestDriver(t)
	dir := t.TempDir()
	require.NoError(t, d.Init(dir, "main"))
	require.NoError(t, d.ConfigureRepo(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("content"), 0644))
	require.NoError(t, d.AddAll(dir))
	msgFile := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(msgFile, []byte("add a\n"), 0644))
	require.NoError(t, d.Commit(dir, msgFile))

	require.NoError(t, d.Mv(dir, "a.txt", "b.txt"))
	_, err := os.Stat(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)

	require.NoError(t, d.Rm(dir, "b.txt"))
	_, err = os.Stat(filepath.Join(dir, "b.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestLsTreeAndShowNameOnly(t *testing.T) {
	requireGit(t)
	d := newTestDriver(t)
	dir := t.TempDir()
	require.NoError(t, d.Init(dir, "main"))
	require.NoError(t, d.ConfigureRepo(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("content"), 0644))
	require.NoError(t, d.AddAll(dir))
	msgFile := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(msgFile, []byte("add a\n"), 0644))
	require.NoError(t, d.Commit(dir, msgFile))

	hash, err := d.RevParseHEAD(dir)
	require.NoError(t, err)

	entries, err := d.LsTree(dir, hash, "a.txt", false)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	touched, err := d.ShowNameOnly(dir, hash)
	require.NoError(t, err)
	assert.Contains(t, touched, "a.txt")
}

func TestHardResetAndCleanRemovesUntracked(t *testing.T) {
	requireGit(t)
	d := newTestDriver(t)
	dir := t.TempDir()
	require.NoError(t, d.Init(dir, "main"))
	require.NoError(t, d.ConfigureRepo(dir))
	require.NoError(t, d.Commit(dir, writeTempMsg(t, dir, "initial\n")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("junk"), 0644))
	require.NoError(t, d.HardResetAndClean(dir))

	_, err := os.Stat(filepath.Join(dir, "stray.txt"))
	assert.True(t, os.IsNotExist(err))
}

func writeTempMsg(t *testing.T, dir, text string) string {
	t.Helper()
	p := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(p, []byte(text), 0644))
	return p
}
