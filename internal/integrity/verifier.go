// Package integrity re-downloads a just-replayed path from the CVCS and
// compares it against the working tree, whitespace-insensitively, to
// catch content drift the replay introduced; differences in whitespace
// or line endings alone are not reported. It runs
// only when Config.WithIntegrityCheck is set.
package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ianbruene/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/cvcsreplay/cvcsreplay/internal/cvcsclient"
	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
)

// MismatchError reports a confirmed content divergence between the
// replayed working-tree file and the CVCS's own copy.
type MismatchError struct {
	ServerPath string
	CID        int
	Diff       string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity check failed for %s@%d:\n%s", e.ServerPath, e.CID, e.Diff)
}

// Verifier compares a replayed file against a fresh CVCS download.
type Verifier struct {
	Client     cvcsclient.Client
	Driver     *dvcs.Driver
	Log        *logrus.Logger
	UseGitDiff bool // compare via Driver.DiffNoIndexWhitespace instead of go-difflib
	ScratchDir string
}

// New builds a Verifier. scratchDir defaults to os.TempDir() when empty.
func New(client cvcsclient.Client, driver *dvcs.Driver, log *logrus.Logger, useGitDiff bool, scratchDir string) *Verifier {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Verifier{Client: client, Driver: driver, Log: log, UseGitDiff: useGitDiff, ScratchDir: scratchDir}
}

// Verify re-downloads serverPath as it existed at cid and compares it
// against worktreeFile. A re-download failure is logged and skipped
// rather than treated as fatal, since it's usually a transient server
// hiccup and the replay itself already succeeded; a size-class mismatch
// (one side empty, the other not) is likewise logged and ignored, since
// it usually indicates a placeholder blob on one side rather than real
// content drift. Any other mismatch returns a *MismatchError.
func (v *Verifier) Verify(ctx context.Context, serverPath string, cid int, worktreeFile string) error {
	scratch := filepath.Join(v.ScratchDir, uuid.NewString())
	defer os.Remove(scratch)

	if err := v.Client.Download(ctx, serverPath, cid, scratch); err != nil {
		if v.Log != nil {
			v.Log.WithFields(logrus.Fields{"path": serverPath, "cid": cid, "error": err}).
				Warn("integrity check skipped: re-download failed")
		}
		return nil
	}

	identical, diffText, err := v.compare(scratch, worktreeFile)
	if err != nil {
		return err
	}
	if identical {
		return nil
	}

	scratchInfo, errA := os.Stat(scratch)
	localInfo, errB := os.Stat(worktreeFile)
	if errA == nil && errB == nil && (scratchInfo.Size() == 0) != (localInfo.Size() == 0) {
		if v.Log != nil {
			v.Log.WithFields(logrus.Fields{"path": serverPath, "cid": cid}).
				Warn("integrity check failed and ignored: zero-byte/non-zero size mismatch")
		}
		return nil
	}

	return &MismatchError{ServerPath: serverPath, CID: cid, Diff: diffText}
}

func (v *Verifier) compare(scratch, local string) (bool, string, error) {
	if v.UseGitDiff {
		identical, err := v.Driver.DiffNoIndexWhitespace(filepath.Dir(scratch), scratch, local)
		if err != nil {
			return false, "", fmt.Errorf("integrity: diffing %s against %s: %w", scratch, local, err)
		}
		if identical {
			return true, "", nil
		}
		return false, fmt.Sprintf("%s and %s differ (git diff -w)", scratch, local), nil
	}

	expected, err := os.ReadFile(scratch)
	if err != nil {
		return false, "", fmt.Errorf("integrity: reading %s: %w", scratch, err)
	}
	actual, err := os.ReadFile(local)
	if err != nil {
		return false, "", fmt.Errorf("integrity: reading %s: %w", local, err)
	}
	if normalizeWhitespace(string(expected)) == normalizeWhitespace(string(actual)) {
		return true, "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(expected)),
		B:        difflib.SplitLines(string(actual)),
		FromFile: "cvcs",
		ToFile:   "worktree",
		Context:  3,
	}
	text, derr := difflib.GetUnifiedDiffString(diff)
	if derr != nil {
		return false, "", fmt.Errorf("integrity: generating diff: %w", derr)
	}
	return false, text, nil
}

// normalizeWhitespace strips every whitespace rune so two renderings
// that differ only in line endings or indentation compare equal.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
