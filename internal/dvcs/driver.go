// Package dvcs is the thin, uniform process-invocation layer the
// Replay Engine drives. It normalizes plumbing output/errors into three
// classes (warning, transient, fatal), and retries transient failures
// once using a narrow substring-match-then-backoff shape, so that
// classification never masks a real error as retryable.
package dvcs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/sirupsen/logrus"
)

// transientPatterns are the exact substrings treated as retryable.
// Kept narrow to avoid masking real errors as transient. This is the
// single source of truth for the classification.
var transientPatterns = []string{
	"unable to write new index file",
	"Resource temporarily unavailable",
	"failed to run pack-refs",
}

// retryDelay is the fixed short pause between the original attempt and
// its one retry. Overridable in tests so they don't sleep for real.
var retryDelay = 200 * time.Millisecond
var sleepFunc = time.Sleep

// Result is the normalized outcome of a plumbing invocation.
type Result struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
}

// Driver invokes DVCS plumbing and normalizes its output and errors.
type Driver struct {
	binaryArgs []string // the tokenized gitBinaryPath, e.g. ["git"] or ["git", "-c", "foo=bar"]
	Log        *logrus.Logger
}

// New builds a Driver for the given configured binary path, which may be
// a bare command ("git") or a shell-style string with leading options
// ("git -c protocol.version=2"); the latter is tokenized with
// anmitsu/go-shlex before exec.Command.
func New(gitBinaryPath string, log *logrus.Logger) (*Driver, error) {
	if gitBinaryPath == "" {
		gitBinaryPath = "git"
	}
	words, err := shlex.Split(gitBinaryPath, true)
	if err != nil {
		return nil, fmt.Errorf("parsing gitBinaryPath %q: %w", gitBinaryPath, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("gitBinaryPath %q is empty", gitBinaryPath)
	}
	return &Driver{binaryArgs: words, Log: log}, nil
}

func isTransient(combined string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(combined, p) {
			return true
		}
	}
	return false
}

// isFatalMarker recognizes the plumbing's own fatal/error prefixes.
func isFatalMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "fatal:") || strings.HasPrefix(trimmed, "error:")
}

// run executes one plumbing invocation in dir, retrying once if the
// combined output matches a transient pattern.
func (d *Driver) run(dir string, args ...string) (Result, error) {
	full := append(append([]string{}, d.binaryArgs...), args...)
	res, err := d.runOnce(dir, full)
	if err == nil {
		return res, nil
	}
	combined := strings.Join(append(res.Stdout, res.Stderr...), "\n")
	if isTransient(combined) {
		if d.Log != nil {
			d.Log.WithField("cmd", strings.Join(full, " ")).Warn("transient plumbing failure, retrying once")
		}
		sleepFunc(retryDelay)
		res, err = d.runOnce(dir, full)
	}
	return res, err
}

func (d *Driver) runOnce(dir string, full []string) (Result, error) {
	cmd := exec.Command(full[0], full[1:]...)
	cmd.Dir = dir
	// Isolate every invocation from the host's global and system git
	// config (aliases, commit.gpgsign, core.autocrlf, hooksPath, ...) so
	// only the repository-local config set by ConfigureRepo applies.
	cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1")
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	res := Result{
		Stdout: splitNonEmptyLines(stdout.String()),
		Stderr: splitNonEmptyLines(stderr.String()),
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else if runErr != nil {
		res.ExitCode = -1
	}

	for _, line := range res.Stderr {
		if d.Log != nil && !isFatalMarker(line) {
			d.Log.WithField("cmd", strings.Join(full, " ")).Debug(line)
		}
	}

	if runErr != nil {
		return res, fmt.Errorf("executing %q: %w: %s", strings.Join(full, " "), runErr, strings.Join(res.Stderr, "; "))
	}
	return res, nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// literalPathspec disables git's pathspec glob magic for `{` and `}` so
// a literal brace in a path never triggers glob expansion.
func literalPathspec(path string) string {
	if strings.ContainsAny(path, "{}") {
		return ":(literal)" + path
	}
	return path
}

// Init runs `git init` with the given initial branch name.
func (d *Driver) Init(dir, branchName string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	_, err := d.run(dir, "init", "--quiet", "--initial-branch="+branchName)
	return err
}

// ConfigureRepo applies the per-run repository-local config: no
// line-ending conversion, long paths, case-insensitive working tree,
// disabled path quoting, and all directories marked safe. Combined with
// runOnce's GIT_CONFIG_GLOBAL/GIT_CONFIG_NOSYSTEM environment, only this
// local config ever applies; host global/system git config never bleeds
// into the replay.
func (d *Driver) ConfigureRepo(dir string) error {
	settings := [][2]string{
		{"core.autocrlf", "false"},
		{"core.longpaths", "true"},
		{"core.ignorecase", "true"},
		{"core.quotepath", "false"},
		{"safe.directory", "*"},
	}
	for _, kv := range settings {
		if _, err := d.run(dir, "config", "--local", kv[0], kv[1]); err != nil {
			return fmt.Errorf("configuring %s=%s: %w", kv[0], kv[1], err)
		}
	}
	return nil
}

// WorktreeAdd creates an orphan worktree at path off the primary
// worktree rootDir.
func (d *Driver) WorktreeAdd(rootDir, path, branchName string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	_, err = d.run(rootDir, "worktree", "add", "-f", "--orphan", "-b", branchName, abs)
	return err
}

// Add stages the given paths, optionally forcing ignored files in.
func (d *Driver) Add(dir string, paths []string, force bool) error {
	args := []string{"add"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, "--")
	for _, p := range paths {
		args = append(args, literalPathspec(p))
	}
	_, err := d.run(dir, args...)
	return err
}

// AddAll stages every tracked change in the worktree.
func (d *Driver) AddAll(dir string) error {
	_, err := d.run(dir, "add", "-A")
	return err
}

// Rm force-removes path from the index and working tree.
func (d *Driver) Rm(dir, path string) error {
	_, err := d.run(dir, "rm", "-f", "--", literalPathspec(path))
	return err
}

// Mv force-moves src to dst.
func (d *Driver) Mv(dir, src, dst string) error {
	_, err := d.run(dir, "mv", "-f", literalPathspec(src), literalPathspec(dst))
	return err
}

// CheckoutPath materializes path as it existed at commit into the
// current working tree.
func (d *Driver) CheckoutPath(dir, commit, path string) error {
	_, err := d.run(dir, "checkout", "-f", commit, "--", literalPathspec(path))
	return err
}

// Commit writes a commit from the staged index using the message in
// msgFile, allowing an empty tree diff: a branch the changeset touched
// still gets a commit and a HashTracker entry even when its changes
// leave the tree unchanged.
func (d *Driver) Commit(dir, msgFile string) error {
	_, err := d.run(dir, "commit", "--quiet", "-F", msgFile, "--allow-empty")
	return err
}

// RevParseHEAD returns the current HEAD commit hash.
func (d *Driver) RevParseHEAD(dir string) (string, error) {
	res, err := d.run(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if len(res.Stdout) == 0 {
		return "", fmt.Errorf("rev-parse HEAD in %s produced no output", dir)
	}
	return res.Stdout[0], nil
}

// ShowNameOnly lists the paths touched by commit.
func (d *Driver) ShowNameOnly(dir, commit string) ([]string, error) {
	res, err := d.run(dir, "show", "--name-only", "--pretty=format:", commit)
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// LsTree lists paths present at commit, optionally scoped under path and
// recursively.
func (d *Driver) LsTree(dir, commit, path string, recursive bool) ([]string, error) {
	args := []string{"ls-tree", "--name-only"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, commit)
	if path != "" {
		args = append(args, "--", literalPathspec(path))
	}
	res, err := d.run(dir, args...)
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// DiffNoIndexWhitespace reports whether two files are identical ignoring
// whitespace, using the plumbing's own -w semantics rather than an
// in-process diff; used by the Integrity Verifier only when
// Config.UseGitDiff is set.
func (d *Driver) DiffNoIndexWhitespace(dir, a, b string) (bool, error) {
	res, err := d.runOnce(dir, append(append([]string{}, d.binaryArgs...), "diff", "--no-index", "--exit-code", "-w", a, b))
	if err == nil {
		return true, nil
	}
	if res.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// Status returns the raw `git status` output, for diagnostics.
func (d *Driver) Status(dir string) (string, error) {
	res, err := d.run(dir, "status")
	if err != nil {
		return "", err
	}
	return strings.Join(res.Stdout, "\n"), nil
}

// HardResetAndClean restores dir's worktree to HEAD and removes
// untracked files, the first step of the Checkpoint Store's resume
// protocol.
func (d *Driver) HardResetAndClean(dir string) error {
	if _, err := d.run(dir, "reset", "--hard", "HEAD"); err != nil {
		return err
	}
	if _, err := d.run(dir, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// Repack packs loose objects, the final step of the resume protocol.
func (d *Driver) Repack(dir string) error {
	_, err := d.run(dir, "repack", "-ad")
	return err
}
