// Package replay is the Replay Engine: it drives the CVCS history
// stream through the Branch Registry, Change Classifier, Source
// Resolver, and DVCS Driver to produce one commit per (branch,
// changeset) pair touched. It is the component every other package
// feeds into.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cvcsreplay/cvcsreplay/internal/branch"
	"github.com/cvcsreplay/cvcsreplay/internal/checkpoint"
	"github.com/cvcsreplay/cvcsreplay/internal/classify"
	"github.com/cvcsreplay/cvcsreplay/internal/cvcsclient"
	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
	"github.com/cvcsreplay/cvcsreplay/internal/fsutil"
	"github.com/cvcsreplay/cvcsreplay/internal/integrity"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
	"github.com/cvcsreplay/cvcsreplay/internal/pathcase"
	"github.com/cvcsreplay/cvcsreplay/internal/session"
	"github.com/cvcsreplay/cvcsreplay/internal/source"
)

// Engine orchestrates one full replay run.
type Engine struct {
	Session     *session.Session
	Client      cvcsclient.Client
	Driver      *dvcs.Driver
	Registry    *branch.Registry
	Resolver    *source.Resolver
	Verifier    *integrity.Verifier // nil when Config.WithIntegrityCheck is false
	Checkpoint  *checkpoint.Store   // nil disables checkpointing
	ProjectRoot string
	ScratchDir  string
}

// New builds an Engine from its constituent components.
func New(sess *session.Session, client cvcsclient.Client, driver *dvcs.Driver, reg *branch.Registry, resolver *source.Resolver, verifier *integrity.Verifier, cp *checkpoint.Store, projectRoot, scratchDir string) *Engine {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Engine{
		Session:     sess,
		Client:      client,
		Driver:      driver,
		Registry:    reg,
		Resolver:    resolver,
		Verifier:    verifier,
		Checkpoint:  cp,
		ProjectRoot: projectRoot,
		ScratchDir:  scratchDir,
	}
}

// Run streams every changeset from fromCID onward and replays it. A
// resume request loads the last checkpoint, resets the primary worktree
// to a clean state, and continues from the checkpointed CID instead of
// the configured one.
func (e *Engine) Run(ctx context.Context) error {
	fromCID := e.Session.Config.FromCID

	if e.Session.Config.Resume && e.Checkpoint != nil {
		progress, resumeCID, err := e.Checkpoint.PrepareResume(e.Driver, e.Registry.Primary().WorktreePath)
		if err != nil {
			return fmt.Errorf("preparing resume: %w", err)
		}
		if resumeCID > 0 {
			e.Registry.Restore(progress.Branches)
			for k, v := range checkpoint.FromProgress(progress) {
				e.Session.Hashes[k] = v
			}
			fromCID = resumeCID
			e.Session.Log.WithField("fromCID", fromCID).Info("resuming from checkpoint")
		}
	}

	summaries, err := e.Client.QueryHistory(ctx, e.ProjectRoot, fromCID)
	if err != nil {
		return fmt.Errorf("querying history from %d: %w", fromCID, err)
	}

	for _, summary := range summaries {
		if e.Session.Abort() {
			e.Session.Log.Warn("abort requested; stopping before next changeset")
			break
		}
		if err := e.processChangeset(ctx, summary.CID); err != nil {
			return err
		}
	}

	e.Session.Log.WithFields(logrus.Fields{
		"changesets": e.Session.Stats.ChangesetsProcessed,
		"noOps":      e.Session.Stats.NoOpsSkipped,
		"warnings":   e.Session.Stats.Warnings,
		"commits":    e.Session.Stats.CommitsByBranch,
	}).Info("replay finished")
	return nil
}

// processChangeset fetches, sorts, and dispatches one changeset's
// changes, then closes out every branch it touched. Once the changeset
// and its change list have been fetched, the checkpoint is saved once on
// the way out regardless of outcome, pointing resume at the next CID on
// success or back at this CID on failure; a failure to fetch them returns
// without saving a checkpoint.
func (e *Engine) processChangeset(ctx context.Context, cid int) (err error) {
	cs, err := e.Client.GetChangeset(ctx, cid)
	if err != nil {
		return fmt.Errorf("fetching changeset %d: %w", cid, err)
	}
	changes, err := e.Client.GetChanges(ctx, cid)
	if err != nil {
		return fmt.Errorf("fetching changes for %d: %w", cid, err)
	}
	cs.Changes = changes
	classify.Sort(changes)

	branchTouched := model.NewOrderedStringSet()

	defer func() {
		if e.Checkpoint == nil {
			return
		}
		next := cid
		if err == nil {
			next = cid + 1
		}
		progress := model.ChangesetProgress{
			ProcessedCount: e.Session.Stats.ChangesetsProcessed,
			ProcessedItems: len(changes),
			Branches:       e.Registry.All(),
			HashTracker:    checkpoint.ToProgress(e.Session.Hashes),
			ProcessingCID:  next,
		}
		if saveErr := e.Checkpoint.Save(progress); saveErr != nil {
			e.Session.Log.WithError(saveErr).Warn("failed to save checkpoint")
		}
	}()

	prefetched, err := e.prefetchBlobs(ctx, cs, changes)
	if err != nil {
		return &FatalError{CID: cid, Detail: "prefetching blobs", Err: err}
	}
	defer func() {
		for _, p := range prefetched {
			os.Remove(p)
		}
	}()

	for i := range changes {
		if dispatchErr := e.dispatch(ctx, cs, &changes[i], &branchTouched, prefetched); dispatchErr != nil {
			return &FatalError{CID: cid, Detail: fmt.Sprintf("dispatching %s", changes[i].ServerPath), Err: dispatchErr}
		}
	}

	for _, branchName := range branchTouched {
		bd, ok := e.lookupByName(branchName)
		if !ok {
			continue
		}
		if err := e.commitBranch(bd, cs); err != nil {
			return err
		}
	}
	e.Session.Stats.ChangesetsProcessed++
	return nil
}

// dispatch applies one change within changeset cs to its target branch's
// worktree, following the branch-resolution, classification,
// source-resolution, materialization, and staging steps in turn.
func (e *Engine) dispatch(ctx context.Context, cs model.Changeset, change *model.Change, branchTouched *model.OrderedStringSet, prefetched map[string]string) error {
	if !withinRoot(e.ProjectRoot, change.ServerPath) {
		return nil
	}

	bd, err := e.ensureBranch(ctx, cs.CID, change)
	if err != nil {
		return fmt.Errorf("resolving branch for %s: %w", change.ServerPath, err)
	}

	relPath := pathcase.NormalizeSeparators(bd.RelativePath(change.ServerPath))
	canonical := pathcase.New(bd.WorktreePath).Canonicalize(relPath)
	destPath := filepath.Join(bd.WorktreePath, filepath.FromSlash(canonical))

	switch classify.Classify(change.ChangeType, change.ItemType) {
	case classify.DispositionNoOp:
		e.Session.Stats.NoOpsSkipped++
		return nil
	case classify.DispositionEnsureDir:
		if e.Session.Config.DryRun || fsutil.IsDir(destPath) {
			return nil
		}
		return os.MkdirAll(destPath, 0755)
	}
	branchTouched.Add(bd.Name)

	var resolved source.Resolved
	if change.HasSource() {
		if len(change.MergeSources) > 1 {
			e.Session.Log.WithField("path", change.ServerPath).Warn("change has multiple merge sources; only the first is used")
			e.Session.Stats.Warnings++
		}
		ms, _ := change.FirstSource()
		r, err := e.Resolver.Resolve(ms, bd.Name, cs.CID)
		if err != nil {
			var unreach *source.ErrUnreachable
			if errors.As(err, &unreach) {
				return &UnresolvedSourceError{CID: cs.CID, ServerPath: change.ServerPath, Err: err}
			}
			return err
		}
		resolved = r

		switch {
		case resolved.Foreign:
			// Falls through to the plain-download path below.
		case resolved.Deleted:
			if e.Session.Config.DryRun {
				return nil
			}
			return e.Driver.Rm(bd.WorktreePath, canonical)
		default:
			if resolved.CommitHash == "" && resolved.BranchName == bd.Name && resolved.CID == cs.CID {
				// Intra-changeset, same-branch shortcut: content is
				// already materialized in this worktree.
			} else if resolved.CommitHash == "" && resolved.BranchName != bd.Name && resolved.CID == cs.CID {
				if err := e.earlyCommit(resolved.BranchName, cs, branchTouched); err != nil {
					return err
				}
				hash, _ := e.Session.Hashes.Lookup(resolved.BranchName, cs.CID)
				resolved.CommitHash = hash
			}
			if !e.Session.Config.DryRun {
				if err := e.copyFromSource(bd, canonical, resolved); err != nil {
					return err
				}
			}
		}
	}

	needsFreshContent := resolved.Foreign ||
		(!change.HasSource() && change.ChangeType.Any(model.Add|model.Edit|model.Encoding)) ||
		(change.HasSource() && change.ChangeType.Any(model.Edit|model.Encoding)) ||
		(!change.HasSource() && change.BranchCreated())

	if needsFreshContent {
		scratch, owned, err := e.materialize(ctx, change.ServerPath, cs.CID, prefetched)
		if err != nil {
			return fmt.Errorf("materializing %s: %w", change.ServerPath, err)
		}
		if owned {
			defer os.Remove(scratch)
		}
		if !e.Session.Config.DryRun {
			if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
				return err
			}
			if err := copyFile(scratch, destPath); err != nil {
				return err
			}
		}
	}

	if change.ChangeType.Has(model.Delete) {
		if e.Session.Config.DryRun {
			return nil
		}
		return e.Driver.Rm(bd.WorktreePath, canonical)
	}

	stageNeeded := needsFreshContent || (change.HasSource() && !resolved.Foreign && !resolved.Deleted) || change.ChangeType.Has(model.Add)
	if stageNeeded && !e.Session.Config.DryRun {
		if err := e.Driver.Add(bd.WorktreePath, []string{canonical}, true); err != nil {
			return fmt.Errorf("staging %s: %w", canonical, err)
		}
	}

	if stageNeeded && e.Verifier != nil && !e.Session.Config.DryRun {
		if err := e.Verifier.Verify(ctx, change.ServerPath, cs.CID, destPath); err != nil {
			return err
		}
	}

	return nil
}

// materialize returns a scratch file holding change's content at cid,
// preferring an already-prefetched download; owned reports whether the
// caller is responsible for removing the returned path.
func (e *Engine) materialize(ctx context.Context, serverPath string, cid int, prefetched map[string]string) (string, bool, error) {
	if scratch, ok := prefetched[serverPath]; ok {
		return scratch, false, nil
	}
	scratch := filepath.Join(e.ScratchDir, uuid.NewString())
	if err := e.Client.Download(ctx, serverPath, cid, scratch); err != nil {
		return "", false, err
	}
	return scratch, true, nil
}

// copyFromSource materializes a resolved cross-branch or cross-version
// source into the target worktree at targetRelPath. A resolved source
// with no commit hash is the intra-changeset, same-branch shortcut: the
// content already sits on disk and only needs moving if the target path
// differs from the source path.
func (e *Engine) copyFromSource(bd model.BranchDescriptor, targetRelPath string, resolved source.Resolved) error {
	if resolved.CommitHash == "" {
		if resolved.RelativePath != targetRelPath {
			return e.Driver.Mv(bd.WorktreePath, resolved.RelativePath, targetRelPath)
		}
		return nil
	}

	backupHead, err := e.Driver.RevParseHEAD(bd.WorktreePath)
	if err != nil {
		return fmt.Errorf("reading HEAD before cross-branch checkout: %w", err)
	}
	priorPath := filepath.Join(bd.WorktreePath, filepath.FromSlash(resolved.RelativePath))
	_, statErr := os.Stat(priorPath)
	hadPriorContent := statErr == nil && resolved.RelativePath != targetRelPath

	if err := e.Driver.CheckoutPath(bd.WorktreePath, resolved.CommitHash, resolved.RelativePath); err != nil {
		return fmt.Errorf("checking out %s from %s: %w", resolved.RelativePath, resolved.CommitHash, err)
	}
	if resolved.RelativePath != targetRelPath {
		if err := e.Driver.Mv(bd.WorktreePath, resolved.RelativePath, targetRelPath); err != nil {
			return fmt.Errorf("moving %s to %s: %w", resolved.RelativePath, targetRelPath, err)
		}
		if hadPriorContent {
			if err := e.Driver.CheckoutPath(bd.WorktreePath, backupHead, resolved.RelativePath); err != nil {
				return fmt.Errorf("restoring prior content at %s: %w", resolved.RelativePath, err)
			}
		}
	}
	return nil
}

// ensureBranch resolves change's target branch, lazily creating one if
// the CVCS reports a branch root more specific than anything registered
// yet.
func (e *Engine) ensureBranch(ctx context.Context, cid int, change *model.Change) (model.BranchDescriptor, error) {
	existing := e.Registry.Lookup(change.ServerPath)
	if existing.ServerPath == change.ServerPath {
		return existing, nil
	}

	objects, err := e.Client.QueryBranchObjects(ctx, change.ServerPath, cid)
	if err != nil {
		return model.BranchDescriptor{}, err
	}
	root, found := findBranchRoot(objects, change.ServerPath)
	if !found || root == existing.ServerPath {
		return existing, nil
	}

	bd, err := e.Registry.Create(root)
	if err != nil {
		return model.BranchDescriptor{}, err
	}
	change.MarkBranchCreated(bd.ServerPath == root)
	return bd, nil
}

// findBranchRoot returns the longest BranchObject.ServerPath that is a
// prefix of path.
func findBranchRoot(objects []cvcsclient.BranchObject, path string) (string, bool) {
	best := ""
	found := false
	for _, obj := range objects {
		if withinRoot(obj.ServerPath, path) && len(obj.ServerPath) > len(best) {
			best = obj.ServerPath
			found = true
		}
	}
	return best, found
}

func withinRoot(root, path string) bool {
	if path == root {
		return true
	}
	return len(path) > len(root) && path[:len(root)] == root && path[len(root)] == '/'
}

func (e *Engine) lookupByName(name string) (model.BranchDescriptor, bool) {
	for _, bd := range e.Registry.All() {
		if bd.Name == name {
			return bd, true
		}
	}
	return model.BranchDescriptor{}, false
}

// earlyCommit commits branchName now, ahead of the normal per-changeset
// close-out, so a same-changeset cross-branch reference to it resolves
// to a real commit hash instead of content still sitting uncommitted on
// disk.
func (e *Engine) earlyCommit(branchName string, cs model.Changeset, branchTouched *model.OrderedStringSet) error {
	bd, ok := e.lookupByName(branchName)
	if !ok {
		return fmt.Errorf("early commit: unknown branch %s", branchName)
	}
	if err := e.commitBranch(bd, cs); err != nil {
		return err
	}
	branchTouched.Remove(branchName)
	return nil
}

// prefetchBlobs concurrently downloads the content for every
// independent, sourceless Add/Edit/Encoding change in the changeset, so
// the (necessarily serialized) dispatch loop below never blocks on a
// network round trip it could have done in parallel.
func (e *Engine) prefetchBlobs(ctx context.Context, cs model.Changeset, changes []model.Change) (map[string]string, error) {
	type job struct {
		path string
	}
	var jobs []job
	for _, ch := range changes {
		if ch.HasSource() || ch.ItemType == model.ItemFolder {
			continue
		}
		if !ch.ChangeType.Any(model.Add | model.Edit | model.Encoding) {
			continue
		}
		jobs = append(jobs, job{path: ch.ServerPath})
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	results := make(map[string]string, len(jobs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(jobs))

	for _, j := range jobs {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			scratch := filepath.Join(e.ScratchDir, uuid.NewString())
			if err := e.Client.Download(ctx, path, cs.CID, scratch); err != nil {
				errCh <- fmt.Errorf("prefetching %s@%d: %w", path, cs.CID, err)
				return
			}
			mu.Lock()
			results[path] = scratch
			mu.Unlock()
		}(j.path)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		for _, p := range results {
			os.Remove(p)
		}
		return nil, err
	}
	return results, nil
}

// commitBranch stages and commits everything pending in bd's worktree
// under cs's authorship. A dry run logs the commit it would make instead
// of invoking the driver.
func (e *Engine) commitBranch(bd model.BranchDescriptor, cs model.Changeset) error {
	if e.Session.Config.DryRun {
		e.Session.Log.WithFields(logrus.Fields{"branch": bd.Name, "cid": cs.CID}).Info("dry-run: would commit")
		return nil
	}
	if err := e.Driver.AddAll(bd.WorktreePath); err != nil {
		return &FatalError{CID: cs.CID, Detail: fmt.Sprintf("staging branch %s", bd.Name), Err: err}
	}

	msgFile, err := writeCommitMessage(cs)
	if err != nil {
		return &FatalError{CID: cs.CID, Detail: "writing commit message", Err: err}
	}
	defer os.Remove(msgFile)

	authorDate := cs.CreationDate.Format(time.RFC3339)
	scope := dvcs.BeginAuthoring(cs.AuthorDisplay, syntheticEmail(cs.AuthorDisplay), authorDate, authorDate)
	defer scope.Release()

	if err := e.Driver.Commit(bd.WorktreePath, msgFile); err != nil {
		return &FatalError{CID: cs.CID, Detail: fmt.Sprintf("committing branch %s", bd.Name), Err: err}
	}
	hash, err := e.Driver.RevParseHEAD(bd.WorktreePath)
	if err != nil {
		return &FatalError{CID: cs.CID, Detail: fmt.Sprintf("reading HEAD on branch %s", bd.Name), Err: err}
	}
	e.Session.Hashes.Record(bd.Name, cs.CID, hash)
	e.Session.Stats.RecordCommit(bd.Name)
	return nil
}

func writeCommitMessage(cs model.Changeset) (string, error) {
	body := fmt.Sprintf("%s [CVCS-%d]", cs.Comment, cs.CID)
	f, err := os.CreateTemp("", "cvcsreplay-msg-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// syntheticEmail derives a placeholder author email from a CVCS display
// name, since the CVCS has no notion of an email address to carry over.
func syntheticEmail(displayName string) string {
	local := displayName
	out := make([]rune, 0, len(local))
	for _, r := range local {
		if r == ' ' {
			out = append(out, '.')
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return "unknown@migrated.invalid"
	}
	return string(out) + "@migrated.invalid"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
