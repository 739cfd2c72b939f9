// Package checkpoint periodically serializes replay state and restores
// it on resume. State is written as a portable JSON object to a
// well-known file at the output root on every changeset completion and
// also on failure, so a resumed run always has somewhere to pick up.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// DefaultFileName is the well-known checkpoint file name.
const DefaultFileName = "laststate.json"

// Store serializes and restores ChangesetProgress to a file.
type Store struct {
	Path string
}

// New builds a Store writing to <outputDir>/laststate.json.
func New(outputDir string) *Store {
	return &Store{Path: filepath.Join(outputDir, DefaultFileName)}
}

// Save atomically writes progress to the checkpoint file: it writes to a
// temp file in the same directory and renames over the target, so a
// crash mid-write never corrupts the last good checkpoint.
func (s *Store) Save(progress model.ChangesetProgress) error {
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshaling state: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("checkpoint: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("checkpoint: renaming %s to %s: %w", tmp, s.Path, err)
	}
	return nil
}

// Load reads the checkpoint file, reporting false if none exists yet.
func (s *Store) Load() (model.ChangesetProgress, bool, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return model.ChangesetProgress{}, false, nil
	}
	if err != nil {
		return model.ChangesetProgress{}, false, fmt.Errorf("checkpoint: reading %s: %w", s.Path, err)
	}
	var progress model.ChangesetProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return model.ChangesetProgress{}, false, fmt.Errorf("checkpoint: parsing %s: %w", s.Path, err)
	}
	return progress, true, nil
}

// PrepareResume loads the last checkpointed state; if processingCID > 0,
// the caller should restart from that CID instead of the configured
// fromCID. The primary worktree is hard-reset to HEAD, untracked files
// are removed, and objects are repacked before the caller resumes
// streaming changesets.
func (s *Store) PrepareResume(driver *dvcs.Driver, primaryWorktree string) (model.ChangesetProgress, int, error) {
	progress, found, err := s.Load()
	if err != nil {
		return model.ChangesetProgress{}, 0, err
	}
	if !found {
		return model.ChangesetProgress{}, 0, nil
	}
	if err := driver.HardResetAndClean(primaryWorktree); err != nil {
		return model.ChangesetProgress{}, 0, fmt.Errorf("checkpoint: resetting primary worktree: %w", err)
	}
	if err := driver.Repack(primaryWorktree); err != nil {
		return model.ChangesetProgress{}, 0, fmt.Errorf("checkpoint: repacking primary worktree: %w", err)
	}
	fromCID := progress.ProcessingCID
	return progress, fromCID, nil
}

// FromProgress reconstructs a flat HashTracker from the serialized
// "branch@cid" string-keyed map.
func FromProgress(progress model.ChangesetProgress) model.HashTracker {
	hashes := make(model.HashTracker, len(progress.HashTracker))
	for key, hash := range progress.HashTracker {
		branch, cid, ok := splitKey(key)
		if !ok {
			continue
		}
		hashes.Record(branch, cid, hash)
	}
	return hashes
}

// ToProgress flattens a HashTracker into the "branch@cid" string-keyed
// map the ChangesetProgress JSON representation uses, since JSON object
// keys must be strings.
func ToProgress(hashes model.HashTracker) map[string]string {
	out := make(map[string]string, len(hashes))
	for k, v := range hashes {
		out[joinKey(k.Branch, k.CID)] = v
	}
	return out
}

func joinKey(branch string, cid int) string {
	return fmt.Sprintf("%s@%d", branch, cid)
}

func splitKey(key string) (string, int, bool) {
	idx := -1
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '@' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", 0, false
	}
	var cid int
	if _, err := fmt.Sscanf(key[idx+1:], "%d", &cid); err != nil {
		return "", 0, false
	}
	return key[:idx], cid, true
}
