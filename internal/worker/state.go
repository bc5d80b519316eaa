package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

// State is the worker's persistent progress record. It survives restarts so
// an epoch is never processed twice and a crash loop is detectable.
type State struct {
	LastProcessedEpoch  *uint64    `json:"last_processed_epoch,omitempty"`
	LastCheckTime       *time.Time `json:"last_check_time,omitempty"`
	LastSuccessTime     *time.Time `json:"last_success_time,omitempty"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
}

// LoadState reads the state file, returning a fresh state when the file does
// not exist. A corrupted file is moved aside to <path>.backup and replaced
// with defaults, so one bad write never wedges the worker.
func LoadState(log *slog.Logger, path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("No worker state file, starting fresh", "path", path)
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		backup := path + ".backup"
		log.Warn("Worker state file corrupted, backing up and starting fresh",
			"path", path,
			"backup", backup,
			"error", err,
		)
		if backupErr := os.WriteFile(backup, data, 0o644); backupErr != nil {
			log.Warn("Failed to back up corrupted state file", "error", backupErr)
		}
		return &State{}, nil
	}

	log.Info("Loaded worker state",
		"lastProcessedEpoch", state.LastProcessedEpoch,
		"consecutiveFailures", state.ConsecutiveFailures,
	)
	return &state, nil
}

// Save writes the state atomically via a temp file rename.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal worker state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state file into place: %w", err)
	}
	return nil
}

// MarkCheck records that a scheduler tick ran.
func (s *State) MarkCheck(now time.Time) {
	s.LastCheckTime = &now
}

// MarkSuccess records a processed epoch and clears the failure streak.
func (s *State) MarkSuccess(epoch uint64, now time.Time) {
	s.LastProcessedEpoch = &epoch
	s.LastSuccessTime = &now
	s.ConsecutiveFailures = 0
}

// MarkFailure bumps the failure streak.
func (s *State) MarkFailure() {
	s.ConsecutiveFailures++
}

// ShouldProcessEpoch reports whether the epoch is newer than anything already
// processed.
func (s *State) ShouldProcessEpoch(epoch uint64) bool {
	return s.LastProcessedEpoch == nil || epoch > *s.LastProcessedEpoch
}

// IsInFailureState reports whether the failure streak reached the ceiling.
func (s *State) IsInFailureState(maxFailures uint32) bool {
	return s.ConsecutiveFailures >= maxFailures
}
