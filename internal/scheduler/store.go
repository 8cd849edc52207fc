package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileStore persists the flat job list to a single JSON file via
// atomic write-temp+rename, mirroring the Checkpoint Store's pattern
// (spec section 4.4, reused for the Scheduler's own persistence per
// section 4.5).
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

func (s *fileStore) load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: read %s: %w", s.path, err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("scheduler: unmarshal %s: %w", s.path, err)
	}
	return jobs, nil
}

func (s *fileStore) save(jobs []*Job) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("scheduler: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "scheduler.*.tmp")
	if err != nil {
		return fmt.Errorf("scheduler: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: rename: %w", err)
	}
	return nil
}
