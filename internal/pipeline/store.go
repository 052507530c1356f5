package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store manages run state on disk. Each run lives under <baseDir>/<run-id>/
// with a run.json plus per-stage attempt directories holding agent payloads
// and raw check output.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.circuitsmith/runs, creating the
// directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".circuitsmith", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

// StageDir returns the directory for a stage attempt within a run.
func (s *Store) StageDir(id string, stage Stage, attempt int) string {
	return filepath.Join(s.runDir(id), "stages", string(stage), fmt.Sprintf("attempt-%d", attempt))
}

// OutputDir returns the directory where extracted artifacts for a run land.
func (s *Store) OutputDir(id string) string {
	return filepath.Join(s.runDir(id), "output")
}

// WorkspaceDir returns the directory mounted into the run's container as
// its working directory.
func (s *Store) WorkspaceDir(id string) string {
	return filepath.Join(s.runDir(id), "workspace")
}

// Create initialises a new run on disk.
func (s *Store) Create(id, title, request string) (*Run, error) {
	dir := s.runDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", id)
	}

	for _, sub := range []string{"stages", "output"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", sub, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	run := &Run{
		ID:           id,
		Title:        title,
		Request:      request,
		CurrentStage: StagePlan,
		Status:       StatusPending,
		StageHistory: []StageHistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := writeJSON(s.runPath(id), run); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return run, nil
}

// Get reads the state of a run.
func (s *Store) Get(id string) (*Run, error) {
	var run Run
	if err := readJSON(s.runPath(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	if !run.CurrentStage.Valid() {
		return nil, fmt.Errorf("run %s has unknown stage %q", id, run.CurrentStage)
	}
	return &run, nil
}

// Update performs a read-modify-write of the run state.
func (s *Store) Update(id string, fn func(*Run)) error {
	run, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(run)
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return writeJSON(s.runPath(id), run)
}

// List returns all runs, optionally filtered by status. Pass "" to return
// everything. Runs are sorted newest first.
func (s *Store) List(statusFilter Status) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || run.Status == statusFilter {
			runs = append(runs, *run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	dir := s.runDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", id)
	}
	return os.RemoveAll(dir)
}

// SaveStagePayload writes an agent payload (instructions or structured
// response) for a stage attempt.
func (s *Store) SaveStagePayload(id string, stage Stage, attempt int, name string, data []byte) error {
	dir := s.StageDir(id, stage, attempt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir attempt dir: %w", err)
	}
	return writeAtomic(filepath.Join(dir, name), data)
}

// SaveCheckOutput writes the raw output of a check run for a stage attempt.
func (s *Store) SaveCheckOutput(id string, stage Stage, attempt int, raw string) error {
	dir := s.StageDir(id, stage, attempt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir attempt dir: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "check-output.log"), []byte(raw))
}

// SaveManifest writes the final artifact manifest for a run.
func (s *Store) SaveManifest(id string, m *Manifest) error {
	return writeJSON(filepath.Join(s.runDir(id), "manifest.json"), m)
}

// GetManifest reads the final artifact manifest for a run.
func (s *Store) GetManifest(id string) (*Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(s.runDir(id), "manifest.json"), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeAtomic writes data to path by writing a temp file in the same
// directory and renaming over the target.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = "" // prevent deferred removal
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	return writeAtomic(path, data)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
