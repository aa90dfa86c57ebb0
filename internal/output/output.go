// Package output stores task outputs outside the orchestration core.
//
// The core only tracks a hasOutput flag and an opaque reference on each
// task run; the blobs themselves live here, one JSON file per run/task
// under the data directory.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	logx "conveyor/pkg/logx"
)

var ErrNotFound = errors.New("output not found")

type envelope struct {
	Ref       string    `json:"ref"`
	RunID     int64     `json:"run_id"`
	TaskID    string    `json:"task_id"`
	WrittenAt time.Time `json:"written_at"`
	Data      any       `json:"data"`
}

// Store is a file-backed output store. Writes happen from the single
// executor goroutine of a run, reads from API callers; distinct files keep
// them from colliding.
type Store struct {
	dir string
	log logx.Logger
}

func NewStore(dir string, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: log}, nil
}

// Write persists a task's output and returns its reference.
func (s *Store) Write(runID int64, taskID string, v any) (string, error) {
	ref := uuid.NewString()
	env := envelope{
		Ref:       ref,
		RunID:     runID,
		TaskID:    taskID,
		WrittenAt: time.Now().UTC(),
		Data:      v,
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}

	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	// Write then rename so readers never see a torn file.
	tmp := filepath.Join(dir, taskID+".json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, filepath.Join(dir, taskID+".json")); err != nil {
		return "", err
	}
	s.log.Debug("task output written",
		logx.Int64("run", runID), logx.String("task", taskID), logx.String("ref", ref))
	return ref, nil
}

// Read returns the raw output blob for a run/task, or ErrNotFound.
func (s *Store) Read(runID int64, taskID string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.runDir(runID), taskID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *Store) runDir(runID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("run-%d", runID))
}
