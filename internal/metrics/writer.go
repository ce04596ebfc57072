package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one logged scalar.
type Record struct {
	RunID string    `json:"run_id"`
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Step  int64     `json:"step"`
	Time  time.Time `json:"time"`
}

// ScalarWriter appends scalars as JSON lines to
// <dir>/scalars-<run id>.jsonl. It is safe for concurrent use.
type ScalarWriter struct {
	mu    sync.Mutex
	file  *os.File
	enc   *json.Encoder
	runID string
	path  string
	now   func() time.Time
}

// NewScalarWriter opens a writer under dir, creating dir if needed. An
// empty runID gets a fresh UUID; reusing a run id appends to its file.
func NewScalarWriter(dir, runID string) (*ScalarWriter, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}

	path := filepath.Join(dir, "scalars-"+runID+".jsonl")
	//nolint:gosec // experiment directory is user-provided by design
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	return &ScalarWriter{
		file:  file,
		enc:   json.NewEncoder(file),
		runID: runID,
		path:  path,
		now:   time.Now,
	}, nil
}

// RunID returns the run identifier stamped on every record.
func (w *ScalarWriter) RunID() string {
	return w.runID
}

// Path returns the file being written.
func (w *ScalarWriter) Path() string {
	return w.path
}

// AddScalar records value under name at step.
func (w *ScalarWriter) AddScalar(name string, value float64, step int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	return w.enc.Encode(Record{
		RunID: w.runID,
		Name:  name,
		Value: value,
		Step:  step,
		Time:  w.now().UTC(),
	})
}

// Close flushes and closes the file. Further AddScalar calls fail.
func (w *ScalarWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// ReadScalars loads every record of a scalars file.
func ReadScalars(path string) ([]Record, error) {
	//nolint:gosec // path is user-provided by design
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}
