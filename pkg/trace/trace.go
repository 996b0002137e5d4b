// Package trace records job lifecycle events to a JSONL file.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Event types.
const (
	JobStart      = "job_start"
	JobScriptExit = "job_script_exit"
	JobFinish     = "job_finish"
)

// Event is one line of the trace file.
type Event struct {
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	PipelineIID int            `json:"pipeline_iid"`
	JobID       int            `json:"job_id"`
	Job         string         `json:"job"`
	Data        map[string]any `json:"data,omitempty"`
}

// Writer appends events to a JSONL trace file. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	file   afero.File
	writer *bufio.Writer
	enc    *json.Encoder
	now    func() time.Time
}

// NewWriter creates a trace writer that appends to path.
func NewWriter(fs afero.Fs, path string) (*Writer, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &Writer{
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
		now:    time.Now,
	}, nil
}

// Write appends ev and flushes it to disk.
func (tw *Writer) Write(ev Event) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = tw.now()
	}
	if err := tw.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	// Flush and sync at event boundaries
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}

// Read parses every event of a trace file.
func Read(fs afero.Fs, path string) ([]Event, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return events, fmt.Errorf("decode trace event %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
