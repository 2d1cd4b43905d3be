// Package eventlog provides structured event tracking for the extraction
// pipeline. Events are appended as JSONL to daily rotated files so a run
// can be audited or summarized after the fact.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a pipeline event.
type Kind string

const (
	KindBatchStarted Kind = "BATCH_STARTED"
	KindBatchDone    Kind = "BATCH_DONE"
	KindTaskQueued   Kind = "TASK_QUEUED"
	KindStageEntered Kind = "STAGE_ENTERED"
	KindStageFailed  Kind = "STAGE_FAILED"
	KindTaskDone     Kind = "TASK_DONE"
)

// Event is one JSONL record in the pipeline event log.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	BatchID   string         `json:"batch_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	ImageRef  string         `json:"image_ref,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event of the given kind with ID and timestamp set.
func NewEvent(kind Kind) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func eventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Event: %w", err)
	}
	return &e, nil
}

// Writer handles structured logging of pipeline events to daily rotated
// JSONL files.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates an event log writer with daily rotation in the
// specified directory.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	writer := &Writer{logDir: logDir}

	// Initialize with current log file.
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}

	return writer, nil
}

// Write appends an event to the current log file with automatic rotation.
func (w *Writer) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	jsonData, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	// Newline for JSONL format.
	if _, err := w.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")

	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}

	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	filename := fmt.Sprintf("events-%s.jsonl", newDate)
	path := filepath.Join(w.logDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate

	return nil
}

// Close closes the current log file and cleans up resources.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}

	return nil
}

// GetCurrentLogFile returns the path of the currently active log file.
func (w *Writer) GetCurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}

	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentDate))
}

// ReadEvents reads and parses events from a specific log file.
func ReadEvents(logFilePath string) ([]*Event, error) {
	data, err := os.ReadFile(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if len(data) == 0 {
		return []*Event{}, nil
	}

	var (
		line   []byte
		events []*Event
	)
	for _, b := range data {
		if b == '\n' {
			if len(line) > 0 {
				event, err := eventFromJSON(line)
				if err != nil {
					return nil, fmt.Errorf("failed to parse event: %w", err)
				}
				events = append(events, event)
				line = []byte{}
			}
		} else {
			line = append(line, b)
		}
	}

	// Handle last line if no trailing newline.
	if len(line) > 0 {
		event, err := eventFromJSON(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse final event: %w", err)
		}
		events = append(events, event)
	}

	return events, nil
}

// ListLogFiles returns all event log files in the log directory.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}

	return files, nil
}
