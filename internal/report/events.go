package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventRunStart  EventType = "run_start"
	EventRunEnd    EventType = "run_end"
	EventScanError EventType = "scan_error"
	EventCataloged EventType = "cataloged"
	EventDuplicate EventType = "duplicate"
	EventNoDate    EventType = "no_date"
	EventFailed    EventType = "failed"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is one line of the JSONL event log
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	RunID        string            `json:"run_id"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	SrcPath      string            `json:"src_path,omitempty"`
	DestPath     string            `json:"dest_path,omitempty"`
	Step         string            `json:"step,omitempty"`
	CatalogID    int64             `json:"catalog_id,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file, one file per run
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// NewEventLogger creates a new event logger with a minimum log level.
// An empty runID is replaced with a fresh one.
func NewEventLogger(outputDir, runID string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if runID == "" {
		runID = NewRunID()
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s-%.8s.jsonl", timestamp, runID)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    runID,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RunID = l.runID

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogRunStart records the start of an import
func (l *EventLogger) LogRunStart(root, archive string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventRunStart,
		SrcPath:  root,
		DestPath: archive,
	})
}

// LogRunEnd records the aggregate counts of an import
func (l *EventLogger) LogRunEnd(counts map[string]int, duration time.Duration) error {
	extra := make(map[string]string, len(counts))
	for k, v := range counts {
		extra[k] = fmt.Sprintf("%d", v)
	}
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventRunEnd,
		Duration: duration.Milliseconds(),
		Extra:    extra,
	})
}

// LogScanError logs an entry the scanner had to skip
func (l *EventLogger) LogScanError(srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventScanError,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}

// LogCataloged logs a file that was placed and recorded
func (l *EventLogger) LogCataloged(fingerprint, srcPath, destPath string, id, bytesWritten int64, duration time.Duration) error {
	return l.Log(&Event{
		Level:        LevelInfo,
		Event:        EventCataloged,
		Fingerprint:  fingerprint,
		SrcPath:      srcPath,
		DestPath:     destPath,
		CatalogID:    id,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
	})
}

// LogDuplicate logs a file skipped because its fingerprint is cataloged
func (l *EventLogger) LogDuplicate(fingerprint, srcPath, existingPath string, existingID int64) error {
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       EventDuplicate,
		Fingerprint: fingerprint,
		SrcPath:     srcPath,
		DestPath:    existingPath,
		CatalogID:   existingID,
	})
}

// LogNoDate logs a file filed under the undated bucket
func (l *EventLogger) LogNoDate(fingerprint, srcPath string) error {
	return l.Log(&Event{
		Level:       LevelWarning,
		Event:       EventNoDate,
		Fingerprint: fingerprint,
		SrcPath:     srcPath,
	})
}

// LogFailed logs a per-file failure and the step it happened in
func (l *EventLogger) LogFailed(fingerprint, srcPath, step string, err error) error {
	return l.Log(&Event{
		Level:       LevelError,
		Event:       EventFailed,
		Fingerprint: fingerprint,
		SrcPath:     srcPath,
		Step:        step,
		Error:       err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the run identifier stamped on every event
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
