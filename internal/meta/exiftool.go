package meta

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/barasher/go-exiftool"

	"github.com/franz/photor/internal/util"
)

// Exiftool reads metadata through a long-lived exiftool process.
// Calls are serialised because the process handles one request at a time.
type Exiftool struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

// NewExiftool starts the exiftool process. It returns an error wrapping
// util.ErrNotFound when the binary is not installed.
func NewExiftool() (*Exiftool, error) {
	if !CheckExiftoolAvailable() {
		return nil, fmt.Errorf("exiftool: %w", util.ErrNotFound)
	}

	et, err := exiftool.NewExiftool(
		exiftool.Charset("filename=utf8"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start exiftool: %w", err)
	}

	return &Exiftool{et: et}, nil
}

// Read extracts metadata for one file
func (e *Exiftool) Read(ctx context.Context, path string) (*CaptureMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	results := e.et.ExtractMetadata(path)
	e.mu.Unlock()

	return fromResults(path, results)
}

func fromResults(path string, results []exiftool.FileMetadata) (*CaptureMetadata, error) {
	if len(results) != 1 {
		return nil, fmt.Errorf("exiftool returned %d records for %s, expected 1", len(results), path)
	}
	if err := results[0].Err; err != nil {
		return nil, fmt.Errorf("exiftool failed on %s: %w", path, err)
	}
	return FromFields(results[0].Fields), nil
}

// Close stops the exiftool process
func (e *Exiftool) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.et.Close()
}

// CheckExiftoolAvailable checks if exiftool is available in PATH
func CheckExiftoolAvailable() bool {
	_, err := exec.LookPath("exiftool")
	return err == nil
}
