package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/franz/photor/internal/util"
)

// MediaExtensions are the default recognised photo and video extensions
var MediaExtensions = []string{
	".jpg",
	".jpeg",
	".mp4",
	".png",
	".raw",
	".raf", // Fujifilm RAW
}

// Scanner enumerates candidate media files under a root directory
type Scanner struct {
	fs         afero.Fs
	extensions map[string]bool
}

// Config holds scanner configuration
type Config struct {
	Fs             afero.Fs // defaults to the OS filesystem
	Extensions     []string // replaces MediaExtensions when non-empty
	AdditionalExts []string
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg == nil {
		cfg = &Config{}
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	base := cfg.Extensions
	if len(base) == 0 {
		base = MediaExtensions
	}

	// Build extension map (case-insensitive)
	extMap := make(map[string]bool)
	for _, ext := range append(slices.Clone(base), cfg.AdditionalExts...) {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[ext] = true
	}

	return &Scanner{
		fs:         fsys,
		extensions: extMap,
	}
}

// Error is a per-entry scan failure; the entry is skipped
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result represents a scan result
type Result struct {
	Files  []string // lexicographic walk order
	Errors []error  // one *Error per skipped entry
}

// Scan walks root and returns every regular file at depth >= 1 whose
// extension is recognised. Directories whose name starts with a dot are not
// descended into. Entries that cannot be read are logged and skipped; only a
// root that is missing or not a directory fails the whole scan.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot scan %s: not a directory", root)
	}

	util.DebugLog("Scanning: %s", root)
	result := &Result{}

	walkErr := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			result.Errors = append(result.Errors, &Error{Path: path, Err: err})
			return nil
		}

		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				util.DebugLog("Skipping hidden directory: %s", path)
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks, devices and sockets are not candidates
		if !info.Mode().IsRegular() {
			return nil
		}

		if s.isMediaFile(path) {
			result.Files = append(result.Files, path)
		}
		return nil
	})

	if walkErr != nil {
		return result, fmt.Errorf("walk error: %w", walkErr)
	}

	util.DebugLog("Scan found %d candidate files (%d entries skipped)", len(result.Files), len(result.Errors))
	return result, nil
}

// isMediaFile checks if a file has a recognised extension
func (s *Scanner) isMediaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return s.extensions[ext]
}

// Extensions returns the recognised extensions, sorted
func (s *Scanner) Extensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}
