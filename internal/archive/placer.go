// Package archive places files into the date-bucketed archive tree.
//
// A file is first copied to "<bucket>/<name>.part" and only renamed to its
// final name once every byte is on disk. A crash before the rename leaves at
// most a .part artifact, never a truncated file under a final name.
//
// A final name that already holds the same content (same fingerprint) is
// adopted instead of rejected, so a file placed by a run that died before
// cataloging it can be cataloged by the next run.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/franz/photor/internal/fingerprint"
	"github.com/franz/photor/internal/util"
)

// TempSuffix marks files that are still being written
const TempSuffix = ".part"

var (
	// ErrDestinationExists is returned when the bucket already holds a file
	// with the same name
	ErrDestinationExists = fmt.Errorf("destination already exists: %w", util.ErrConflict)

	// ErrStaleTemp is returned when a temporary file from an interrupted
	// run occupies the destination
	ErrStaleTemp = fmt.Errorf("stale temporary file from an interrupted import: %w", util.ErrConflict)
)

// Placement describes a successfully placed file
type Placement struct {
	Bucket       string
	Filename     string
	Path         string // absolute path in the archive
	BytesWritten int64
	Adopted      bool // identical file was already in place, nothing copied
}

// Placer copies files into an archive root
type Placer struct {
	fs          afero.Fs
	root        string
	bufferSize  int
	prefixBytes int64
	retryConfig *util.RetryConfig

	mu       sync.Mutex
	reserved map[string]struct{}
}

// Config holds placer configuration
type Config struct {
	Fs          afero.Fs // archive filesystem, defaults to the OS filesystem
	Root        string
	BufferSize  int               // copy buffer (0 = 128KB)
	PrefixBytes int64             // fingerprint prefix used to match an existing file (0 = default)
	RetryConfig *util.RetryConfig // retries for mkdir/stat/remove (nil = none)
}

// New creates a new Placer
func New(cfg *Config) *Placer {
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 128 * 1024
	}
	if cfg.PrefixBytes <= 0 {
		cfg.PrefixBytes = fingerprint.DefaultPrefixBytes
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.NoRetry()
	}

	return &Placer{
		fs:          fsys,
		root:        cfg.Root,
		bufferSize:  cfg.BufferSize,
		prefixBytes: cfg.PrefixBytes,
		retryConfig: cfg.RetryConfig,
		reserved:    make(map[string]struct{}),
	}
}

// Root returns the archive root directory
func (p *Placer) Root() string {
	return p.root
}

// Place copies srcPath from src into bucket under its NFC-normalised base
// name. It does not observe cancellation: once started, the copy and rename
// run to completion or fail.
func (p *Placer) Place(src afero.Fs, srcPath, bucket string) (*Placement, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || strings.HasPrefix(bucket, ".") {
		return nil, fmt.Errorf("invalid bucket name %q", bucket)
	}

	dir := filepath.Join(p.root, bucket)
	if err := p.ensureBucket(dir); err != nil {
		return nil, err
	}

	name := norm.NFC.String(filepath.Base(srcPath))
	finalPath := filepath.Join(dir, name)
	tempPath := finalPath + TempSuffix

	if !p.reserve(finalPath) {
		return nil, fmt.Errorf("%s: %w", finalPath, ErrDestinationExists)
	}
	defer p.release(finalPath)

	if exists, err := p.exists(finalPath); err != nil {
		return nil, err
	} else if exists {
		same, err := p.sameContent(src, srcPath, finalPath)
		if err != nil {
			return nil, err
		}
		if !same {
			return nil, fmt.Errorf("%s: %w", finalPath, ErrDestinationExists)
		}
		util.DebugLog("Adopted: %s already holds %s", finalPath, srcPath)
		return &Placement{
			Bucket:   bucket,
			Filename: name,
			Path:     finalPath,
			Adopted:  true,
		}, nil
	}
	if exists, err := p.exists(tempPath); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%s: %w", tempPath, ErrStaleTemp)
	}

	written, err := p.copyToTemp(src, srcPath, tempPath)
	if err != nil {
		return nil, err
	}

	// Atomicity boundary
	if err := p.fs.Rename(tempPath, finalPath); err != nil {
		p.removeTemp(tempPath)
		return nil, fmt.Errorf("failed to rename %s: %w", tempPath, err)
	}

	util.DebugLog("Placed: %s -> %s (%s)", srcPath, finalPath, humanize.IBytes(uint64(written)))
	return &Placement{
		Bucket:       bucket,
		Filename:     name,
		Path:         finalPath,
		BytesWritten: written,
	}, nil
}

// ensureBucket creates the bucket directory; losing a creation race is fine
func (p *Placer) ensureBucket(dir string) error {
	err := util.RetryableMkdirAll(p.fs, dir, 0o755, p.retryConfig)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		if info, statErr := p.fs.Stat(dir); statErr == nil && info.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("failed to create bucket %s: %w", dir, err)
}

func (p *Placer) exists(path string) (bool, error) {
	_, err := util.RetryableStat(p.fs, path, p.retryConfig)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// sameContent reports whether the file at finalPath has the fingerprint of
// the source
func (p *Placer) sameContent(src afero.Fs, srcPath, finalPath string) (bool, error) {
	want, err := fingerprint.ComputePath(src, srcPath, p.prefixBytes)
	if err != nil {
		return false, fmt.Errorf("failed to fingerprint source: %w", err)
	}
	have, err := fingerprint.ComputePath(p.fs, finalPath, p.prefixBytes)
	if err != nil {
		return false, fmt.Errorf("failed to fingerprint %s: %w", finalPath, err)
	}
	return want == have, nil
}

// copyToTemp writes the source bytes to tempPath and syncs them to disk
func (p *Placer) copyToTemp(src afero.Fs, srcPath, tempPath string) (int64, error) {
	in, err := src.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := p.fs.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%s: %w", tempPath, ErrStaleTemp)
		}
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.CopyBuffer(out, in, make([]byte, p.bufferSize))
	if err == nil && written != info.Size() {
		err = fmt.Errorf("source changed during copy: wrote %d of %d bytes", written, info.Size())
	}
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		p.removeTemp(tempPath)
		return 0, fmt.Errorf("failed to copy %s: %w", srcPath, err)
	}
	return written, nil
}

func (p *Placer) removeTemp(tempPath string) {
	if err := util.RetryableRemove(p.fs, tempPath, p.retryConfig); err != nil && !errors.Is(err, fs.ErrNotExist) {
		util.WarnLog("Failed to remove temporary file %s: %v", tempPath, err)
	}
}

func (p *Placer) reserve(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.reserved[path]; busy {
		return false
	}
	p.reserved[path] = struct{}{}
	return true
}

func (p *Placer) release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, path)
}
