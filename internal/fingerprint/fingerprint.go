// Package fingerprint derives the catalog dedup key of a file.
//
// A fingerprint covers the declared file size and a bounded prefix of the
// content. Files of different sizes never share a fingerprint. Files of the
// same size whose first N bytes are identical always share one, even when
// their tails differ: it is a fast dedup key, not an integrity proof.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// DefaultPrefixBytes is the number of leading content bytes hashed (512 KiB)
const DefaultPrefixBytes int64 = 512 * 1024

// Size is the length in bytes of a Fingerprint
const Size = 16

// Fingerprint is a 128-bit digest over (size, prefix)
type Fingerprint [Size]byte

// String renders the fingerprint as lowercase hex
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 8 hex characters, for log lines
func (f Fingerprint) Short() string {
	return f.String()[:8]
}

// IsZero reports whether f is the zero value
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Parse decodes the hex form produced by String
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if len(b) != Size {
		return f, fmt.Errorf("invalid fingerprint %q: want %d bytes, got %d", s, Size, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// File is the subset of a file handle the fingerprinter needs.
// Both *os.File and afero.File satisfy it.
type File interface {
	io.Reader
	Stat() (fs.FileInfo, error)
}

// ErrShortRead means the file held fewer bytes than its declared size
var ErrShortRead = errors.New("file shorter than its declared size")

// Compute hashes the big-endian uint64 size of f followed by its first
// min(n, size) bytes. The read position of f must be at the start.
func Compute(f File, n int64) (Fingerprint, error) {
	var out Fingerprint
	if n < 0 {
		n = 0
	}

	info, err := f.Stat()
	if err != nil {
		return out, fmt.Errorf("failed to stat file: %w", err)
	}
	size := info.Size()

	h := blake3.New()
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])

	want := min(n, size)
	copied, err := io.CopyN(h, f, want)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("%w: read %d of %d bytes", ErrShortRead, copied, want)
		}
		return out, fmt.Errorf("failed to read file: %w", err)
	}

	copy(out[:], h.Sum(nil))
	return out, nil
}

// ComputePath opens path on fsys, fingerprints it, and closes it
func ComputePath(fsys afero.Fs, path string, n int64) (Fingerprint, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return Compute(f, n)
}
