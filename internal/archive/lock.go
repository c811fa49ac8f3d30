package archive

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/franz/photor/internal/util"
)

// LockFileName is created in the archive root while an import runs
const LockFileName = ".photor.lock"

// ErrArchiveLocked is returned when another import holds the archive lock
var ErrArchiveLocked = fmt.Errorf("archive is in use by another import: %w", util.ErrLocked)

// Lock is an exclusive, process-wide lock on an archive root
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the archive lock without blocking
func AcquireLock(root string) (*Lock, error) {
	path := filepath.Join(root, LockFileName)
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", root, ErrArchiveLocked)
	}

	util.DebugLog("Acquired archive lock: %s", path)
	return &Lock{fl: fl}, nil
}

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
