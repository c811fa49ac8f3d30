package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/franz/photor/internal/util"
)

// FindStaleTemps lists temporary files left in the archive by interrupted
// imports, in lexicographic order
func FindStaleTemps(fsys afero.Fs, root string) ([]string, error) {
	var stale []string

	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			util.WarnLog("Error accessing path %s: %v", path, err)
			return nil
		}
		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() && strings.HasSuffix(info.Name(), TempSuffix) {
			stale = append(stale, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk archive %s: %w", root, err)
	}

	return stale, nil
}

// CleanStaleTemps removes the temporary files found by FindStaleTemps and
// returns the paths it removed
func CleanStaleTemps(fsys afero.Fs, root string, cfg *util.RetryConfig) ([]string, error) {
	stale, err := FindStaleTemps(fsys, root)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, path := range stale {
		if err := util.RetryableRemove(fsys, path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		util.DebugLog("Removed stale temporary file: %s", path)
		removed = append(removed, path)
	}

	return removed, errors.Join(errs...)
}
