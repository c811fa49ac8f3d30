package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/franz/photor/internal/archive"
	"github.com/franz/photor/internal/dates"
	"github.com/franz/photor/internal/store"
	"github.com/franz/photor/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and archive",
	Long: `Run diagnostic checks to ensure photor can operate correctly.

This command checks:
- exiftool availability (optional when the native provider is used)
- SQLite version, catalog integrity and schema version
- Archive directory permissions and free disk space
- Whether another import currently holds the archive lock
- Temporary .part files left behind by interrupted imports

Use --clean-temp to delete the leftover temporary files.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().Bool("clean-temp", false, "remove temporary files left by interrupted imports")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanTemp, _ := cmd.Flags().GetBool("clean-temp")

	util.InfoLog("=== photor doctor ===")
	util.InfoLog("")

	results := []checkResult{
		checkExiftool(cfg.Provider),
		checkSQLite(),
		checkArchiveDirectory(cfg.Archive),
		checkConfigFile(filepath.Join(cfg.Archive, configFileName+configFileExt)),
		checkDatabase(cfg.DB),
		checkArchiveLock(cfg.Archive),
		checkStaleTemps(afero.NewOsFs(), cfg.Archive, cleanTemp),
		checkDiskSpace(cfg.Archive),
	}

	util.InfoLog("")
	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		switch {
		case r.error:
			util.ErrorLog("%s", line)
		case r.warning:
			util.WarnLog("%s", line)
		default:
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before importing.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before importing.")
	} else {
		util.SuccessLog("All checks passed.")
	}

	return nil
}

// checkExiftool verifies exiftool is available; it is only required when
// the exiftool provider is selected explicitly
func checkExiftool(provider string) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "exiftool", "-ver").Output()
	if err != nil {
		r := checkResult{name: "exiftool"}
		switch provider {
		case providerExiftool:
			r.error = true
			r.message = "not found or not executable (required by metadata.provider = exiftool)"
		case providerNative:
			r.message = "not found (not needed, native provider selected)"
		default:
			r.warning = true
			r.message = "not found (imports fall back to native decoders with fewer fields)"
		}
		return r
	}

	return checkResult{
		name:    "exiftool",
		message: fmt.Sprintf("version %s", strings.TrimSpace(string(output))),
	}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkArchiveDirectory verifies the archive root exists and is writable
func checkArchiveDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Archive directory",
				warning: true,
				message: fmt.Sprintf("%s does not exist (run photor init)", path),
			}
		}
		return checkResult{
			name:    "Archive directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Archive directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	// Check write permission by creating a temp file
	f, err := os.CreateTemp(path, ".photor-write-test-*")
	if err != nil {
		return checkResult{
			name:    "Archive directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(f.Name())

	return checkResult{
		name:    "Archive directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkConfigFile verifies photor.toml parses, if present
func checkConfigFile(path string) checkResult {
	cfg, err := readConfigFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return checkResult{
			name:    "Config file",
			message: fmt.Sprintf("%s not present (using defaults)", path),
		}
	}
	if err != nil {
		return checkResult{
			name:    "Config file",
			error:   true,
			message: err.Error(),
		}
	}

	return checkResult{
		name:    "Config file",
		message: fmt.Sprintf("%s (provider %s, concurrency %d)", path, cfg.Metadata.Provider, cfg.Concurrency),
	}
}

// checkDatabase verifies catalog accessibility, integrity and schema version
func checkDatabase(dbPath string) checkResult {
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Catalog",
				message: fmt.Sprintf("%s (will be created on first import)", dbPath),
			}
		}
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.OpenWithOptions(dbPath, &store.OpenOptions{SkipMigrations: true})
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CheckIntegrity(ctx); err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	status, err := db.SchemaVersion()
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot read schema version: %v", err),
		}
	}
	if status.Dirty {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("schema version %d is dirty", status.Current),
		}
	}
	if status.Pending() {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: fmt.Sprintf("schema version %d, latest %d (run photor migrate)", status.Current, status.Latest),
		}
	}

	stats, err := db.Count(ctx, dates.Bucket(dates.Sentinel))
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: err.Error(),
		}
	}

	return checkResult{
		name: "Catalog",
		message: fmt.Sprintf("%s (%s, %d photos in %d directories)",
			dbPath, humanize.IBytes(uint64(info.Size())), stats.Photos, stats.Directories),
	}
}

// checkArchiveLock reports whether an import is currently running
func checkArchiveLock(root string) checkResult {
	if _, err := os.Stat(root); err != nil {
		return checkResult{name: "Archive lock", message: "no archive yet"}
	}

	lock, err := archive.AcquireLock(root)
	if errors.Is(err, archive.ErrArchiveLocked) {
		return checkResult{
			name:    "Archive lock",
			warning: true,
			message: "held by a running import",
		}
	}
	if err != nil {
		return checkResult{
			name:    "Archive lock",
			error:   true,
			message: err.Error(),
		}
	}
	lock.Release()

	return checkResult{name: "Archive lock", message: "free"}
}

// checkStaleTemps looks for .part files left by interrupted imports and
// removes them when clean is set
func checkStaleTemps(fsys afero.Fs, root string, clean bool) checkResult {
	if exists, _ := afero.DirExists(fsys, root); !exists {
		return checkResult{name: "Temporary files", message: "no archive yet"}
	}

	stale, err := archive.FindStaleTemps(fsys, root)
	if err != nil {
		return checkResult{
			name:    "Temporary files",
			error:   true,
			message: err.Error(),
		}
	}
	if len(stale) == 0 {
		return checkResult{name: "Temporary files", message: "none"}
	}

	if !clean {
		for _, path := range stale {
			util.InfoLog("  leftover: %s", path)
		}
		return checkResult{
			name:    "Temporary files",
			warning: true,
			message: fmt.Sprintf("%d left by interrupted imports (rerun with --clean-temp to remove)", len(stale)),
		}
	}

	removed, err := archive.CleanStaleTemps(fsys, root, util.NoRetry())
	if err != nil {
		return checkResult{
			name:    "Temporary files",
			error:   true,
			message: fmt.Sprintf("removed %d of %d: %v", len(removed), len(stale), err),
		}
	}
	return checkResult{
		name:    "Temporary files",
		message: fmt.Sprintf("removed %d", len(removed)),
	}
}

// checkDiskSpace verifies available disk space on the archive filesystem
func checkDiskSpace(path string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    "Disk space",
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	return diskSpaceResult(
		stat.Bavail*uint64(stat.Bsize),
		stat.Blocks*uint64(stat.Bsize),
		stat.Bfree*uint64(stat.Bsize),
	)
}

func diskSpaceResult(availBytes, totalBytes, freeBytes uint64) checkResult {
	if totalBytes == 0 {
		return checkResult{
			name:    "Disk space",
			warning: true,
			message: "filesystem reports no capacity",
		}
	}

	usedBytes := totalBytes - freeBytes
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	// Warn if less than 10GB available or >90% used
	warning := false
	warningMsg := ""
	if availBytes < 10*1024*1024*1024 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    "Disk space",
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.IBytes(availBytes), warningMsg),
	}
}
