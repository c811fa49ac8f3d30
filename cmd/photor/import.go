package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/photor/internal/archive"
	"github.com/franz/photor/internal/dates"
	"github.com/franz/photor/internal/importer"
	"github.com/franz/photor/internal/meta"
	"github.com/franz/photor/internal/report"
	"github.com/franz/photor/internal/scan"
	"github.com/franz/photor/internal/store"
	"github.com/franz/photor/internal/util"
)

var importCmd = &cobra.Command{
	Use:   "import <staging-dir>",
	Short: "Import photos and videos from a staging directory",
	Long: `Import every recognised photo and video below the staging directory.

For each file photor:
1. Fingerprints its size and leading bytes
2. Skips it if the fingerprint is already cataloged
3. Reads capture metadata (exiftool or native decoders)
4. Copies it into <archive>/YYYY-MM-DD using the capture date
   (1970-01-01 when no usable date exists)
5. Records it in the catalog

Source files are never modified. Per-file failures are logged and do not stop
the import; running the same import again is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().IntP("concurrency", "c", 1, "files processed in parallel")
	importCmd.Flags().String("provider", "", "metadata provider: auto, exiftool or native")
	importCmd.Flags().Bool("json", false, "print the summary as JSON on stdout")
	importCmd.Flags().Bool("no-progress", false, "disable the progress bar")
	importCmd.Flags().Bool("network", false, "tune catalog and file operations for network filesystems")

	viper.BindPFlag("concurrency", importCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("metadata.provider", importCmd.Flags().Lookup("provider"))
	viper.BindPFlag("network_optimized", importCmd.Flags().Lookup("network"))
}

// importSummary is the --json output
type importSummary struct {
	RunID        string `json:"run_id"`
	Scanned      int    `json:"scanned"`
	Cataloged    int    `json:"cataloged"`
	Duplicates   int    `json:"duplicates"`
	Failed       int    `json:"failed"`
	NoDate       int    `json:"no_date"`
	NotStarted   int    `json:"not_started"`
	ScanErrors   int    `json:"scan_errors"`
	BytesWritten int64  `json:"bytes_written"`
	DurationMs   int64  `json:"duration_ms"`
	Interrupted  bool   `json:"interrupted"`
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	source := args[0]
	jsonOut, _ := cmd.Flags().GetBool("json")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Archive, 0o755); err != nil {
		return fmt.Errorf("cannot create archive %s: %w", cfg.Archive, err)
	}

	lock, err := archive.AcquireLock(cfg.Archive)
	if err != nil {
		return err
	}
	defer lock.Release()

	util.InfoLog("Opening catalog: %s", cfg.DB)
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("cannot start metadata provider: %w", err)
	}
	if closer, ok := provider.(meta.Closer); ok {
		defer closer.Close()
	}

	resolver, err := dates.New(cfg.DatePattern)
	if err != nil {
		return fmt.Errorf("invalid date_pattern: %w", err)
	}

	runID := report.NewRunID()
	logger, err := report.NewEventLogger(cfg.eventsPath(), runID, eventLevel(cfg))
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		logger = report.NullLogger()
	}
	defer logger.Close()
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}

	retry := util.NoRetry()
	if cfg.NetworkOptimized {
		retry = util.NASRetryConfig()
	}

	fsys := afero.NewOsFs()
	imp, err := importer.New(&importer.Config{
		Fs: fsys,
		Scanner: scan.New(&scan.Config{
			Fs:             fsys,
			AdditionalExts: cfg.AdditionalExtensions,
		}),
		Provider: provider,
		Resolver: resolver,
		Placer: archive.New(&archive.Config{
			Fs:          fsys,
			Root:        cfg.Archive,
			PrefixBytes: cfg.PrefixBytes,
			RetryConfig: retry,
		}),
		Catalog: db,
		Logger:  logger,
		Options: importer.Options{
			PrefixBytes:  cfg.PrefixBytes,
			Concurrency:  cfg.Concurrency,
			ShowProgress: !noProgress && !jsonOut && !cfg.Quiet && util.IsTerminal(os.Stderr.Fd()),
		},
	})
	if err != nil {
		return err
	}

	util.InfoLog("Importing %s into %s (concurrency %d)", source, cfg.Archive, cfg.Concurrency)
	result, runErr := imp.Run(ctx, source)
	interrupted := runErr != nil && errors.Is(runErr, context.Canceled)
	if result == nil {
		return fmt.Errorf("import failed: %w", runErr)
	}

	if jsonOut {
		if err := printJSON(result, runID, interrupted); err != nil {
			return err
		}
	} else {
		printSummary(result)
	}

	if interrupted {
		return fmt.Errorf("import interrupted; %d files were not started", result.NotStarted)
	}
	return runErr
}

func openStore(cfg *appConfig) (*store.Store, error) {
	db, err := store.OpenWithOptions(cfg.DB, &store.OpenOptions{NetworkOptimized: cfg.NetworkOptimized})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return db, nil
}

func eventLevel(cfg *appConfig) report.EventLevel {
	switch {
	case cfg.Quiet:
		return report.LevelWarning
	case cfg.Verbose:
		return report.LevelDebug
	default:
		return report.LevelInfo
	}
}

func printSummary(r *importer.Result) {
	util.InfoLog("")
	util.SuccessLog("=== Import Summary ===")
	util.InfoLog("  Scanned:    %d", r.Scanned)
	util.InfoLog("  Cataloged:  %d (%s)", r.Cataloged, humanize.IBytes(uint64(r.BytesWritten)))
	util.InfoLog("  Duplicates: %d", r.Duplicates)
	if r.NoDate > 0 {
		util.WarnLog("  Undated:    %d (filed under %s)", r.NoDate, dates.Bucket(dates.Sentinel))
	}
	if r.Failed > 0 {
		util.WarnLog("  Failed:     %d", r.Failed)
	}
	if len(r.ScanErrors) > 0 {
		util.WarnLog("  Unreadable entries skipped: %d", len(r.ScanErrors))
	}
	if r.NotStarted > 0 {
		util.WarnLog("  Not started: %d", r.NotStarted)
	}
	util.InfoLog("  Time:       %v", r.Duration.Round(time.Millisecond))
}

func printJSON(r *importer.Result, runID string, interrupted bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(importSummary{
		RunID:        runID,
		Scanned:      r.Scanned,
		Cataloged:    r.Cataloged,
		Duplicates:   r.Duplicates,
		Failed:       r.Failed,
		NoDate:       r.NoDate,
		NotStarted:   r.NotStarted,
		ScanErrors:   len(r.ScanErrors),
		BytesWritten: r.BytesWritten,
		DurationMs:   r.Duration.Milliseconds(),
		Interrupted:  interrupted,
	})
}
