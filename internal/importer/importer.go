// Package importer runs the import pipeline: every candidate file is
// fingerprinted, checked against the catalog, and if new, has its metadata
// read, its capture date resolved, and is placed into the archive before it
// is recorded. A failure affects only the file it happened to.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/franz/photor/internal/archive"
	"github.com/franz/photor/internal/dates"
	"github.com/franz/photor/internal/fingerprint"
	"github.com/franz/photor/internal/meta"
	"github.com/franz/photor/internal/report"
	"github.com/franz/photor/internal/scan"
	"github.com/franz/photor/internal/store"
	"github.com/franz/photor/internal/util"
)

// Catalog is the lookup/insert view of the photo catalog. Lookup returns
// nil, nil when the fingerprint is absent and must observe every earlier
// successful Insert made through the same value.
type Catalog interface {
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*store.Photo, error)
	Insert(ctx context.Context, p *store.NewPhoto) (int64, error)
}

// Options are the run settings assembled from configuration
type Options struct {
	PrefixBytes  int64 // fingerprint prefix length (0 = fingerprint.DefaultPrefixBytes)
	Concurrency  int   // files processed in parallel (<= 1 = sequential)
	ShowProgress bool
}

// Config wires the importer's collaborators
type Config struct {
	Fs       afero.Fs // source filesystem, defaults to the OS filesystem
	Scanner  *scan.Scanner
	Provider meta.Provider
	Resolver *dates.Resolver // defaults to dates.Default()
	Placer   *archive.Placer
	Catalog  Catalog
	Logger   *report.EventLogger
	Options  Options
}

// Importer runs imports. It is safe to call Run repeatedly but not
// concurrently on the same archive.
type Importer struct {
	fs       afero.Fs
	scanner  *scan.Scanner
	provider meta.Provider
	resolver *dates.Resolver
	placer   *archive.Placer
	catalog  Catalog
	logger   *report.EventLogger
	opts     Options
	locks    *keyLock
}

// New creates a new Importer
func New(cfg *Config) (*Importer, error) {
	if cfg.Provider == nil || cfg.Placer == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("importer needs a metadata provider, a placer and a catalog: %w", util.ErrInvalidConfig)
	}

	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	scanner := cfg.Scanner
	if scanner == nil {
		scanner = scan.New(&scan.Config{Fs: fsys})
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = dates.Default()
	}
	opts := cfg.Options
	if opts.PrefixBytes <= 0 {
		opts.PrefixBytes = fingerprint.DefaultPrefixBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &Importer{
		fs:       fsys,
		scanner:  scanner,
		provider: cfg.Provider,
		resolver: resolver,
		placer:   cfg.Placer,
		catalog:  cfg.Catalog,
		logger:   cfg.Logger,
		opts:     opts,
		locks:    newKeyLock(),
	}, nil
}

// Result summarises an import run
type Result struct {
	Scanned      int
	Cataloged    int
	Duplicates   int
	Failed       int
	NoDate       int
	NotStarted   int // files never dispatched because the run was cancelled
	BytesWritten int64
	Outcomes     []*Outcome // scan order
	ScanErrors   []error
	Duration     time.Duration
}

// Counts returns the aggregate counters keyed by name
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"scanned":     r.Scanned,
		"cataloged":   r.Cataloged,
		"duplicates":  r.Duplicates,
		"failed":      r.Failed,
		"no_date":     r.NoDate,
		"not_started": r.NotStarted,
		"scan_errors": len(r.ScanErrors),
	}
}

// Run imports every candidate file under root. It returns an error only if
// root cannot be scanned at all or the run is cancelled; per-file failures
// are reported in the Result.
func (im *Importer) Run(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	im.logger.LogRunStart(root, im.placer.Root())

	scanned, err := im.scanner.Scan(ctx, root)
	if err != nil {
		return nil, &StepError{Step: StepScan, Path: root, Err: err}
	}
	for _, scanErr := range scanned.Errors {
		var se *scan.Error
		if errors.As(scanErr, &se) {
			im.logger.LogScanError(se.Path, se.Err)
		}
	}

	files := scanned.Files
	util.InfoLog("Found %d candidate files under %s", len(files), root)

	outcomes := make([]*Outcome, len(files))
	for i, path := range files {
		outcomes[i] = newOutcome(path)
	}

	var bar *progressbar.ProgressBar
	if im.opts.ShowProgress && len(files) > 0 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Importing"),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	step := func(o *Outcome) {
		im.process(ctx, o)
		if bar != nil {
			bar.Add(1)
		}
	}

	if im.opts.Concurrency <= 1 {
		for _, o := range outcomes {
			if ctx.Err() != nil {
				break
			}
			step(o)
		}
	} else {
		p := pool.New().WithMaxGoroutines(im.opts.Concurrency)
		for _, o := range outcomes {
			if ctx.Err() != nil {
				break
			}
			o := o
			p.Go(func() { step(o) })
		}
		p.Wait()
	}

	if bar != nil {
		bar.Finish()
	}

	result := summarize(outcomes)
	result.ScanErrors = scanned.Errors
	result.Duration = time.Since(start)
	im.logger.LogRunEnd(result.Counts(), result.Duration)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("import interrupted: %w", err)
	}
	return result, nil
}

func summarize(outcomes []*Outcome) *Result {
	r := &Result{
		Scanned:  len(outcomes),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.Cataloged():
			r.Cataloged++
			r.BytesWritten += o.BytesWritten
			if o.NoDate {
				r.NoDate++
			}
		case o.Duplicate():
			r.Duplicates++
		case o.State == StateFailed:
			r.Failed++
		case o.State == StateDiscovered:
			r.NotStarted++
		}
	}
	return r
}

// process drives one file through the pipeline. Cancellation is honoured
// between steps up to placement; once a copy has started the file is
// placed and cataloged, or fails, but is never abandoned halfway.
func (im *Importer) process(ctx context.Context, o *Outcome) {
	started := time.Now()

	fail := func(step Step, err error) {
		o.fail(&StepError{Step: step, Path: o.Path, Err: err})
		fpHex := ""
		if !o.Fingerprint.IsZero() {
			fpHex = o.Fingerprint.String()
		}
		util.WarnLog("Failed: %s (%s): %v", o.Path, step, err)
		im.logger.LogFailed(fpHex, o.Path, string(step), err)
	}
	cancelled := func() bool {
		if err := ctx.Err(); err != nil {
			fail(StepCancelled, err)
			return true
		}
		return false
	}

	// Fingerprint
	fp, err := fingerprint.ComputePath(im.fs, o.Path, im.opts.PrefixBytes)
	if err != nil {
		fail(StepFingerprint, err)
		return
	}
	o.Fingerprint = fp
	o.advance(StateFingerprinted)

	// Lookup and insert for one fingerprint never interleave
	unlock := im.locks.Lock(fp)
	defer unlock()

	if cancelled() {
		return
	}
	existing, err := im.catalog.Lookup(ctx, fp)
	if err != nil {
		fail(StepCatalog, err)
		return
	}
	o.advance(StateLookedUp)

	if existing != nil {
		o.ID = existing.ID
		o.Dest = existing.RelPath()
		o.advance(StateSkippedDuplicate)
		o.advance(StateDone)
		util.InfoLog("Duplicate: %s (already cataloged as %s)", o.Path, o.Dest)
		im.logger.LogDuplicate(fp.String(), o.Path, o.Dest, existing.ID)
		return
	}

	if cancelled() {
		return
	}
	md, err := im.provider.Read(ctx, o.Path)
	if err != nil {
		fail(StepMetadata, err)
		return
	}
	if md == nil {
		md = &meta.CaptureMetadata{}
	}
	o.advance(StateMetadataRead)

	date, ok := im.resolver.Resolve(md.PrimaryDate, md.SecondaryDate)
	if !ok {
		date = dates.Sentinel
		o.NoDate = true
		util.WarnLog("No usable capture date for %s, filing under %s", o.Path, dates.Bucket(dates.Sentinel))
		im.logger.LogNoDate(fp.String(), o.Path)
	}
	o.Bucket = dates.Bucket(date)
	o.advance(StateDateResolved)

	if cancelled() {
		return
	}
	placement, err := im.placer.Place(im.fs, o.Path, o.Bucket)
	if err != nil {
		fail(StepPlacement, err)
		return
	}
	o.Dest = placement.Path
	o.BytesWritten = placement.BytesWritten
	o.advance(StatePlaced)
	if placement.Adopted {
		util.InfoLog("Uncataloged copy already in archive, adopting: %s", placement.Path)
	}

	// The placed file must be recorded even if the run is being cancelled
	id, err := im.catalog.Insert(context.WithoutCancel(ctx), newPhoto(fp, placement, date, md))
	if err != nil {
		util.WarnLog("Placed file is not cataloged: %s", placement.Path)
		fail(StepCatalog, err)
		return
	}
	o.ID = id
	o.advance(StateCataloged)
	o.advance(StateDone)

	util.InfoLog("Cataloged: %s -> %s/%s", o.Path, placement.Bucket, placement.Filename)
	im.logger.LogCataloged(fp.String(), o.Path, placement.Path, id, placement.BytesWritten, time.Since(started))
}

func newPhoto(fp fingerprint.Fingerprint, pl *archive.Placement, date string, md *meta.CaptureMetadata) *store.NewPhoto {
	return &store.NewPhoto{
		Fingerprint:   fp,
		Filename:      pl.Filename,
		Directory:     pl.Bucket,
		FileSizeBytes: pl.BytesWritten,
		CreateDate:    date,
		ImageHeight:   md.ImageHeight,
		ImageWidth:    md.ImageWidth,
		MIMEType:      md.MIMEType,
		ISO:           md.ISO,
		Aperture:      md.Aperture,
		ShutterSpeed:  md.ShutterSpeed,
		FocalLength:   md.FocalLength,
		Make:          md.Make,
		Model:         md.Model,
		LensInfo:      md.LensInfo,
		LensMake:      md.LensMake,
		LensModel:     md.LensModel,
	}
}
