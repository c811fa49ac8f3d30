package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/franz/photor/internal/archive"
	"github.com/franz/photor/internal/dates"
	"github.com/franz/photor/internal/fingerprint"
	"github.com/franz/photor/internal/meta"
	"github.com/franz/photor/internal/store"
)

// fakeProvider returns canned metadata keyed by base name
type fakeProvider struct {
	mu     sync.Mutex
	md     map[string]*meta.CaptureMetadata
	fail   map[string]error
	calls  []string
	onRead func(path string)
}

func (p *fakeProvider) Read(ctx context.Context, path string) (*meta.CaptureMetadata, error) {
	p.mu.Lock()
	p.calls = append(p.calls, path)
	onRead := p.onRead
	p.mu.Unlock()

	if onRead != nil {
		onRead(path)
	}

	name := filepath.Base(path)
	if err, ok := p.fail[name]; ok {
		return nil, err
	}
	if md, ok := p.md[name]; ok {
		return md, nil
	}
	return &meta.CaptureMetadata{PrimaryDate: strPtr("2020:06:01 10:00:00")}, nil
}

func strPtr(s string) *string { return &s }

type env struct {
	src      afero.Fs
	dst      afero.Fs
	catalog  Catalog
	provider *fakeProvider
}

func newEnv(t *testing.T, files map[string]string) *env {
	t.Helper()
	src := afero.NewMemMapFs()
	for path, content := range files {
		if err := src.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(src, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return &env{
		src:      src,
		dst:      afero.NewMemMapFs(),
		catalog:  store.NewMemory(),
		provider: &fakeProvider{},
	}
}

func (e *env) importer(t *testing.T, opts Options) *Importer {
	t.Helper()
	im, err := New(&Config{
		Fs:       e.src,
		Provider: e.provider,
		Placer:   archive.New(&archive.Config{Fs: e.dst, Root: "/archive"}),
		Catalog:  e.catalog,
		Options:  opts,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return im
}

func bucketContents(t *testing.T, fsys afero.Fs, bucket string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fsys, filepath.Join("/archive", bucket))
	if err != nil {
		t.Fatalf("failed to read bucket %s: %v", bucket, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("expected New to reject a config without provider, placer and catalog")
	}
}

func TestIdenticalFilesEndToEnd(t *testing.T) {
	e := newEnv(t, map[string]string{
		"/staging/a.jpg": "same-bytes",
		"/staging/b.jpg": "same-bytes",
	})
	db, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	e.catalog = db

	result, err := e.importer(t, Options{}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Scanned != 2 || result.Cataloged != 1 || result.Duplicates != 1 || result.Failed != 0 {
		t.Errorf("unexpected counts: %+v", result.Counts())
	}

	stats, err := db.Count(context.Background(), "1970-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Photos != 1 {
		t.Errorf("catalog has %d records, want 1", stats.Photos)
	}

	if got := bucketContents(t, e.dst, "2020-06-01"); !slices.Equal(got, []string{"a.jpg"}) {
		t.Errorf("bucket 2020-06-01 contains %v, want [a.jpg]", got)
	}

	photos, err := db.ListPhotos(context.Background(), 10)
	if err != nil || len(photos) != 1 {
		t.Fatalf("ListPhotos = %v, %v", photos, err)
	}
	p := photos[0]
	if p.Filename != "a.jpg" || p.Directory != "2020-06-01" || p.CreateDate != "2020-06-01 10:00:00" {
		t.Errorf("unexpected record: %+v", p)
	}
	if p.FileSizeBytes != int64(len("same-bytes")) {
		t.Errorf("FileSizeBytes = %d", p.FileSizeBytes)
	}

	// The provider is never consulted for a duplicate
	if len(e.provider.calls) != 1 {
		t.Errorf("provider called %d times, want 1", len(e.provider.calls))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e := newEnv(t, map[string]string{
		"/staging/a.jpg":     "a",
		"/staging/b.jpg":     "b",
		"/staging/sub/c.mp4": "c",
		"/staging/notes.txt": "ignored",
	})
	im := e.importer(t, Options{})

	first, err := im.Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	second, err := im.Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}

	if first.Cataloged != 3 {
		t.Errorf("first run cataloged %d, want 3", first.Cataloged)
	}
	if second.Cataloged != 0 || second.Duplicates != 3 || second.Failed != 0 {
		t.Errorf("second run counts: %+v", second.Counts())
	}
	if n := e.catalog.(*store.Memory).Len(); n != 3 {
		t.Errorf("catalog has %d records after two runs, want 3", n)
	}
}

func TestFailureIsolation(t *testing.T) {
	files := map[string]string{}
	for i := 1; i <= 5; i++ {
		files[fmt.Sprintf("/staging/%d.jpg", i)] = fmt.Sprintf("content-%d", i)
	}
	e := newEnv(t, files)
	e.provider.fail = map[string]error{"3.jpg": errors.New("exiftool: unreadable file")}

	result, err := e.importer(t, Options{}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Cataloged != 4 || result.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", result.Counts())
	}

	for _, o := range result.Outcomes {
		if filepath.Base(o.Path) == "3.jpg" {
			if o.State != StateFailed {
				t.Errorf("3.jpg state = %s, want failed", o.State)
			}
			if step, _ := FailedStep(o.Cause); step != StepMetadata {
				t.Errorf("3.jpg failed in step %q, want metadata", step)
			}
			if o.Visited(StatePlaced) {
				t.Error("3.jpg must not be placed")
			}
			continue
		}
		if !o.Cataloged() {
			t.Errorf("%s was not cataloged: %v", o.Path, o.Cause)
		}
	}

	got := bucketContents(t, e.dst, "2020-06-01")
	if want := []string{"1.jpg", "2.jpg", "4.jpg", "5.jpg"}; !slices.Equal(got, want) {
		t.Errorf("bucket contains %v, want %v", got, want)
	}
}

func TestDateResolution(t *testing.T) {
	e := newEnv(t, map[string]string{
		"/staging/a.jpg": "a",
		"/staging/b.jpg": "b",
		"/staging/c.png": "c",
	})
	e.provider.md = map[string]*meta.CaptureMetadata{
		// Invalid primary falls back to secondary
		"b.jpg": {PrimaryDate: strPtr("0000:00:00 00:00:00"), SecondaryDate: strPtr("2019-12-31 23:59:59")},
		// No usable date at all
		"c.png": {PrimaryDate: strPtr("garbage")},
	}

	result, err := e.importer(t, Options{}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Cataloged != 3 || result.NoDate != 1 {
		t.Errorf("unexpected counts: %+v", result.Counts())
	}

	buckets := map[string]string{}
	for _, o := range result.Outcomes {
		buckets[filepath.Base(o.Path)] = o.Bucket
	}
	want := map[string]string{"a.jpg": "2020-06-01", "b.jpg": "2019-12-31", "c.png": "1970-01-01"}
	for name, bucket := range want {
		if buckets[name] != bucket {
			t.Errorf("%s bucket = %q, want %q", name, buckets[name], bucket)
		}
	}

	fp, _ := fingerprint.ComputePath(e.src, "/staging/c.png", fingerprint.DefaultPrefixBytes)
	p, _ := e.catalog.Lookup(context.Background(), fp)
	if p == nil || p.CreateDate != "1970-01-01 00:00:00" {
		t.Errorf("undated record = %+v", p)
	}
}

func TestNameCollisionFailsPlacement(t *testing.T) {
	e := newEnv(t, map[string]string{
		"/staging/x/IMG_0001.jpg": "first",
		"/staging/y/IMG_0001.jpg": "second",
	})

	result, err := e.importer(t, Options{}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Cataloged != 1 || result.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", result.Counts())
	}

	o := result.Outcomes[1]
	if step, _ := FailedStep(o.Cause); step != StepPlacement || !errors.Is(o.Cause, archive.ErrDestinationExists) {
		t.Errorf("second file cause = %v", o.Cause)
	}
	if o.Visited(StateCataloged) {
		t.Error("a file that was not placed must not be cataloged")
	}
	if n := e.catalog.(*store.Memory).Len(); n != 1 {
		t.Errorf("catalog has %d records, want 1", n)
	}
}

// failingCatalog wraps a catalog and fails every insert
type failingCatalog struct {
	Catalog
}

func (failingCatalog) Insert(context.Context, *store.NewPhoto) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestCatalogInsertFailure(t *testing.T) {
	e := newEnv(t, map[string]string{"/staging/a.jpg": "a", "/staging/b.jpg": "b"})
	e.catalog = failingCatalog{Catalog: store.NewMemory()}

	result, err := e.importer(t, Options{}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatalf("catalog insert failures must not abort the run: %v", err)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	for _, o := range result.Outcomes {
		if step, _ := FailedStep(o.Cause); step != StepCatalog {
			t.Errorf("%s failed in step %q, want catalog", o.Path, step)
		}
	}
}

// flakyCatalog fails the first insert and delegates afterwards
type flakyCatalog struct {
	Catalog
	mu     sync.Mutex
	failed bool
}

func (c *flakyCatalog) Insert(ctx context.Context, p *store.NewPhoto) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.failed {
		c.failed = true
		return 0, errors.New("database is locked")
	}
	return c.Catalog.Insert(ctx, p)
}

func TestRerunAdoptsPlacedButUncatalogedFile(t *testing.T) {
	e := newEnv(t, map[string]string{"/staging/a.jpg": "photo-a"})
	mem := store.NewMemory()
	e.catalog = &flakyCatalog{Catalog: mem}
	im := e.importer(t, Options{})

	first, err := im.Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if first.Failed != 1 {
		t.Fatalf("first run counts: %+v", first.Counts())
	}
	if step, _ := FailedStep(first.Outcomes[0].Cause); step != StepCatalog {
		t.Fatalf("first run failed in step %q, want catalog", step)
	}
	placed := "/archive/" + dates.Bucket(dates.Sentinel) + "/a.jpg"
	if ok, _ := afero.Exists(e.dst, placed); !ok {
		t.Fatalf("expected %s to be placed by the first run", placed)
	}

	second, err := im.Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if second.Cataloged != 1 || second.Failed != 0 {
		t.Fatalf("second run counts: %+v (cause %v)", second.Counts(), second.Outcomes[0].Cause)
	}
	if second.BytesWritten != 0 {
		t.Errorf("adopting must not copy again, wrote %d bytes", second.BytesWritten)
	}
	if mem.Len() != 1 {
		t.Errorf("catalog has %d records, want 1", mem.Len())
	}

	third, err := im.Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if third.Duplicates != 1 || third.Failed != 0 {
		t.Errorf("third run counts: %+v", third.Counts())
	}
}

// openFailFs refuses to open one path
type openFailFs struct {
	afero.Fs
	path string
}

func (f *openFailFs) Open(name string) (afero.File, error) {
	if name == f.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}

func TestFingerprintFailure(t *testing.T) {
	e := newEnv(t, map[string]string{"/staging/a.jpg": "a", "/staging/b.jpg": "b"})
	e.src = &openFailFs{Fs: e.src, path: "/staging/a.jpg"}

	result, err := e.importer(t, Options{}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 || result.Cataloged != 1 {
		t.Fatalf("unexpected counts: %+v", result.Counts())
	}
	if step, _ := FailedStep(result.Outcomes[0].Cause); step != StepFingerprint {
		t.Errorf("a.jpg failed in step %q, want fingerprint", step)
	}
	if !errors.Is(result.Outcomes[0].Cause, os.ErrPermission) {
		t.Errorf("cause should wrap the open error: %v", result.Outcomes[0].Cause)
	}
}

func TestConcurrentRunKeepsOneRecordPerFingerprint(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 24; i++ {
		// 8 distinct contents, each appearing three times
		files[fmt.Sprintf("/staging/%02d.jpg", i)] = fmt.Sprintf("content-%d", i%8)
	}
	e := newEnv(t, files)

	result, err := e.importer(t, Options{Concurrency: 6}).Run(context.Background(), "/staging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Cataloged != 8 || result.Duplicates != 16 || result.Failed != 0 {
		t.Errorf("unexpected counts: %+v", result.Counts())
	}
	if n := e.catalog.(*store.Memory).Len(); n != 8 {
		t.Errorf("catalog has %d records, want 8", n)
	}

	for i, o := range result.Outcomes {
		if want := fmt.Sprintf("/staging/%02d.jpg", i); o.Path != want {
			t.Errorf("outcome %d is %s, want scan order %s", i, o.Path, want)
		}
	}
}

func TestCancellationStopsDispatch(t *testing.T) {
	e := newEnv(t, map[string]string{
		"/staging/a.jpg": "a",
		"/staging/b.jpg": "b",
		"/staging/c.jpg": "c",
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.provider.onRead = func(string) { cancel() }

	result, err := e.importer(t, Options{}).Run(ctx, "/staging")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatal("expected a partial result")
	}

	first := result.Outcomes[0]
	if !first.Visited(StateMetadataRead) || first.Visited(StatePlaced) {
		t.Errorf("in-flight file should stop after its current step, trail %v", first.Trail)
	}
	if step, _ := FailedStep(first.Cause); step != StepCancelled {
		t.Errorf("first file cause = %v", first.Cause)
	}
	if result.NotStarted != 2 {
		t.Errorf("NotStarted = %d, want 2", result.NotStarted)
	}
	if ok, _ := afero.DirExists(e.dst, "/archive/2020-06-01"); ok {
		t.Error("nothing should have been placed")
	}
}

func TestRunMissingRoot(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.importer(t, Options{}).Run(context.Background(), "/nowhere")
	if step, ok := FailedStep(err); !ok || step != StepScan {
		t.Errorf("Run error = %v, want a scan StepError", err)
	}
}
