package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/franz/photor/internal/fingerprint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(b byte) fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	for i := range f {
		f[i] = b
	}
	return f
}

func strPtr(s string) *string { return &s }

func TestStoreOpenAndMigrate(t *testing.T) {
	store := openTestStore(t)

	status, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if status.Current != 2 || status.Latest != 2 || status.Dirty || status.Pending() {
		t.Errorf("unexpected schema status: %+v", status)
	}

	indexes := []string{
		"idx_photos_fingerprint",
		"idx_photos_create_date",
		"idx_photos_directory",
	}
	for _, index := range indexes {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query index %s: %v", index, err)
		}
		if count != 1 {
			t.Errorf("expected index %s to exist", index)
		}
	}

	if err := store.CheckIntegrity(context.Background()); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(ctx, &NewPhoto{Fingerprint: fp(1), Filename: "a.jpg", Directory: "2020-06-01", CreateDate: "2020-06-01 10:00:00"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	p, err := s.Lookup(ctx, fp(1))
	if err != nil || p == nil {
		t.Fatalf("expected photo after reopen, got %v, %v", p, err)
	}
}

func TestStoreSkipMigrations(t *testing.T) {
	s, err := OpenWithOptions(filepath.Join(t.TempDir(), "catalog.db"), &OpenOptions{SkipMigrations: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	status, err := s.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if status.Current != 0 || !status.Pending() {
		t.Errorf("expected pending migrations, got %+v", status)
	}

	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// A second run is a no-op
	if err := s.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestPhotoRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	height, width, iso := int64(3000), int64(4000), int64(200)
	aperture := 1.8
	in := &NewPhoto{
		Fingerprint:   fp(0xab),
		Filename:      "IMG_0001.jpg",
		Directory:     "2020-06-01",
		FileSizeBytes: 2048,
		CreateDate:    "2020-06-01 10:00:00",
		ImageHeight:   &height,
		ImageWidth:    &width,
		MIMEType:      strPtr("image/jpeg"),
		ISO:           &iso,
		Aperture:      &aperture,
		ShutterSpeed:  strPtr("1/120"),
		Make:          strPtr("Apple"),
	}

	id, err := store.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id == 0 {
		t.Error("expected a store-assigned ID")
	}

	got, err := store.Lookup(ctx, in.Fingerprint)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected photo, got nil")
	}
	if got.ID != id || got.Fingerprint != in.Fingerprint || got.RelPath() != "2020-06-01/IMG_0001.jpg" {
		t.Errorf("unexpected photo: %+v", got)
	}
	if got.ImageWidth == nil || *got.ImageWidth != 4000 {
		t.Errorf("ImageWidth = %v", got.ImageWidth)
	}
	if got.Aperture == nil || *got.Aperture != 1.8 {
		t.Errorf("Aperture = %v", got.Aperture)
	}
	if got.Model != nil || got.LensModel != nil || got.FullHash != nil {
		t.Error("absent fields should read back as nil")
	}
	if got.InsertedAt.IsZero() {
		t.Error("expected inserted_at to be set")
	}
}

func TestListingAndStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	photos := []NewPhoto{
		{Fingerprint: fp(1), Filename: "b.jpg", Directory: "2021-01-02", FileSizeBytes: 10, CreateDate: "2021-01-02 08:00:00"},
		{Fingerprint: fp(2), Filename: "a.jpg", Directory: "2020-06-01", FileSizeBytes: 20, CreateDate: "2020-06-01 10:00:00"},
		{Fingerprint: fp(3), Filename: "c.jpg", Directory: "1970-01-01", FileSizeBytes: 30, CreateDate: "1970-01-01 00:00:00"},
		{Fingerprint: fp(4), Filename: "d.jpg", Directory: "2020-06-01", FileSizeBytes: 40, CreateDate: "2020-06-01 09:00:00"},
	}
	for i := range photos {
		if _, err := store.Insert(ctx, &photos[i]); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.ListPhotos(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, p := range list {
		order = append(order, p.Filename)
	}
	want := []string{"c.jpg", "d.jpg", "a.jpg", "b.jpg"}
	if len(order) != len(want) {
		t.Fatalf("ListPhotos returned %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("ListPhotos order = %v, want %v", order, want)
			break
		}
	}

	limited, err := store.ListPhotos(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("ListPhotos(2) returned %d photos, err %v", len(limited), err)
	}

	dirs, err := store.ListDirectories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 3 || dirs[0].Directory != "2021-01-02" || dirs[2].Directory != "1970-01-01" {
		t.Errorf("unexpected directories: %+v", dirs)
	}
	if dirs[1].Photos != 2 || dirs[1].Bytes != 60 {
		t.Errorf("unexpected counts for 2020-06-01: %+v", dirs[1])
	}

	n, err := store.CountByDirectory(ctx, "2020-06-01")
	if err != nil || n != 2 {
		t.Errorf("CountByDirectory = %d, %v", n, err)
	}

	stats, err := store.Count(ctx, "1970-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if *stats != (Stats{Photos: 4, Bytes: 100, Directories: 3, Undated: 1}) {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCatalogContract(t *testing.T) {
	engines := map[string]func(t *testing.T) catalog{
		"sqlite": func(t *testing.T) catalog { return openTestStore(t) },
		"memory": func(t *testing.T) catalog { return NewMemory() },
	}

	for name, open := range engines {
		t.Run(name, func(t *testing.T) {
			c := open(t)
			ctx := context.Background()

			got, err := c.Lookup(ctx, fp(7))
			if err != nil || got != nil {
				t.Fatalf("Lookup on empty catalog = %v, %v; want nil, nil", got, err)
			}

			p := &NewPhoto{Fingerprint: fp(7), Filename: "a.jpg", Directory: "2020-06-01", CreateDate: "2020-06-01 10:00:00"}
			id, err := c.Insert(ctx, p)
			if err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			// Lookup reflects the latest insert
			got, err = c.Lookup(ctx, fp(7))
			if err != nil || got == nil || got.ID != id {
				t.Fatalf("Lookup after insert = %v, %v", got, err)
			}

			dup := &NewPhoto{Fingerprint: fp(7), Filename: "b.jpg", Directory: "2021-01-01", CreateDate: "2021-01-01 00:00:00"}
			if _, err := c.Insert(ctx, dup); !errors.Is(err, ErrDuplicateFingerprint) {
				t.Errorf("duplicate Insert error = %v, want ErrDuplicateFingerprint", err)
			}

			got, _ = c.Lookup(ctx, fp(7))
			if got.Filename != "a.jpg" {
				t.Errorf("duplicate insert changed the record: %+v", got)
			}
		})
	}
}

type catalog interface {
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Photo, error)
	Insert(ctx context.Context, p *NewPhoto) (int64, error)
}
