package ingest

import (
	"context"
	"testing"

	"github.com/ngff-gallery/server/internal/config"
	"github.com/ngff-gallery/server/internal/data/zarr"
	"github.com/ngff-gallery/server/internal/table"
)

func loadManifest(t *testing.T, store *zarr.MemoryStore, gallery *config.GalleryConfig, url string) *table.Store {
	t.Helper()
	tbl := table.NewStore()
	loader := NewLoader(store, tbl, gallery)
	if err := loader.Load(context.Background(), url); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return tbl
}

func TestLoadDuplicateURLKeepsFirstRow(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://m.test/root.csv", []byte(
		"url,name,written\n"+
			"http://m.test/a.zarr,first,100\n"+
			"http://m.test/a.zarr,second,999\n"))

	tbl := loadManifest(t, store, nil, "http://m.test/root.csv")

	rows := tbl.GetRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after dedup, got %d", len(rows))
	}
	if rows[0]["written"] != "100" {
		t.Fatalf("expected first-seen written value, got %s", rows[0]["written"])
	}
}

func TestLoadHeaderlessManifest(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://m.test/root.csv", []byte(
		"http://m.test/a.zarr\n"+
			"http://m.test/b.zarr\n"))

	tbl := loadManifest(t, store, nil, "http://m.test/root.csv")

	rows := tbl.GetRows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].URL() != "http://m.test/a.zarr" {
		t.Fatalf("first row of a headerless manifest must be data, got %s", rows[0].URL())
	}
}

func TestLoadNestedManifestInheritsParentFields(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://m.test/root.csv", []byte(
		"url,license,name\n"+
			"child.csv,CC-BY-4.0,parent-name\n"))
	store.Put("http://m.test/child.csv", []byte(
		"url,name\n"+
			"http://m.test/a.zarr,leaf-name\n"+
			"http://m.test/b.zarr,\n"))

	tbl := loadManifest(t, store, nil, "http://m.test/root.csv")

	rows := tbl.GetRows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 leaf rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.URL() == "http://m.test/child.csv" {
			t.Fatalf("manifest row must never appear as a leaf")
		}
		if row["license"] != "CC-BY-4.0" {
			t.Fatalf("expected inherited license, got %q", row["license"])
		}
		if row["manifest"] != "http://m.test/child.csv" {
			t.Fatalf("expected provenance field, got %q", row["manifest"])
		}
	}
	if rows[0]["name"] != "leaf-name" {
		t.Fatalf("own column must override inherited, got %q", rows[0]["name"])
	}
	if rows[1]["name"] != "parent-name" {
		t.Fatalf("missing own value must inherit, got %q", rows[1]["name"])
	}
}

func TestLoadAppliesViewConfig(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://m.test/root.csv", []byte(
		"url,name,collection\n"+
			"http://m.test/a.zarr,alpha,idr\n"+
			"http://m.test/b.zarr,beta,\n"+
			"http://m.test/c.zarr,gamma,\n"))

	gallery := &config.GalleryConfig{
		Whitelist: []string{"http://m.test/a.zarr", "http://m.test/b.zarr"},
		Overrides: map[string]map[string]string{
			"http://m.test/a.zarr": {"name": "patched"},
		},
		Collections: map[string]string{"idr": "https://idr.example.org"},
	}
	tbl := loadManifest(t, store, gallery, "http://m.test/root.csv")

	rows := tbl.GetRows()
	if len(rows) != 2 {
		t.Fatalf("expected whitelist to drop one row, got %d rows", len(rows))
	}
	if rows[0]["name"] != "patched" {
		t.Fatalf("expected override patch, got %q", rows[0]["name"])
	}
	if rows[0]["collection_url"] != "https://idr.example.org" {
		t.Fatalf("expected resolved collection url, got %q", rows[0]["collection_url"])
	}
	if rows[1]["collection"] != "none" {
		t.Fatalf("expected collection sentinel, got %q", rows[1]["collection"])
	}
}

func TestLoadSourceSummary(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://m.test/root.csv", []byte(
		"url,written,wells,images\n"+
			"http://m.test/plate.zarr,1000,96,384\n"+
			"http://m.test/img.zarr,500,,\n"+
			"child.csv,,,\n"))
	store.Put("http://m.test/child.csv", []byte("url\nhttp://m.test/c.zarr\n"))

	tbl := loadManifest(t, store, nil, "http://m.test/root.csv")

	sums := tbl.Summaries()
	if len(sums) != 2 {
		t.Fatalf("expected 2 source summaries, got %d", len(sums))
	}
	root := sums[0]
	if root.SourceURL != "http://m.test/root.csv" {
		t.Fatalf("unexpected source order: %v", sums)
	}
	if root.ChildManifests != 1 {
		t.Fatalf("expected 1 child manifest, got %d", root.ChildManifests)
	}
	if root.PlateCount != 1 {
		t.Fatalf("expected 1 plate, got %d", root.PlateCount)
	}
	if root.ByteTotal != 1500 {
		t.Fatalf("expected byte total 1500, got %d", root.ByteTotal)
	}
	// With a plate present, images sum per-row counts defaulting to 1.
	if root.ImageCount != 385 {
		t.Fatalf("expected image count 385, got %d", root.ImageCount)
	}
}

func TestLoadUnreachableManifestLeavesTableEmpty(t *testing.T) {
	store := zarr.NewMemoryStore()
	tbl := loadManifest(t, store, nil, "http://m.test/missing.csv")
	if rows := tbl.GetRows(); len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(rows))
	}
}
