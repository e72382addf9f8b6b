package ngff

import (
	"context"
	"testing"

	"github.com/ngff-gallery/server/internal/data/zarr"
)

const imageDoc = `{
	"attributes": {"ome": {
		"version": "0.5",
		"multiscales": [{
			"axes": [{"name": "c"}, {"name": "y"}, {"name": "x"}],
			"datasets": [{"path": "0"}, {"path": "1"}]
		}],
		"omero": {"channels": [
			{"active": true, "color": "FF0000", "label": "nuclei"},
			{"active": false, "color": "00FF00", "label": "membrane"}
		]}
	}}
}`

func TestResolveImage(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://x.test/img.zarr/zarr.json", []byte(imageDoc))

	res, err := Resolve(context.Background(), store, "http://x.test/img.zarr")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !res.Resolved() {
		t.Fatalf("expected resolved image")
	}
	if res.Root != "http://x.test/img.zarr" {
		t.Fatalf("unexpected root: %s", res.Root)
	}
	if len(res.Image.Datasets) != 2 || res.Image.Datasets[1].Path != "1" {
		t.Fatalf("unexpected datasets: %#v", res.Image.Datasets)
	}
	if res.Omero == nil || len(res.Omero.Channels) != 2 {
		t.Fatalf("expected omero channel hints, got %#v", res.Omero)
	}
	if res.Plate != nil {
		t.Fatalf("expected no plate metadata for a plain image")
	}
}

func TestResolvePlateUsesFirstWellFirstField(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://x.test/plate.zarr/zarr.json", []byte(`{
		"attributes": {"ome": {
			"plate": {"name": "screen-1", "field_count": 2, "wells": [
				{"path": "A/1"}, {"path": "B/2"}
			]}
		}}
	}`))
	store.Put("http://x.test/plate.zarr/A/1/0/zarr.json", []byte(imageDoc))

	res, err := Resolve(context.Background(), store, "http://x.test/plate.zarr")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !res.Resolved() {
		t.Fatalf("expected resolved image through plate")
	}
	if res.Root != "http://x.test/plate.zarr/A/1/0" {
		t.Fatalf("unexpected effective root: %s", res.Root)
	}
	if res.Plate == nil || res.Plate.Name != "screen-1" {
		t.Fatalf("expected plate metadata, got %#v", res.Plate)
	}
}

func TestResolveBioformats2RawWrapper(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://x.test/conv.zarr/zarr.json", []byte(`{
		"attributes": {"ome": {"bioformats2raw.layout": 3}}
	}`))
	store.Put("http://x.test/conv.zarr/0/zarr.json", []byte(imageDoc))

	res, err := Resolve(context.Background(), store, "http://x.test/conv.zarr")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !res.Resolved() {
		t.Fatalf("expected resolved image through wrapper")
	}
	if res.Root != "http://x.test/conv.zarr/0" {
		t.Fatalf("unexpected effective root: %s", res.Root)
	}
}

func TestResolveUnresolved(t *testing.T) {
	t.Run("missingDescriptor", func(t *testing.T) {
		store := zarr.NewMemoryStore()
		res, err := Resolve(context.Background(), store, "http://x.test/absent.zarr")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if res.Resolved() {
			t.Fatalf("expected unresolved sentinel")
		}
		if res.Root != "http://x.test/absent.zarr" {
			t.Fatalf("root must stay unchanged, got %s", res.Root)
		}
	})

	t.Run("noVendorBlock", func(t *testing.T) {
		store := zarr.NewMemoryStore()
		store.Put("http://x.test/group.zarr/zarr.json", []byte(`{"attributes": {}}`))
		res, err := Resolve(context.Background(), store, "http://x.test/group.zarr")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if res.Resolved() {
			t.Fatalf("expected unresolved sentinel")
		}
	})

	t.Run("malformedJSON", func(t *testing.T) {
		store := zarr.NewMemoryStore()
		store.Put("http://x.test/bad.zarr/zarr.json", []byte(`{not json`))
		res, err := Resolve(context.Background(), store, "http://x.test/bad.zarr")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if res.Resolved() {
			t.Fatalf("expected unresolved sentinel")
		}
	})
}

func TestResolveCancellation(t *testing.T) {
	store := zarr.NewMemoryStore()
	store.Put("http://x.test/img.zarr/zarr.json", []byte(imageDoc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Resolve(ctx, store, "http://x.test/img.zarr"); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
