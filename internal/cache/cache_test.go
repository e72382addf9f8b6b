package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/ngff-gallery/server/internal/data/ngff"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		ThumbnailCacheSizeMB: 8,
		ThumbnailTTL:         time.Minute,
		DescriptorCacheSize:  4,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestThumbnailKey(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		a := ThumbnailKey("https://example.org/a.zarr", 256)
		b := ThumbnailKey("https://example.org/a.zarr", 256)
		if a != b {
			t.Fatalf("expected stable key, got %q vs %q", a, b)
		}
	})

	t.Run("sizeSensitive", func(t *testing.T) {
		a := ThumbnailKey("https://example.org/a.zarr", 256)
		b := ThumbnailKey("https://example.org/a.zarr", 128)
		if a == b {
			t.Fatalf("expected size to vary the key, got %q twice", a)
		}
	})

	t.Run("urlSensitive", func(t *testing.T) {
		a := ThumbnailKey("https://example.org/a.zarr", 256)
		b := ThumbnailKey("https://example.org/b.zarr", 256)
		if a == b {
			t.Fatalf("expected url to vary the key, got %q twice", a)
		}
	})

	t.Run("bounded", func(t *testing.T) {
		long := "https://example.org/" + strings.Repeat("x", 4096)
		if got := ThumbnailKey(long, 256); len(got) > 64 {
			t.Fatalf("expected a short key for a long url, got %d bytes", len(got))
		}
	})
}

func TestThumbnailRoundTrip(t *testing.T) {
	m := newTestManager(t)

	key := ThumbnailKey("https://example.org/a.zarr", 256)
	if _, ok := m.GetThumbnail(key); ok {
		t.Fatal("expected a miss before Set")
	}
	if err := m.SetThumbnail(key, []byte("png-bytes")); err != nil {
		t.Fatalf("SetThumbnail error: %v", err)
	}
	got, ok := m.GetThumbnail(key)
	if !ok || string(got) != "png-bytes" {
		t.Fatalf("unexpected cached value: %q ok=%v", got, ok)
	}
}

func TestResolutionRoundTrip(t *testing.T) {
	m := newTestManager(t)

	root := "https://example.org/a.zarr"
	if _, ok := m.GetResolution(root); ok {
		t.Fatal("expected a miss before Set")
	}
	res := &ngff.Resolution{Root: root + "/A/1/0"}
	m.SetResolution(root, res)
	got, ok := m.GetResolution(root)
	if !ok || got.Root != res.Root {
		t.Fatalf("unexpected cached resolution: %+v ok=%v", got, ok)
	}
}

func TestDescriptorCacheEvicts(t *testing.T) {
	m := newTestManager(t)

	// Capacity is 4: the oldest entry falls out after a fifth insert.
	for _, root := range []string{"a", "b", "c", "d", "e"} {
		m.SetResolution(root, &ngff.Resolution{Root: root})
	}
	if _, ok := m.GetResolution("a"); ok {
		t.Fatal("expected the oldest entry to be evicted")
	}
	if _, ok := m.GetResolution("e"); !ok {
		t.Fatal("expected the newest entry to survive")
	}
}
