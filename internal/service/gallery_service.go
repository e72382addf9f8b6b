// Package service provides business logic for the gallery server.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/ngff-gallery/server/internal/cache"
	"github.com/ngff-gallery/server/internal/data/ngff"
	"github.com/ngff-gallery/server/internal/data/zarr"
	"github.com/ngff-gallery/server/internal/filter"
	"github.com/ngff-gallery/server/internal/ingest"
	"github.com/ngff-gallery/server/internal/ontology"
	"github.com/ngff-gallery/server/internal/render"
	"github.com/ngff-gallery/server/internal/table"
	"github.com/ngff-gallery/server/internal/thumbnail"
)

// GalleryServiceConfig contains gallery service configuration.
type GalleryServiceConfig struct {
	Store       zarr.Store
	Table       *table.Store
	Loader      *ingest.Loader
	Cache       *cache.Manager
	Renderer    *render.ThumbnailRenderer
	Generator   *thumbnail.Generator
	Organisms   *ontology.Store
	Modalities  *ontology.Store
	MaxSize     int
	PixelBudget int
}

// GalleryService serves the dataset table, its derived filter options, and
// per-image thumbnails.
type GalleryService struct {
	store       zarr.Store
	table       *table.Store
	loader      *ingest.Loader
	cache       *cache.Manager
	renderer    *render.ThumbnailRenderer
	generator   *thumbnail.Generator
	organisms   *ontology.Store
	modalities  *ontology.Store
	maxSize     int
	pixelBudget int

	// Per-url render guard so concurrent requests for the same thumbnail
	// render it once.
	renderMu sync.Mutex
	inflight map[string]*renderCall
}

type renderCall struct {
	done chan struct{}
	data []byte
	err  error
}

// NewGalleryService creates a new gallery service.
func NewGalleryService(cfg GalleryServiceConfig) *GalleryService {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 256
	}
	return &GalleryService{
		store:       cfg.Store,
		table:       cfg.Table,
		loader:      cfg.Loader,
		cache:       cfg.Cache,
		renderer:    cfg.Renderer,
		generator:   cfg.Generator,
		organisms:   cfg.Organisms,
		modalities:  cfg.Modalities,
		maxSize:     maxSize,
		pixelBudget: cfg.PixelBudget,
		inflight:    make(map[string]*renderCall),
	}
}

// LoadManifest ingests a manifest tree into the table.
func (s *GalleryService) LoadManifest(ctx context.Context, url string) error {
	return s.loader.Load(ctx, url)
}

// Rows returns the rows visible under the given filters, in the table's
// current order.
func (s *GalleryService) Rows(f filter.Set) []table.Row {
	return filter.Visible(s.table.GetRows(), f)
}

// Sort reorders the table by a field.
func (s *GalleryService) Sort(field string, ascending bool) {
	s.table.SortTable(field, ascending)
}

// Options returns the selectable values for a filter dimension under the
// cross-filter rule: a dimension's own predicate does not narrow its options.
func (s *GalleryService) Options(f filter.Set, d filter.Dimension) []filter.Option {
	return filter.LabeledOptions(s.table.GetRows(), f, d, s.labelsFor(d))
}

func (s *GalleryService) labelsFor(d filter.Dimension) map[string]string {
	switch d {
	case filter.Organism:
		if s.organisms != nil {
			return s.organisms.Names()
		}
	case filter.Modality:
		if s.modalities != nil {
			return s.modalities.Names()
		}
	}
	return nil
}

// Select marks a row as the current selection; a nil row clears it.
func (s *GalleryService) Select(url string) bool {
	if url == "" {
		s.table.SetSelectedRow(nil)
		return true
	}
	for _, row := range s.table.GetRows() {
		if row.URL() == url {
			s.table.SetSelectedRow(row)
			return true
		}
	}
	return false
}

// Selected returns the current selection, or nil.
func (s *GalleryService) Selected() table.Row {
	return s.table.SelectedRow()
}

// SummaryView is a source summary with a display-ready byte total.
type SummaryView struct {
	SourceURL      string `json:"source_url"`
	ChildManifests int    `json:"child_manifests"`
	ImageCount     int    `json:"image_count"`
	PlateCount     int    `json:"plate_count"`
	ByteTotal      int64  `json:"byte_total"`
	BytesDisplay   string `json:"bytes_display"`
}

// Summaries returns per-source load summaries in first-load order.
func (s *GalleryService) Summaries() []SummaryView {
	sums := s.table.Summaries()
	out := make([]SummaryView, len(sums))
	for i, sum := range sums {
		out[i] = SummaryView{
			SourceURL:      sum.SourceURL,
			ChildManifests: sum.ChildManifests,
			ImageCount:     sum.ImageCount,
			PlateCount:     sum.PlateCount,
			ByteTotal:      sum.ByteTotal,
			BytesDisplay:   humanize.Bytes(uint64(sum.ByteTotal)),
		}
	}
	return out
}

// Thumbnail returns an encoded PNG thumbnail for a dataset url. A nil slice
// with a nil error means the dataset yields no thumbnail (unresolvable root
// or guard-rejected plane); callers respond with 204.
func (s *GalleryService) Thumbnail(ctx context.Context, url string) ([]byte, error) {
	key := cache.ThumbnailKey(url, s.maxSize)
	if data, ok := s.cache.GetThumbnail(key); ok {
		return data, nil
	}

	s.renderMu.Lock()
	if call, ok := s.inflight[url]; ok {
		s.renderMu.Unlock()
		select {
		case <-call.done:
			return call.data, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &renderCall{done: make(chan struct{})}
	s.inflight[url] = call
	s.renderMu.Unlock()

	call.data, call.err = s.renderThumbnail(ctx, url, key)
	close(call.done)

	s.renderMu.Lock()
	delete(s.inflight, url)
	s.renderMu.Unlock()

	return call.data, call.err
}

func (s *GalleryService) renderThumbnail(ctx context.Context, url, key string) ([]byte, error) {
	res, err := s.resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	if !res.Resolved() {
		return nil, nil
	}

	raster, err := s.generator.Generate(ctx, thumbnail.Request{
		Root:        res.Root,
		Image:       res.Image,
		Omero:       res.Omero,
		Level:       -1,
		PixelBudget: s.pixelBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", url, err)
	}
	if raster == nil {
		if res.Plate == nil {
			return nil, nil
		}
		// Plates whose representative field cannot be rendered still get
		// a recognizable placeholder.
		data, err := s.renderer.PlatePlaceholder()
		if err != nil {
			return nil, err
		}
		s.cacheThumbnail(key, data)
		return data, nil
	}

	data, err := s.renderer.Encode(raster)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", url, err)
	}
	s.cacheThumbnail(key, data)
	return data, nil
}

func (s *GalleryService) cacheThumbnail(key string, data []byte) {
	if err := s.cache.SetThumbnail(key, data); err != nil {
		log.Printf("thumbnail cache write failed: %v", err)
	}
}

// resolve finds the effective image root for a dataset url, caching
// successful resolutions. Unresolved outcomes are not cached so transient
// fetch failures retry on the next request.
func (s *GalleryService) resolve(ctx context.Context, url string) (*ngff.Resolution, error) {
	if res, ok := s.cache.GetResolution(url); ok {
		return res, nil
	}
	res, err := ngff.Resolve(ctx, s.store, url)
	if err != nil {
		return nil, err
	}
	if res.Resolved() {
		s.cache.SetResolution(url, res)
	}
	return res, nil
}

// PlateDetail is plate metadata surfaced in a dataset detail.
type PlateDetail struct {
	Name       string `json:"name"`
	Wells      int    `json:"wells"`
	FieldCount int    `json:"field_count"`
}

// Detail describes a resolved dataset for the detail popup.
type Detail struct {
	URL          string       `json:"url"`
	Resolved     bool         `json:"resolved"`
	Root         string       `json:"root,omitempty"`
	Axes         []string     `json:"axes,omitempty"`
	Levels       []string     `json:"levels,omitempty"`
	Channels     []string     `json:"channels,omitempty"`
	Plate        *PlateDetail `json:"plate,omitempty"`
	WrittenBytes int64        `json:"written_bytes,omitempty"`
	BytesDisplay string       `json:"bytes_display,omitempty"`
}

// DatasetDetail resolves a dataset root and reports its structure, including
// the summed uncompressed size across resolution levels. An unresolvable root
// yields Resolved=false, not an error.
func (s *GalleryService) DatasetDetail(ctx context.Context, url string) (*Detail, error) {
	res, err := s.resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	detail := &Detail{URL: url, Resolved: res.Resolved()}
	if !detail.Resolved {
		return detail, nil
	}

	detail.Root = res.Root
	for _, ax := range res.Image.Axes {
		detail.Axes = append(detail.Axes, ax.Name)
	}
	for _, ds := range res.Image.Datasets {
		detail.Levels = append(detail.Levels, ds.Path)
	}
	if res.Omero != nil {
		for _, ch := range res.Omero.Channels {
			detail.Channels = append(detail.Channels, ch.Label)
		}
	}
	if res.Plate != nil {
		detail.Plate = &PlateDetail{
			Name:       res.Plate.Name,
			Wells:      len(res.Plate.Wells),
			FieldCount: res.Plate.FieldCount,
		}
	}

	written, err := ngff.EstimateWritten(ctx, s.store, res)
	if err != nil {
		// Structure is still useful without size accounting.
		log.Printf("detail: size estimate failed for %s: %v", url, err)
		return detail, nil
	}
	detail.WrittenBytes = written
	detail.BytesDisplay = humanize.Bytes(uint64(written))
	return detail, nil
}

// Subscribe forwards table change notifications; the handle deregisters.
func (s *GalleryService) Subscribe(fn func([]table.Row)) (unsubscribe func()) {
	return s.table.Subscribe(fn)
}

// Reset drops all loaded rows and summaries.
func (s *GalleryService) Reset() {
	s.table.Reset()
}
