// Package ingest loads CSV manifests, recursively follows nested manifest
// references, and feeds deduplicated rows into the table store.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"log"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ngff-gallery/server/internal/config"
	"github.com/ngff-gallery/server/internal/data/zarr"
	"github.com/ngff-gallery/server/internal/table"
)

// manifestExt marks rows that reference a nested manifest rather than a
// dataset.
const manifestExt = ".csv"

// Loader ingests manifests into a table store.
type Loader struct {
	store   zarr.Store
	table   *table.Store
	gallery *config.GalleryConfig
}

// NewLoader creates a manifest loader. gallery may be nil for an
// unrestricted view.
func NewLoader(store zarr.Store, tbl *table.Store, gallery *config.GalleryConfig) *Loader {
	if gallery == nil {
		gallery = &config.GalleryConfig{}
	}
	return &Loader{store: store, table: tbl, gallery: gallery}
}

// Load ingests the manifest at manifestURL and everything it references.
// Fetch or parse failures are contained per manifest: they are logged and
// leave the table as it was, without aborting sibling manifests. The only
// returned error is context cancellation.
func (l *Loader) Load(ctx context.Context, manifestURL string) error {
	return l.load(ctx, manifestURL, table.Row{})
}

func (l *Loader) load(ctx context.Context, manifestURL string, inherited table.Row) error {
	data, err := l.store.Get(ctx, manifestURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Printf("ingest: failed to load manifest %s: %v", manifestURL, err)
		return nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		log.Printf("ingest: malformed manifest %s: %v", manifestURL, err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	// A first row with more than one field is a header; otherwise the
	// manifest is a bare url list.
	header := []string{"url"}
	body := records
	if len(records[0]) > 1 {
		header = records[0]
		body = records[1:]
	}

	var leaves []table.Row
	var children []table.Row
	for _, rec := range body {
		row := inherited.Clone()
		for i, col := range header {
			if i >= len(rec) {
				break
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				row[col] = v
			}
		}
		if row.URL() == "" {
			continue
		}
		if strings.HasSuffix(row.URL(), manifestExt) {
			children = append(children, row)
			continue
		}
		leaves = append(leaves, row)
	}

	leaves = l.applyViewConfig(leaves)
	leaves = dedupBatch(leaves)

	l.table.AddRows(leaves)
	l.table.AddSourceSummary(summarize(manifestURL, leaves, len(children)))

	// Sibling child manifests load concurrently; the table's
	// append-then-dedup contract makes the final state order-independent.
	g, ctx := errgroup.WithContext(ctx)
	for _, child := range children {
		childURL := resolveRef(manifestURL, child.URL())
		template := child.Clone()
		delete(template, "url")
		template["manifest"] = childURL
		g.Go(func() error {
			return l.load(ctx, childURL, template)
		})
	}
	return g.Wait()
}

// applyViewConfig drops rows failing the allow-list, patches override
// fields, defaults the collection sentinel, and resolves named collection
// URL bindings.
func (l *Loader) applyViewConfig(rows []table.Row) []table.Row {
	out := rows[:0:0]
	for _, row := range rows {
		if !l.gallery.Allowed(row.URL()) {
			continue
		}
		for k, v := range l.gallery.Override(row.URL()) {
			row[k] = v
		}
		if row["collection"] == "" {
			row["collection"] = "none"
		} else if u := l.gallery.CollectionURL(row["collection"]); u != "" {
			row["collection_url"] = u
		}
		out = append(out, row)
	}
	return out
}

// dedupBatch keeps the first occurrence of each url within one manifest.
func dedupBatch(rows []table.Row) []table.Row {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		if seen[row.URL()] {
			continue
		}
		seen[row.URL()] = true
		out = append(out, row)
	}
	return out
}

func summarize(manifestURL string, rows []table.Row, childManifests int) table.SourceSummary {
	sum := table.SourceSummary{
		SourceURL:      manifestURL,
		ChildManifests: childManifests,
	}
	images := 0
	for _, row := range rows {
		if truthy(row["wells"]) {
			sum.PlateCount++
		}
		if w, err := strconv.ParseFloat(row["written"], 64); err == nil {
			sum.ByteTotal += int64(w)
		}
		if n, err := strconv.Atoi(row["images"]); err == nil && n > 0 {
			images += n
		} else {
			images++
		}
	}
	if sum.PlateCount > 0 {
		sum.ImageCount = images
	} else {
		sum.ImageCount = len(rows)
	}
	return sum
}

func truthy(s string) bool {
	return s != "" && s != "0"
}

// resolveRef resolves a child manifest reference against its parent URL.
func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
