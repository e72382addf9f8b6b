// Package table holds the session-scoped dataset table: an ordered,
// deduplicated row set with subscription, sorting, and selection.
package table

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Row is one dataset entry: column name to value, as ingested from a
// manifest. The url column is the identifying key.
type Row map[string]string

// URL returns the row's identifying key.
func (r Row) URL() string { return r["url"] }

// Clone returns a shallow-independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IndexField is the sort field name that reverts to insertion order.
const IndexField = "index"

// SourceSummary aggregates what one manifest contributed.
type SourceSummary struct {
	SourceURL      string `json:"source_url"`
	ChildManifests int    `json:"child_manifests"`
	ImageCount     int    `json:"image_count"`
	PlateCount     int    `json:"plate_count"`
	ByteTotal      int64  `json:"byte_total"`
}

// Subscriber receives the full current row sequence after every mutation.
type Subscriber func(rows []Row)

// Store is the reactive table state. All mutations are serialized through
// its methods; every mutation publishes a fresh whole-set snapshot to
// subscribers.
type Store struct {
	mu        sync.Mutex
	rows      []Row // current order (sorted or insertion)
	insertion []Row // deduplicated insertion order
	summaries map[string]SourceSummary
	sourceSeq []string
	selected  Row
	subs      map[int]Subscriber
	nextSub   int
}

// NewStore creates an empty table store.
func NewStore() *Store {
	return &Store{
		summaries: make(map[string]SourceSummary),
		subs:      make(map[int]Subscriber),
	}
}

// Subscribe registers a subscriber and returns its deregistration handle.
// The subscriber is immediately called with the current snapshot.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	fn(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// AddRows appends rows and re-deduplicates the whole accumulated set by url,
// first-seen wins. The append-then-dedup pass is atomic per call, so
// concurrent ingestion tasks converge to the same final set regardless of
// completion order.
func (s *Store) AddRows(rows []Row) {
	s.mu.Lock()
	s.insertion = append(s.insertion, rows...)
	s.insertion = dedupByURL(s.insertion)
	s.rows = append(s.rows[:0:0], s.insertion...)
	snapshot, subs := s.snapshotLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
}

// AddSourceSummary records aggregate stats for one manifest source.
func (s *Store) AddSourceSummary(sum SourceSummary) {
	s.mu.Lock()
	if _, seen := s.summaries[sum.SourceURL]; !seen {
		s.sourceSeq = append(s.sourceSeq, sum.SourceURL)
	}
	s.summaries[sum.SourceURL] = sum
	s.mu.Unlock()
}

// Summaries returns per-source aggregates in first-seen source order.
func (s *Store) Summaries() []SourceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceSummary, 0, len(s.sourceSeq))
	for _, url := range s.sourceSeq {
		out = append(out, s.summaries[url])
	}
	return out
}

// SortTable stably sorts the row set by the named field. Numeric values
// compare numerically and sort before non-numeric ones; the IndexField name
// reverts to insertion order.
func (s *Store) SortTable(field string, ascending bool) {
	s.mu.Lock()
	if field == IndexField {
		s.rows = append(s.rows[:0:0], s.insertion...)
		if !ascending {
			reverse(s.rows)
		}
	} else {
		sort.SliceStable(s.rows, func(i, j int) bool {
			c := compareField(s.rows[i][field], s.rows[j][field])
			if ascending {
				return c < 0
			}
			return c > 0
		})
	}
	snapshot, subs := s.snapshotLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
}

// SetSelectedRow tracks the currently previewed row. A nil row clears the
// selection.
func (s *Store) SetSelectedRow(row Row) {
	s.mu.Lock()
	s.selected = row
	snapshot, subs := s.snapshotLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
}

// SelectedRow returns the currently previewed row, or nil.
func (s *Store) SelectedRow() Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// GetRows returns a snapshot of the current full row sequence.
func (s *Store) GetRows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Reset drops all rows, summaries, and the selection, keeping subscribers.
func (s *Store) Reset() {
	s.mu.Lock()
	s.rows = nil
	s.insertion = nil
	s.summaries = make(map[string]SourceSummary)
	s.sourceSeq = nil
	s.selected = nil
	snapshot, subs := s.snapshotLocked(), s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
}

func (s *Store) snapshotLocked() []Row {
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *Store) subscribersLocked() []Subscriber {
	out := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []Subscriber, snapshot []Row) {
	for _, fn := range subs {
		fn(snapshot)
	}
}

func dedupByURL(rows []Row) []Row {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		url := row.URL()
		if seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, row)
	}
	return out
}

// compareField orders two cell values: numerically when both parse, with
// non-numeric values sorting lowest, and lexicographically otherwise.
func compareField(a, b string) int {
	fa, aOK := parseNumber(a)
	fb, bOK := parseNumber(b)
	switch {
	case aOK && bOK:
		if fa < fb {
			return -1
		}
		if fa > fb {
			return 1
		}
		return 0
	case aOK:
		return 1
	case bOK:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func reverse(rows []Row) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
