package table

import (
	"reflect"
	"sync"
	"testing"
)

func urls(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.URL()
	}
	return out
}

func TestAddRowsDedupFirstSeenWins(t *testing.T) {
	s := NewStore()

	s.AddRows([]Row{
		{"url": "a", "written": "100"},
		{"url": "b", "written": "200"},
	})
	s.AddRows([]Row{
		{"url": "a", "written": "999"}, // duplicate, later batch
		{"url": "c", "written": "300"},
	})

	rows := s.GetRows()
	if !reflect.DeepEqual(urls(rows), []string{"a", "b", "c"}) {
		t.Fatalf("unexpected urls: %v", urls(rows))
	}
	if rows[0]["written"] != "100" {
		t.Fatalf("first-seen row must win, got written=%s", rows[0]["written"])
	}
}

func TestAddRowsDedupOrderIndependent(t *testing.T) {
	// The same batches in either completion order yield the same set.
	batch1 := []Row{{"url": "a", "name": "one"}}
	batch2 := []Row{{"url": "b", "name": "two"}, {"url": "a", "name": "dup"}}

	s1 := NewStore()
	s1.AddRows(batch1)
	s1.AddRows(batch2)

	s2 := NewStore()
	s2.AddRows(batch2)
	s2.AddRows(batch1)

	set1 := map[string]string{}
	for _, r := range s1.GetRows() {
		set1[r.URL()] = ""
	}
	set2 := map[string]string{}
	for _, r := range s2.GetRows() {
		set2[r.URL()] = ""
	}
	if !reflect.DeepEqual(set1, set2) {
		t.Fatalf("final url sets differ: %v vs %v", set1, set2)
	}
}

func TestSortTable(t *testing.T) {
	s := NewStore()
	s.AddRows([]Row{
		{"url": "a", "written": "300"},
		{"url": "b", "written": "100"},
		{"url": "c"}, // missing value sorts lowest
		{"url": "d", "written": "200"},
	})

	t.Run("numericAscending", func(t *testing.T) {
		s.SortTable("written", true)
		if got := urls(s.GetRows()); !reflect.DeepEqual(got, []string{"c", "b", "d", "a"}) {
			t.Fatalf("unexpected order: %v", got)
		}
	})

	t.Run("numericDescending", func(t *testing.T) {
		s.SortTable("written", false)
		if got := urls(s.GetRows()); !reflect.DeepEqual(got, []string{"a", "d", "b", "c"}) {
			t.Fatalf("unexpected order: %v", got)
		}
	})

	t.Run("indexRestoresInsertionOrder", func(t *testing.T) {
		s.SortTable("written", false)
		s.SortTable(IndexField, true)
		if got := urls(s.GetRows()); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
			t.Fatalf("unexpected order: %v", got)
		}
	})

	t.Run("lexicographicFallback", func(t *testing.T) {
		s.SortTable("url", false)
		if got := urls(s.GetRows()); !reflect.DeepEqual(got, []string{"d", "c", "b", "a"}) {
			t.Fatalf("unexpected order: %v", got)
		}
	})

	t.Run("stable", func(t *testing.T) {
		s.SortTable(IndexField, true)
		// All rows equal on a constant field: order must not change.
		s.SortTable("collection", true)
		if got := urls(s.GetRows()); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
			t.Fatalf("expected stable order, got %v", got)
		}
	})
}

func TestSubscription(t *testing.T) {
	s := NewStore()

	var mu sync.Mutex
	var calls [][]string
	unsubscribe := s.Subscribe(func(rows []Row) {
		mu.Lock()
		calls = append(calls, urls(rows))
		mu.Unlock()
	})

	s.AddRows([]Row{{"url": "a"}})
	s.AddRows([]Row{{"url": "b"}})
	unsubscribe()
	s.AddRows([]Row{{"url": "c"}})

	mu.Lock()
	defer mu.Unlock()
	want := [][]string{
		{},         // initial snapshot on subscribe
		{"a"},      // first add
		{"a", "b"}, // second add
	}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("unexpected notifications: %v, want %v", calls, want)
	}
}

func TestSelection(t *testing.T) {
	s := NewStore()
	row := Row{"url": "a"}
	s.AddRows([]Row{row})

	if s.SelectedRow() != nil {
		t.Fatalf("expected no initial selection")
	}
	s.SetSelectedRow(row)
	if got := s.SelectedRow(); got.URL() != "a" {
		t.Fatalf("unexpected selection: %v", got)
	}
	s.SetSelectedRow(nil)
	if s.SelectedRow() != nil {
		t.Fatalf("expected cleared selection")
	}
}

func TestSourceSummaries(t *testing.T) {
	s := NewStore()
	s.AddSourceSummary(SourceSummary{SourceURL: "m1.csv", ImageCount: 3, ByteTotal: 100})
	s.AddSourceSummary(SourceSummary{SourceURL: "m2.csv", ImageCount: 1, PlateCount: 1})
	s.AddSourceSummary(SourceSummary{SourceURL: "m1.csv", ImageCount: 4, ByteTotal: 150}) // update in place

	got := s.Summaries()
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[0].SourceURL != "m1.csv" || got[0].ImageCount != 4 {
		t.Fatalf("unexpected first summary: %#v", got[0])
	}
	if got[1].PlateCount != 1 {
		t.Fatalf("unexpected second summary: %#v", got[1])
	}
}
