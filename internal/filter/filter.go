// Package filter derives the visible row subset from active predicates and
// builds cross-filter-consistent option sets for each filter dimension.
package filter

import (
	"sort"
	"strings"

	"github.com/ngff-gallery/server/internal/table"
)

// Dimension identifies one filter predicate.
type Dimension int

const (
	DimCount Dimension = iota
	Organism
	Modality
	Text
)

// Set is the active filter predicates. An empty value imposes no constraint;
// predicates compose by logical AND.
type Set struct {
	DimCount   string `json:"dim_count"`
	OrganismID string `json:"organism_id"`
	ModalityID string `json:"modality_id"`
	Text       string `json:"text"`
}

// Match reports whether a row satisfies every predicate.
func (s Set) Match(row table.Row) bool {
	if s.DimCount != "" && row["dim_count"] != s.DimCount {
		return false
	}
	if s.OrganismID != "" && row["organismId"] != s.OrganismID {
		return false
	}
	if s.ModalityID != "" && row["fbbiId"] != s.ModalityID {
		return false
	}
	if s.Text != "" && !matchText(row, s.Text) {
		return false
	}
	return true
}

// Without returns the set with one dimension's predicate cleared.
func (s Set) Without(d Dimension) Set {
	switch d {
	case DimCount:
		s.DimCount = ""
	case Organism:
		s.OrganismID = ""
	case Modality:
		s.ModalityID = ""
	case Text:
		s.Text = ""
	}
	return s
}

func matchText(row table.Row, text string) bool {
	needle := strings.ToLower(text)
	for _, col := range []string{"url", "name", "description"} {
		if strings.Contains(strings.ToLower(row[col]), needle) {
			return true
		}
	}
	return false
}

func column(d Dimension) string {
	switch d {
	case DimCount:
		return "dim_count"
	case Organism:
		return "organismId"
	case Modality:
		return "fbbiId"
	default:
		return ""
	}
}

// Visible returns the rows satisfying every predicate, preserving order.
func Visible(rows []table.Row, s Set) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, row := range rows {
		if s.Match(row) {
			out = append(out, row)
		}
	}
	return out
}

// Options returns the distinct values of dimension d among rows satisfying
// every predicate except d's own, sorted lexicographically. Choosing any
// returned value therefore yields a non-empty result.
func Options(rows []table.Row, s Set, d Dimension) []string {
	col := column(d)
	if col == "" {
		return nil
	}
	others := s.Without(d)
	seen := map[string]bool{}
	var out []string
	for _, row := range rows {
		v := row[col]
		if v == "" || seen[v] || !others.Match(row) {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Option is one selectable ontology-backed filter value.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// LabeledOptions returns the available values of an ontology-backed
// dimension with their display names, sorted by label. Ids without a known
// name keep the id as label.
func LabeledOptions(rows []table.Row, s Set, d Dimension, names map[string]string) []Option {
	ids := Options(rows, s, d)
	out := make([]Option, 0, len(ids))
	for _, id := range ids {
		label := names[id]
		if label == "" {
			label = id
		}
		out = append(out, Option{ID: id, Label: label})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out
}
