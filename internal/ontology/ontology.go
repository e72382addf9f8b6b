// Package ontology holds id-to-display-name mappings for organism and
// imaging-modality terms, with a subscription interface for consumers that
// build filter option lists.
package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ngff-gallery/server/internal/data/zarr"
)

// Store is one subscribable id-to-name mapping.
type Store struct {
	mu     sync.Mutex
	names  map[string]string
	subs   map[int]func(map[string]string)
	nextID int
}

// NewStore creates an empty ontology store.
func NewStore() *Store {
	return &Store{
		names: map[string]string{},
		subs:  map[int]func(map[string]string){},
	}
}

// Set replaces the mapping and notifies subscribers with a snapshot.
func (s *Store) Set(names map[string]string) {
	s.mu.Lock()
	s.names = make(map[string]string, len(names))
	for k, v := range names {
		s.names[k] = v
	}
	snapshot := s.snapshotLocked()
	subs := make([]func(map[string]string), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Names returns a snapshot of the current mapping.
func (s *Store) Names() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Name returns the display name for an id, or "".
func (s *Store) Name(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[id]
}

// IDForName reverse-looks-up an id by display name, or "".
func (s *Store) IDForName(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.names {
		if n == name {
			return id
		}
	}
	return ""
}

// Subscribe registers a callback invoked with a snapshot on every Set, and
// immediately with the current mapping. It returns the deregistration handle.
func (s *Store) Subscribe(fn func(map[string]string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
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

func (s *Store) snapshotLocked() map[string]string {
	out := make(map[string]string, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

// LoadDocument fetches a JSON object of id-to-name pairs and installs it
// into the store.
func LoadDocument(ctx context.Context, store zarr.Store, url string, dest *Store) error {
	data, err := store.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("load ontology %s: %w", url, err)
	}
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("parse ontology %s: %w", url, err)
	}
	dest.Set(names)
	return nil
}
