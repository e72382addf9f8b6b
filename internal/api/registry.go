package api

import (
	"github.com/ngff-gallery/server/internal/service"
)

// CollectionInfo contains information about a collection for the API response.
type CollectionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CollectionRegistry holds gallery services for all configured collections.
type CollectionRegistry struct {
	services          map[string]*service.GalleryService
	defaultCollection string
	collectionOrder   []string
	title             string
}

// NewCollectionRegistry creates a new collection registry.
func NewCollectionRegistry(defaultCollection string, order []string, title string) *CollectionRegistry {
	return &CollectionRegistry{
		services:          make(map[string]*service.GalleryService),
		defaultCollection: defaultCollection,
		collectionOrder:   order,
		title:             title,
	}
}

// Register adds a gallery service for a collection.
func (r *CollectionRegistry) Register(collectionID string, svc *service.GalleryService) {
	r.services[collectionID] = svc
}

// Get returns the gallery service for a collection, or nil if not found.
func (r *CollectionRegistry) Get(collectionID string) *service.GalleryService {
	return r.services[collectionID]
}

// DefaultCollectionID returns the default collection ID.
func (r *CollectionRegistry) DefaultCollectionID() string {
	return r.defaultCollection
}

// CollectionIDs returns all collection IDs in config order.
func (r *CollectionRegistry) CollectionIDs() []string {
	return r.collectionOrder
}

// Title returns the configured site title.
func (r *CollectionRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "NGFF Gallery"
}

// Collections returns collection info for all registered collections.
func (r *CollectionRegistry) Collections() []CollectionInfo {
	ids := r.CollectionIDs()
	infos := make([]CollectionInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, CollectionInfo{
			ID:   id,
			Name: id,
		})
	}
	return infos
}
