// Package api provides HTTP handlers for the gallery server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ngff-gallery/server/internal/filter"
	"github.com/ngff-gallery/server/internal/service"
	"github.com/ngff-gallery/server/internal/table"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *CollectionRegistry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global collections endpoint (not collection-scoped)
	r.Get("/api/collections", collectionsHandler(cfg.Registry))

	// Collection-scoped routes: /c/{collection}/...
	r.Route("/c/{collection}", func(r chi.Router) {
		r.Use(collectionMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/rows", collectionRowsHandler)
			r.Post("/sort", collectionSortHandler)
			r.Get("/options/{dimension}", collectionOptionsHandler)
			r.Get("/summaries", collectionSummariesHandler)
			r.Get("/selection", collectionGetSelectionHandler)
			r.Put("/selection", collectionSetSelectionHandler)
			r.Delete("/selection", collectionClearSelectionHandler)
			r.Post("/manifests", collectionLoadManifestHandler)
			r.Get("/thumbnail", collectionThumbnailHandler)
			r.Get("/detail", collectionDetailHandler)
		})
	})

	return r
}

// Context key for collection service
type ctxKey string

const collectionServiceKey ctxKey = "collectionService"

// collectionMiddleware resolves the collection from URL and injects the
// gallery service into context.
func collectionMiddleware(registry *CollectionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			collectionID := chi.URLParam(r, "collection")
			svc := registry.Get(collectionID)
			if svc == nil {
				http.Error(w, "collection not found: "+collectionID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), collectionServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getCollectionService(r *http.Request) *service.GalleryService {
	if svc, ok := r.Context().Value(collectionServiceKey).(*service.GalleryService); ok {
		return svc
	}
	return nil
}

// collectionsHandler returns the list of available collections.
func collectionsHandler(registry *CollectionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":     registry.DefaultCollectionID(),
			"collections": registry.Collections(),
			"title":       registry.Title(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// Collection-scoped handlers (get service from context)
func collectionRowsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	rowsHandler(svc)(w, r)
}

func collectionSortHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	sortHandler(svc)(w, r)
}

func collectionOptionsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	optionsHandler(svc)(w, r)
}

func collectionSummariesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	summariesHandler(svc)(w, r)
}

func collectionGetSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	getSelectionHandler(svc)(w, r)
}

func collectionSetSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	setSelectionHandler(svc)(w, r)
}

func collectionClearSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	clearSelectionHandler(svc)(w, r)
}

func collectionLoadManifestHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	loadManifestHandler(svc)(w, r)
}

func collectionThumbnailHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	thumbnailHandler(svc)(w, r)
}

func collectionDetailHandler(w http.ResponseWriter, r *http.Request) {
	svc := getCollectionService(r)
	if svc == nil {
		http.Error(w, "collection service not found", http.StatusInternalServerError)
		return
	}
	detailHandler(svc)(w, r)
}

// filterFromQuery builds a filter set from the shared query params.
func filterFromQuery(r *http.Request) filter.Set {
	q := r.URL.Query()
	return filter.Set{
		DimCount:   strings.TrimSpace(q.Get("dim_count")),
		OrganismID: strings.TrimSpace(q.Get("organism")),
		ModalityID: strings.TrimSpace(q.Get("modality")),
		Text:       strings.TrimSpace(q.Get("q")),
	}
}

func dimensionFromParam(name string) (filter.Dimension, bool) {
	switch name {
	case "dim_count":
		return filter.DimCount, true
	case "organism":
		return filter.Organism, true
	case "modality":
		return filter.Modality, true
	}
	return 0, false
}

// rowsHandler returns the rows visible under the request's filters, in the
// table's current order.
func rowsHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows := svc.Rows(filterFromQuery(r))
		if rows == nil {
			rows = []table.Row{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rows":  rows,
			"count": len(rows),
		})
	}
}

// sortHandler reorders the table. Sorting by "index" restores load order.
func sortHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Field     string `json:"field"`
			Ascending *bool  `json:"ascending"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Field == "" {
			http.Error(w, "missing required field: field", http.StatusBadRequest)
			return
		}
		ascending := true
		if req.Ascending != nil {
			ascending = *req.Ascending
		}
		svc.Sort(req.Field, ascending)
		w.WriteHeader(http.StatusNoContent)
	}
}

// optionsHandler returns the selectable values for one filter dimension.
func optionsHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dim, ok := dimensionFromParam(chi.URLParam(r, "dimension"))
		if !ok {
			http.Error(w, "unknown dimension: "+chi.URLParam(r, "dimension"), http.StatusBadRequest)
			return
		}
		opts := svc.Options(filterFromQuery(r), dim)
		if opts == nil {
			opts = []filter.Option{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"options": opts,
		})
	}
}

func summariesHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums := svc.Summaries()
		if sums == nil {
			sums = []service.SummaryView{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"summaries": sums,
		})
	}
}

func getSelectionHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row := svc.Selected()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"selected": row,
		})
	}
}

func setSelectionHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.URL == "" {
			http.Error(w, "missing required field: url", http.StatusBadRequest)
			return
		}
		if !svc.Select(req.URL) {
			http.Error(w, "row not found: "+req.URL, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clearSelectionHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Select("")
		w.WriteHeader(http.StatusNoContent)
	}
}

// loadManifestHandler ingests a manifest tree and returns the updated
// per-source summaries.
func loadManifestHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.URL == "" {
			http.Error(w, "missing required field: url", http.StatusBadRequest)
			return
		}
		if err := svc.LoadManifest(r.Context(), req.URL); err != nil {
			http.Error(w, "load failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"summaries": svc.Summaries(),
		})
	}
}

// detailHandler resolves a dataset root and reports its structure and size.
func detailHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := strings.TrimSpace(r.URL.Query().Get("url"))
		if url == "" {
			http.Error(w, "missing required query param: url", http.StatusBadRequest)
			return
		}
		detail, err := svc.DatasetDetail(r.Context(), url)
		if err != nil {
			http.Error(w, "detail failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(detail)
	}
}

// thumbnailHandler serves a PNG thumbnail for a dataset url. Datasets that
// yield no thumbnail respond 204 so clients can show their fallback.
func thumbnailHandler(svc *service.GalleryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := strings.TrimSpace(r.URL.Query().Get("url"))
		if url == "" {
			http.Error(w, "missing required query param: url", http.StatusBadRequest)
			return
		}
		data, err := svc.Thumbnail(r.Context(), url)
		if err != nil {
			http.Error(w, "thumbnail failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		if data == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.Write(data)
	}
}
