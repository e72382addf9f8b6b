// Package main is the entry point for the NGFF Gallery server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ngff-gallery/server/internal/api"
	"github.com/ngff-gallery/server/internal/cache"
	"github.com/ngff-gallery/server/internal/config"
	"github.com/ngff-gallery/server/internal/data/zarr"
	"github.com/ngff-gallery/server/internal/ingest"
	"github.com/ngff-gallery/server/internal/ontology"
	"github.com/ngff-gallery/server/internal/render"
	"github.com/ngff-gallery/server/internal/service"
	"github.com/ngff-gallery/server/internal/table"
	"github.com/ngff-gallery/server/internal/thumbnail"
)

const defaultCollectionID = "default"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting NGFF Gallery server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Shared remote store for manifests, descriptors, and chunk data
	store := zarr.NewHTTPStore(&http.Client{Timeout: 60 * time.Second})

	// Initialize cache manager (shared across all collections)
	cacheManager, err := cache.NewManager(cache.Config{
		ThumbnailCacheSizeMB: cfg.Cache.ThumbnailSizeMB,
		ThumbnailTTL:         time.Duration(cfg.Cache.ThumbnailTTLMinutes) * time.Minute,
		DescriptorCacheSize:  cfg.Cache.DescriptorCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize thumbnail pipeline (shared across all collections)
	renderer := render.NewThumbnailRenderer(render.Config{MaxSize: cfg.Thumbnail.MaxSize})
	generator := thumbnail.NewGenerator(store)

	// Initialize ontology label stores
	organisms := ontology.NewStore()
	modalities := ontology.NewStore()
	if cfg.Ontology.OrganismURL != "" {
		if err := ontology.LoadDocument(ctx, store, cfg.Ontology.OrganismURL, organisms); err != nil {
			log.Printf("Organism ontology not loaded: %v", err)
		}
	}
	if cfg.Ontology.ModalityURL != "" {
		if err := ontology.LoadDocument(ctx, store, cfg.Ontology.ModalityURL, modalities); err != nil {
			log.Printf("Modality ontology not loaded: %v", err)
		}
	}

	// Resolve the collection set: named bindings from gallery config, plus a
	// default collection fed by the startup manifests.
	collections := map[string][]string{}
	for name := range cfg.Gallery.Collections {
		collections[name] = []string{cfg.Gallery.CollectionURL(name)}
	}
	if len(cfg.Sources.Manifests) > 0 || len(collections) == 0 {
		collections[defaultCollectionID] = cfg.Sources.Manifests
	}

	ids := make([]string, 0, len(collections))
	for id := range collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	defaultID := ids[0]
	if _, ok := collections[defaultCollectionID]; ok {
		defaultID = defaultCollectionID
	}

	registry := api.NewCollectionRegistry(defaultID, ids, cfg.Server.Title)
	log.Printf("Initializing %d collection(s), default: %s", len(ids), defaultID)

	for _, id := range ids {
		tbl := table.NewStore()
		svc := service.NewGalleryService(service.GalleryServiceConfig{
			Store:       store,
			Table:       tbl,
			Loader:      ingest.NewLoader(store, tbl, &cfg.Gallery),
			Cache:       cacheManager,
			Renderer:    renderer,
			Generator:   generator,
			Organisms:   organisms,
			Modalities:  modalities,
			MaxSize:     cfg.Thumbnail.MaxSize,
			PixelBudget: cfg.Thumbnail.PixelBudget,
		})
		registry.Register(id, svc)

		// Ingest startup manifests in the background so the server is
		// reachable while large trees load.
		for _, manifestURL := range collections[id] {
			go func(id, url string) {
				if err := svc.LoadManifest(ctx, url); err != nil {
					log.Printf("  [%s] Manifest load failed for %s: %v", id, url, err)
					return
				}
				for _, sum := range svc.Summaries() {
					if sum.SourceURL != url {
						continue
					}
					log.Printf("  [%s] Loaded %s: %d images, %d plates, %s",
						id, url, sum.ImageCount, sum.PlateCount, sum.BytesDisplay)
				}
			}(id, manifestURL)
		}
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
