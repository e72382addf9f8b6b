// Package config handles configuration loading for the gallery server.
package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sources   SourcesConfig   `yaml:"sources"`
	Gallery   GalleryConfig   `yaml:"gallery"`
	Ontology  OntologyConfig  `yaml:"ontology"`
	Cache     CacheConfig     `yaml:"cache"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// SourcesConfig lists the root CSV manifests ingested at startup.
type SourcesConfig struct {
	Manifests []string `yaml:"manifests"`
}

// GalleryConfig is the view configuration: an allow-list of dataset urls,
// per-url override patches, and named collection URL bindings.
type GalleryConfig struct {
	Whitelist   []string                     `yaml:"whitelist"`
	Overrides   map[string]map[string]string `yaml:"overrides"`
	Collections map[string]string            `yaml:"collections"`

	once      sync.Once
	whitelist map[string]bool
}

// OntologyConfig points at id-to-name mapping documents.
type OntologyConfig struct {
	OrganismURL string `yaml:"organism_url"`
	ModalityURL string `yaml:"modality_url"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ThumbnailSizeMB     int `yaml:"thumbnail_size_mb"`
	ThumbnailTTLMinutes int `yaml:"thumbnail_ttl_minutes"`
	DescriptorCacheSize int `yaml:"descriptor_cache_size"`
}

// ThumbnailConfig contains thumbnail generation settings.
type ThumbnailConfig struct {
	// MaxSize is the bounding box edge for delivered thumbnails, in pixels.
	MaxSize int `yaml:"max_size"`
	// PixelBudget caps the source plane extent: planes with more than
	// PixelBudget squared pixels are refused.
	PixelBudget int `yaml:"pixel_budget"`
}

// Allowed reports whether a dataset url passes the allow-list. An empty
// whitelist allows everything. The list is resolved to a set once and cached
// for the process lifetime.
func (g *GalleryConfig) Allowed(url string) bool {
	g.once.Do(func() {
		if len(g.Whitelist) == 0 {
			return
		}
		g.whitelist = make(map[string]bool, len(g.Whitelist))
		for _, u := range g.Whitelist {
			g.whitelist[u] = true
		}
	})
	if g.whitelist == nil {
		return true
	}
	return g.whitelist[url]
}

// Override returns the patch fields for a dataset url, or nil.
func (g *GalleryConfig) Override(url string) map[string]string {
	return g.Overrides[url]
}

// CollectionURL resolves a named collection binding, or "".
func (g *GalleryConfig) CollectionURL(name string) string {
	return g.Collections[name]
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "NGFF Gallery",
		},
		Cache: CacheConfig{
			ThumbnailSizeMB:     256,
			ThumbnailTTLMinutes: 30,
			DescriptorCacheSize: 1024,
		},
		Thumbnail: ThumbnailConfig{
			MaxSize:     256,
			PixelBudget: 512,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Cache.ThumbnailSizeMB == 0 {
		cfg.Cache.ThumbnailSizeMB = defaults.Cache.ThumbnailSizeMB
	}
	if cfg.Cache.ThumbnailTTLMinutes == 0 {
		cfg.Cache.ThumbnailTTLMinutes = defaults.Cache.ThumbnailTTLMinutes
	}
	if cfg.Cache.DescriptorCacheSize == 0 {
		cfg.Cache.DescriptorCacheSize = defaults.Cache.DescriptorCacheSize
	}
	if cfg.Thumbnail.MaxSize == 0 {
		cfg.Thumbnail.MaxSize = defaults.Thumbnail.MaxSize
	}
	if cfg.Thumbnail.PixelBudget == 0 {
		cfg.Thumbnail.PixelBudget = defaults.Thumbnail.PixelBudget
	}
}
