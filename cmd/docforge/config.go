package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docforge/chunk"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/draft"
	"github.com/hazyhaar/docforge/horosembed"
	"github.com/hazyhaar/docforge/observability"
	"github.com/hazyhaar/docforge/render"
	"github.com/hazyhaar/docforge/retrieval"
	"github.com/hazyhaar/docforge/shield"
)

// Config holds all docforge configuration.
type Config struct {
	DBPath  string `yaml:"db_path"`
	BlobDir string `yaml:"blob_dir"`
	Listen  string `yaml:"listen"`

	Extract   docpipe.Config                `yaml:"extract"`
	Chunk     chunk.Options                 `yaml:"chunk"`
	Embed     horosembed.Config             `yaml:"embed"`
	Retrieval retrieval.Config              `yaml:"retrieval"`
	Render    render.Config                 `yaml:"render"`
	Draft     draft.Config                  `yaml:"draft"`
	Generator GeneratorConfig               `yaml:"generator"`
	Metrics   observability.MetricsConfig   `yaml:"metrics"`
	Retention observability.RetentionConfig `yaml:"retention"`
	HTTP      shield.Config                 `yaml:"http"`

	// RoutesInterval is how often the connectivity routes table is polled
	// in serve mode (default: 5s).
	RoutesInterval time.Duration `yaml:"routes_interval"`
}

// GeneratorConfig selects the generative model.
type GeneratorConfig struct {
	// Kind is "gemini", "http" or empty. Empty picks gemini when
	// GEMINI_API_KEY is set, else http when an endpoint is configured, else
	// drafting is disabled.
	Kind   string            `yaml:"kind"`
	Gemini draft.GeminiConfig `yaml:"gemini"`
	HTTP   draft.HTTPConfig   `yaml:"http"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "docforge.db"
	}
	if c.BlobDir == "" {
		c.BlobDir = filepath.Join(filepath.Dir(c.DBPath), "blobs")
	}
	if c.Listen == "" {
		c.Listen = ":8420"
	}
	if c.RoutesInterval <= 0 {
		c.RoutesInterval = 5 * time.Second
	}
	if c.Retention.EventDays <= 0 {
		c.Retention.EventDays = 90
	}
	if c.Retention.MetricDays <= 0 {
		c.Retention.MetricDays = 30
	}
	c.Retrieval.DBPath = c.DBPath
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
