// Package config loads and validates rscodex configuration: search weights,
// chunking parameters, performance tuning, and the sync scheduler interval.
// Precedence is defaults < project file (.rscodex.yaml) < environment.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete rscodex configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Sync        SyncConfig        `yaml:"sync" json:"sync"`
}

// PathsConfig configures which paths are scanned.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig configures hybrid search parameters.
type SearchConfig struct {
	// LexicalWeight and VectorWeight must sum to 1.0; used only by
	// weighted-sum mode. RRF mode ignores both.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`

	// FusionMode is "rrf" (default) or "weighted".
	FusionMode string `yaml:"fusion_mode" json:"fusion_mode"`
	// RRFConstant is the RRF smoothing constant k. Default 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults   int `yaml:"max_results" json:"max_results"`

	// SoftTimeoutMS bounds a hybrid query; partial results are returned past it.
	SoftTimeoutMS int `yaml:"soft_timeout_ms" json:"soft_timeout_ms"`
}

// EmbeddingsConfig configures the embedding collaborator.
type EmbeddingsConfig struct {
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
}

// PerformanceConfig configures resource tiers.
type PerformanceConfig struct {
	IndexWorkers int    `yaml:"index_workers" json:"index_workers"`
	PipelineMode string `yaml:"pipeline_mode" json:"pipeline_mode"` // sequential|parallel|pipeline
	MemoryTier   string `yaml:"memory_tier" json:"memory_tier"`     // small|medium|large, drives HNSW M/ef
}

// ServerConfig configures the MCP transport.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"` // stdio only, kept for parity
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// SyncConfig configures the background reindex scheduler.
type SyncConfig struct {
	IntervalSeconds     int  `yaml:"interval_seconds" json:"interval_seconds"`
	InitialDelaySeconds int  `yaml:"initial_delay_seconds" json:"initial_delay_seconds"`
	WatchEnabled        bool `yaml:"watch_enabled" json:"watch_enabled"`
	DebounceMS          int  `yaml:"debounce_ms" json:"debounce_ms"`
}

var defaultExcludePatterns = []string{
	"**/target/**",
	"**/.git/**",
	"**/node_modules/**",
	"**/*.lock",
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			LexicalWeight: 0.5,
			VectorWeight:  0.5,
			FusionMode:    "rrf",
			RRFConstant:   60,
			ChunkSize:     1500,
			ChunkOverlap:  200,
			MaxResults:    20,
			SoftTimeoutMS: 5000,
		},
		Embeddings: EmbeddingsConfig{
			Model:      "static-384",
			Dimensions: 384,
			BatchSize:  64,
		},
		Performance: PerformanceConfig{
			IndexWorkers: runtime.NumCPU(),
			PipelineMode: "pipeline",
			MemoryTier:   "medium",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Sync: SyncConfig{
			IntervalSeconds:     300,
			InitialDelaySeconds: 5,
			WatchEnabled:        true,
			DebounceMS:          500,
		},
	}
}

// Load resolves configuration for dir: defaults, then .rscodex.yaml in dir
// if present, then RSCODEX_* environment overrides.
func Load(dir string) (*Config, error) {
	cfg := New()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".rscodex.yaml", ".rscodex.yml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Search.LexicalWeight != 0 {
		c.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.FusionMode != "" {
		c.Search.FusionMode = other.Search.FusionMode
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.SoftTimeoutMS != 0 {
		c.Search.SoftTimeoutMS = other.Search.SoftTimeoutMS
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.PipelineMode != "" {
		c.Performance.PipelineMode = other.Performance.PipelineMode
	}
	if other.Performance.MemoryTier != "" {
		c.Performance.MemoryTier = other.Performance.MemoryTier
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Sync.IntervalSeconds != 0 {
		c.Sync.IntervalSeconds = other.Sync.IntervalSeconds
	}
	if other.Sync.InitialDelaySeconds != 0 {
		c.Sync.InitialDelaySeconds = other.Sync.InitialDelaySeconds
	}
	if other.Sync.DebounceMS != 0 {
		c.Sync.DebounceMS = other.Sync.DebounceMS
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RSCODEX_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("RSCODEX_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("RSCODEX_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("RSCODEX_FUSION_MODE"); v != "" {
		c.Search.FusionMode = v
	}
	if v := os.Getenv("RSCODEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RSCODEX_SYNC_INTERVAL_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			c.Sync.IntervalSeconds = s
		}
	}
}

// Validate rejects a configuration that would violate a documented invariant.
func (c *Config) Validate() error {
	if c.Search.FusionMode != "rrf" && c.Search.FusionMode != "weighted" {
		return fmt.Errorf("search.fusion_mode must be 'rrf' or 'weighted', got %s", c.Search.FusionMode)
	}
	if c.Search.FusionMode == "weighted" {
		sum := c.Search.LexicalWeight + c.Search.VectorWeight
		if math.Abs(sum-1.0) > 0.01 {
			return fmt.Errorf("lexical_weight + vector_weight must equal 1.0, got %.2f", sum)
		}
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Search.ChunkSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be debug/info/warn/error, got %s", c.Server.LogLevel)
	}
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive, got %d", c.Sync.IntervalSeconds)
	}
	return nil
}

// WriteYAML persists the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
