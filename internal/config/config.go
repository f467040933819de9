// Package config loads rust-lang-mcp configuration from defaults, YAML files,
// a .env file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-directory configuration file.
const ProjectConfigName = ".rust-lang-mcp.yaml"

// Config is the complete rust-lang-mcp configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Sources    []SourceConfig   `yaml:"sources,omitempty" json:"sources,omitempty"`
}

// SearchConfig configures hybrid search.
type SearchConfig struct {
	// DefaultMode is used when a caller passes no mode.
	DefaultMode string `yaml:"default_mode" json:"default_mode"`
	// DefaultLimit is used when a caller passes no limit.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	// RRFConstant is the k in 1/(k+rank+1). Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// CandidateMultiplier scales limit into the per-backend candidate count.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`
	// SnippetLength is the snippet window in characters.
	SnippetLength int `yaml:"snippet_length" json:"snippet_length"`
}

// LexicalConfig selects and tunes the keyword index backend.
type LexicalConfig struct {
	// Backend is "bleve" (default) or "sqlite" (FTS5).
	Backend       string `yaml:"backend" json:"backend"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// EmbeddingsConfig configures the local ONNX embedding model.
type EmbeddingsConfig struct {
	// Provider is "onnx" (default) or "none" for keyword-only operation.
	Provider     string `yaml:"provider" json:"provider"`
	Model        string `yaml:"model" json:"model"`
	ModelDir     string `yaml:"model_dir" json:"model_dir"`
	ModelURL     string `yaml:"model_url" json:"model_url"`
	TokenizerURL string `yaml:"tokenizer_url" json:"tokenizer_url"`
	Dimensions   int    `yaml:"dimensions" json:"dimensions"`
	MaxSeqLength int    `yaml:"max_seq_length" json:"max_seq_length"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize bounds the query embedding LRU. 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// ONNXLibrary is the onnxruntime shared library path. Empty uses the system default.
	ONNXLibrary     string        `yaml:"onnx_library" json:"onnx_library"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// VectorConfig configures the HNSW graph.
// coder/hnsw has no explicit layer cap; levels are drawn with Ml=0.25, which
// keeps the graph well under 16 layers for any corpus this tool indexes.
type VectorConfig struct {
	M              int `yaml:"m" json:"m"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	EfSearchMin    int `yaml:"ef_search_min" json:"ef_search_min"`

	// ExactSearchLimit is the vector count up to which searches scan every
	// embedding instead of walking the graph.
	ExactSearchLimit int `yaml:"exact_search_limit" json:"exact_search_limit"`
}

// IndexingConfig configures corpus parsing and watching.
type IndexingConfig struct {
	Workers       int    `yaml:"workers" json:"workers"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	MinContentLen int    `yaml:"min_content_len" json:"min_content_len"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name     string `yaml:"name" json:"name"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// SourceConfig declares one documentation source. A non-empty list replaces
// the built-in registry.
type SourceConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Repo string `yaml:"repo" json:"repo"`
	// DocsSubdir is the markdown root inside the clone. Default: "src".
	DocsSubdir string `yaml:"docs_subdir,omitempty" json:"docs_subdir,omitempty"`
}

// NewConfig returns a Config holding the defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: "data",
		Search: SearchConfig{
			DefaultMode:         "hybrid",
			DefaultLimit:        5,
			RRFConstant:         60,
			CandidateMultiplier: 3,
			SnippetLength:       200,
		},
		Lexical: LexicalConfig{
			Backend:       "bleve",
			SQLiteCacheMB: 32,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "onnx",
			Model:           "sentence-transformers/all-MiniLM-L6-v2",
			ModelURL:        "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx",
			TokenizerURL:    "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/tokenizer.json",
			Dimensions:      384,
			MaxSeqLength:    256,
			BatchSize:       32,
			CacheSize:       512,
			DownloadTimeout: 10 * time.Minute,
		},
		Vector: VectorConfig{
			M:                16,
			EfConstruction:   200,
			EfSearchMin:      32,
			ExactSearchLimit: 20000,
		},
		Indexing: IndexingConfig{
			Workers:       runtime.NumCPU(),
			WatchDebounce: "2s",
			MinContentLen: 50,
		},
		Server: ServerConfig{
			Name:     "rust-lang-mcp",
			LogLevel: "info",
		},
	}
}

// IndexDir is where the lexical index lives.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// VectorDir holds vector_index.json.
func (c *Config) VectorDir() string {
	return filepath.Join(c.IndexDir(), "vectors")
}

// ResolvedModelDir returns the model directory, defaulting to <data>/models.
func (c *Config) ResolvedModelDir() string {
	if c.Embeddings.ModelDir != "" {
		return c.Embeddings.ModelDir
	}
	return filepath.Join(c.DataDir, "models")
}

// EmbeddingsEnabled reports whether a model should be loaded at all.
func (c *Config) EmbeddingsEnabled() bool {
	return !strings.EqualFold(c.Embeddings.Provider, "none")
}

// WatchDebounceDuration parses Indexing.WatchDebounce, falling back to 2s.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Indexing.WatchDebounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// GetUserConfigPath follows the XDG base directory layout:
//   - $XDG_CONFIG_HOME/rust-lang-mcp/config.yaml
//   - ~/.config/rust-lang-mcp/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rust-lang-mcp", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rust-lang-mcp", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	path := GetUserConfigPath()
	return path != "" && fileExists(path)
}

// Load reads configuration for the working directory dir.
// Precedence, lowest first:
//  1. defaults
//  2. user config (~/.config/rust-lang-mcp/config.yaml)
//  3. project config (dir/.rust-lang-mcp.yaml)
//  4. dir/.env (never overrides variables already set)
//  5. RUST_MCP_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	projectPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	envPath := filepath.Join(dir, ".env")
	if fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	mergeString(&c.Search.DefaultMode, other.Search.DefaultMode)
	mergeInt(&c.Search.DefaultLimit, other.Search.DefaultLimit)
	mergeInt(&c.Search.RRFConstant, other.Search.RRFConstant)
	mergeInt(&c.Search.CandidateMultiplier, other.Search.CandidateMultiplier)
	mergeInt(&c.Search.SnippetLength, other.Search.SnippetLength)

	mergeString(&c.Lexical.Backend, other.Lexical.Backend)
	mergeInt(&c.Lexical.SQLiteCacheMB, other.Lexical.SQLiteCacheMB)

	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeString(&c.Embeddings.ModelDir, other.Embeddings.ModelDir)
	mergeString(&c.Embeddings.ModelURL, other.Embeddings.ModelURL)
	mergeString(&c.Embeddings.TokenizerURL, other.Embeddings.TokenizerURL)
	mergeString(&c.Embeddings.ONNXLibrary, other.Embeddings.ONNXLibrary)
	mergeInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	mergeInt(&c.Embeddings.MaxSeqLength, other.Embeddings.MaxSeqLength)
	mergeInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	if other.Embeddings.DownloadTimeout != 0 {
		c.Embeddings.DownloadTimeout = other.Embeddings.DownloadTimeout
	}

	mergeInt(&c.Vector.M, other.Vector.M)
	mergeInt(&c.Vector.EfConstruction, other.Vector.EfConstruction)
	mergeInt(&c.Vector.EfSearchMin, other.Vector.EfSearchMin)
	mergeInt(&c.Vector.ExactSearchLimit, other.Vector.ExactSearchLimit)

	mergeInt(&c.Indexing.Workers, other.Indexing.Workers)
	mergeString(&c.Indexing.WatchDebounce, other.Indexing.WatchDebounce)
	mergeInt(&c.Indexing.MinContentLen, other.Indexing.MinContentLen)

	mergeString(&c.Server.Name, other.Server.Name)
	mergeString(&c.Server.LogLevel, other.Server.LogLevel)

	if len(other.Sources) > 0 {
		c.Sources = other.Sources
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies RUST_MCP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RUST_MCP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RUST_MCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RUST_MCP_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("RUST_MCP_SEARCH_MODE"); v != "" {
		c.Search.DefaultMode = v
	}
	if v := os.Getenv("RUST_MCP_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("RUST_MCP_EMBEDDINGS"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			if enabled {
				c.Embeddings.Provider = "onnx"
			} else {
				c.Embeddings.Provider = "none"
			}
		}
	}
	if v := os.Getenv("RUST_MCP_MODEL_DIR"); v != "" {
		c.Embeddings.ModelDir = v
	}
	if v := os.Getenv("RUST_MCP_ONNX_LIB"); v != "" {
		c.Embeddings.ONNXLibrary = v
	}
	if v := os.Getenv("RUST_MCP_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.Workers = n
		}
	}
}

// Validate returns an error describing the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	switch strings.ToLower(c.Search.DefaultMode) {
	case "hybrid", "keyword", "bm25", "semantic", "embedding", "vector":
	default:
		return fmt.Errorf("search.default_mode must be hybrid, keyword or semantic, got %q", c.Search.DefaultMode)
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.CandidateMultiplier <= 0 {
		return fmt.Errorf("search.candidate_multiplier must be positive, got %d", c.Search.CandidateMultiplier)
	}
	if c.Search.SnippetLength <= 0 {
		return fmt.Errorf("search.snippet_length must be positive, got %d", c.Search.SnippetLength)
	}

	switch strings.ToLower(c.Lexical.Backend) {
	case "bleve", "sqlite":
	default:
		return fmt.Errorf("lexical.backend must be 'bleve' or 'sqlite', got %q", c.Lexical.Backend)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "onnx", "none":
	default:
		return fmt.Errorf("embeddings.provider must be 'onnx' or 'none', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.MaxSeqLength <= 0 || c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.max_seq_length and embeddings.batch_size must be positive")
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	if c.Vector.M <= 0 || c.Vector.EfConstruction <= 0 || c.Vector.EfSearchMin <= 0 || c.Vector.ExactSearchLimit <= 0 {
		return fmt.Errorf("vector parameters must be positive")
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" || s.Repo == "" {
			return fmt.Errorf("sources entries need both id and repo")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
	}

	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
