package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/cinechat/internal/agent"
	"github.com/nidhogg/cinechat/internal/embedding"
	"github.com/nidhogg/cinechat/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Routing   RoutingConfig    `json:"routing"`
	Embedding embedding.Config `json:"embedding"`
	Database  DatabaseConfig   `json:"database"`
	RAG       RAGConfig        `json:"rag"`
	Memory    MemoryConfig     `json:"memory"`
	Agent     AgentConfig      `json:"agent"`
	RateLimit RateLimitConfig  `json:"rate_limit"`
	Breaker   BreakerConfig    `json:"breaker"`
}

type ServerConfig struct {
	Port        int      `json:"port"`
	LogLevel    string   `json:"log_level"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

type ProviderConfig struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Endpoint   string            `json:"endpoint"`
	APIKey     string            `json:"api_key"`
	Model      string            `json:"model"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ToProvider converts to the provider package's config.
func (p ProviderConfig) ToProvider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Model:    p.Model,
		Extra:    p.Extra,
		Timeout:  time.Duration(p.TimeoutSec) * time.Second,
	}
}

type RoutingConfig struct {
	Default   string   `json:"default"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	MaxHistory int    `json:"max_history"`
}

type RedisConfig struct {
	URL          string `json:"url"`
	SeenTTLHours int    `json:"seen_ttl_hours"`
}

// QdrantConfig selects the vector backend. An empty Host keeps vectors
// in process memory.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type RAGConfig struct {
	Collection   string `json:"collection"`
	DocumentsDir string `json:"documents_dir"`
	FileExt      string `json:"file_ext"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	BatchSize    int    `json:"batch_size"`
	Concurrency  int    `json:"concurrency"`
}

type MemoryConfig struct {
	Collection    string  `json:"collection"`
	MinImportance float64 `json:"min_importance"`
	TopK          int     `json:"top_k"`
}

type AgentConfig struct {
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	MaxIterations    int     `json:"max_iterations"`
	SystemPromptFile string  `json:"system_prompt_file,omitempty"`
}

// Options converts to the agent's loop options.
func (a AgentConfig) Options(memoryTopK int) agent.Options {
	return agent.Options{
		Model:         a.Model,
		Temperature:   a.Temperature,
		MaxTokens:     a.MaxTokens,
		MaxIterations: a.MaxIterations,
		MemoryTopK:    memoryTopK,
	}
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

type BreakerConfig struct {
	MaxFailures uint32 `json:"max_failures"`
	TimeoutSec  int    `json:"timeout_sec"`
}

// ToProvider converts to the router's breaker settings.
func (b BreakerConfig) ToProvider() provider.BreakerConfig {
	return provider.BreakerConfig{
		MaxFailures: b.MaxFailures,
		Timeout:     time.Duration(b.TimeoutSec) * time.Second,
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes JSON config bytes, expanding ${VAR} references and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 1536
	}
	if c.Database.Postgres.MaxHistory == 0 {
		c.Database.Postgres.MaxHistory = 20
	}
	if c.Database.Redis.SeenTTLHours == 0 {
		c.Database.Redis.SeenTTLHours = 24
	}
	if c.Database.Qdrant.Host != "" && c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = "movies"
	}
	if c.RAG.DocumentsDir == "" {
		c.RAG.DocumentsDir = "data"
	}
	if c.RAG.FileExt == "" {
		c.RAG.FileExt = ".pdf"
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 700
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 120
	}
	if c.Memory.Collection == "" {
		c.Memory.Collection = "conversation_memories"
	}
	if c.Memory.MinImportance == 0 {
		c.Memory.MinImportance = 0.3
	}
	if c.Memory.TopK == 0 {
		c.Memory.TopK = 3
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 2048
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 8
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 3
	}
	if c.Breaker.TimeoutSec == 0 {
		c.Breaker.TimeoutSec = 30
	}
}
