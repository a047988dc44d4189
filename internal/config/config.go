package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int               `json:"port"`
	LogConfig     logger.LogConfig  `json:"log_config"`
	Database      DatabaseConfig    `json:"database"`
	VectorIndex   VectorIndexConfig `json:"vector_index"`
	AI            AIConfig          `json:"ai"`
	Chunking      ChunkingConfig    `json:"chunking"`
	Query         QueryConfig       `json:"query"`
	EmbedCache    EmbedCacheConfig  `json:"embed_cache"`
	Jobs          JobsConfig        `json:"jobs"`
	MaxUploadSize int64             `json:"max_upload_size"`
	CORSOrigins   []string          `json:"cors_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type VectorIndexConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Generate []AIProviderConfig `json:"generate"`
	Embed    []AIProviderConfig `json:"embed"`
	Timeout  int                `json:"timeout"`
}

type ChunkingConfig struct {
	TargetSize int `json:"target_size"`
	Overlap    int `json:"overlap"`
}

type QueryConfig struct {
	TopK              int     `json:"top_k"`
	ScoreThreshold    float32 `json:"score_threshold"`
	AnswerCacheSize   int     `json:"answer_cache_size"`
	AnswerCacheTTLSec int     `json:"answer_cache_ttl_sec"`
	RateLimitMS       int     `json:"rate_limit_ms"`
}

type EmbedCacheConfig struct {
	LRUSize   int  `json:"lru_size"`
	LRUTTLSec int  `json:"lru_ttl_sec"`
	EnableDB  bool `json:"enable_db"`
	DBTTLDays int  `json:"db_ttl_days"`
}

type JobsConfig struct {
	DocumentProcessCron string `json:"document_process_cron"`
	CacheCleanupCron    string `json:"cache_cleanup_cron"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "memory"
	}
	if len(cfg.AI.Embed) == 0 {
		return nil, fmt.Errorf("ai.embed needs at least one provider")
	}
	for i, p := range cfg.AI.Embed {
		if p.Provider == "" || p.Model == "" {
			return nil, fmt.Errorf("ai.embed[%d] provider and model are required", i)
		}
	}
	for i, p := range cfg.AI.Generate {
		if p.Provider == "" || p.Model == "" {
			return nil, fmt.Errorf("ai.generate[%d] provider and model are required", i)
		}
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.Chunking.TargetSize == 0 {
		cfg.Chunking.TargetSize = 1000
		if cfg.Chunking.Overlap == 0 {
			cfg.Chunking.Overlap = 200
		}
	}
	if cfg.Chunking.TargetSize < 0 {
		return nil, fmt.Errorf("chunking.target_size must be positive")
	}
	if cfg.Chunking.Overlap < 0 || cfg.Chunking.Overlap >= cfg.Chunking.TargetSize {
		return nil, fmt.Errorf("chunking.overlap must be in [0, target_size)")
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Query.TopK < 0 {
		return nil, fmt.Errorf("query.top_k must be positive")
	}
	if cfg.Query.ScoreThreshold == 0 {
		cfg.Query.ScoreThreshold = 0.7
	}
	if cfg.Query.ScoreThreshold > 1 {
		return nil, fmt.Errorf("query.score_threshold must not exceed 1")
	}
	if cfg.Query.AnswerCacheSize == 0 {
		cfg.Query.AnswerCacheSize = 256
	}
	if cfg.Query.AnswerCacheTTLSec == 0 {
		cfg.Query.AnswerCacheTTLSec = 60
	}
	if cfg.EmbedCache.LRUSize == 0 {
		cfg.EmbedCache.LRUSize = 1024
	}
	if cfg.EmbedCache.LRUTTLSec == 0 {
		cfg.EmbedCache.LRUTTLSec = 3600
	}
	if cfg.EmbedCache.DBTTLDays == 0 {
		cfg.EmbedCache.DBTTLDays = 30
	}
	if cfg.Jobs.DocumentProcessCron == "" {
		cfg.Jobs.DocumentProcessCron = "*/5 * * * *"
	}
	if cfg.Jobs.CacheCleanupCron == "" {
		cfg.Jobs.CacheCleanupCron = "30 3 * * *"
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 50 * 1024 * 1024
	}
	return &cfg, nil
}
