package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Search    SearchConfig    `mapstructure:"search"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Mail      MailConfig      `mapstructure:"mail"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

// LLMConfig selects and configures completion providers.
type LLMConfig struct {
	Provider  string                       `mapstructure:"provider"`
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
}

// LLMProviderConfig is a single completion provider entry.
type LLMProviderConfig struct {
	Type        string        `mapstructure:"type"` // groq, openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AgentConfig bounds the reasoning loop and the shared call governor.
type AgentConfig struct {
	MaxIterations   int           `mapstructure:"max_iterations"`
	HistoryTurns    int           `mapstructure:"history_turns"`
	RateLimitCalls  int           `mapstructure:"rate_limit_calls"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Provider   string        `mapstructure:"provider"` // tavily, serper, brave
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// KnowledgeConfig controls document chunking and the retrieval index.
type KnowledgeConfig struct {
	IndexPath    string `mapstructure:"index_path"` // empty = in-memory
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
	MaxUploadMB  int    `mapstructure:"max_upload_mb"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings. Host empty disables Redis.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// MailConfig configures the outbound mailer. Empty host falls back to logging.
type MailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	ResetURL string `mapstructure:"reset_url"`
}

// RetentionConfig drives the background cleanup schedule.
type RetentionConfig struct {
	Cron          string        `mapstructure:"cron"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	ResetTokenTTL time.Duration `mapstructure:"reset_token_ttl"`
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("server.token_ttl", "24h")
	viper.SetDefault("server.allow_origins", []string{"*"})
	viper.SetDefault("llm.provider", "groq")
	viper.SetDefault("agent.max_iterations", 20)
	viper.SetDefault("agent.history_turns", 5)
	viper.SetDefault("agent.rate_limit_calls", 20)
	viper.SetDefault("agent.rate_limit_window", "60s")
	viper.SetDefault("search.provider", "tavily")
	viper.SetDefault("search.max_results", 3)
	viper.SetDefault("search.timeout", "20s")
	viper.SetDefault("knowledge.chunk_size", 1000)
	viper.SetDefault("knowledge.chunk_overlap", 200)
	viper.SetDefault("knowledge.top_k", 4)
	viper.SetDefault("knowledge.max_upload_mb", 10)
	viper.SetDefault("retention.cron", "0 3 * * *")
	viper.SetDefault("retention.session_ttl", "2160h") // 90 days
	viper.SetDefault("retention.reset_token_ttl", "1h")
}

// LoadConfig reads configuration from the given file (JSON), falling back to
// ./config.json, with VAULTMIND_* environment overrides. A missing file is
// not an error; defaults and env vars still apply.
func LoadConfig(path string) (*Config, error) {
	viper.Reset()
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("VAULTMIND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Printf("[CONFIG] no config file found, using defaults and environment")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = 20
	}
	if cfg.Agent.HistoryTurns <= 0 {
		cfg.Agent.HistoryTurns = 5
	}
	return &cfg, nil
}
