package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Redis     RedisConfig     `json:"redis"`
	Vector    VectorConfig    `json:"vector"`
	Embedder  EmbedderConfig  `json:"embedder"`
	LLM       LLMConfig       `json:"llm"`
	Reranker  RerankerConfig  `json:"reranker"`
	WebSearch WebSearchConfig `json:"web_search"`
	Pipeline  PipelineConfig  `json:"pipeline"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	JWKSURL        string   `json:"jwks_url"`
	AllowedIssuers []string `json:"allowed_issuers"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type RedisConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	AnalysisTTL  int    `json:"analysis_ttl"`    // TTL for cached task analyses in seconds
	WebSearchTTL int    `json:"web_search_ttl"`  // TTL for cached web-search results in seconds
	EnableCache  bool   `json:"enable_cache"`
}

// VectorConfig selects and configures the vector index backend.
// Backend is one of "pgvector" or "memory".
type VectorConfig struct {
	Backend   string `json:"backend"`
	DSN       string `json:"dsn"`
	Dimension int    `json:"dimension"`
	MaxConns  int    `json:"max_conns"`
}

type EmbedderConfig struct {
	Provider   string `json:"provider"` // "openai"
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	BatchSize  int    `json:"batch_size"`
	MaxRetries int    `json:"max_retries"`
}

// LLMConfig selects the chat backend used by the task analyzer, the
// compressor's summarizer and the LLM-as-judge reranker.
type LLMConfig struct {
	Provider    string  `json:"provider"` // "openai", "anthropic" or ""
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

// RerankerConfig selects the cross-encoder variant.
// Provider is one of "dedicated", "llm" or "off".
type RerankerConfig struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	TopN     int    `json:"top_n"`
}

type WebSearchConfig struct {
	TavilyAPIKey     string  `json:"tavily_api_key"`
	SerperAPIKey     string  `json:"serper_api_key"`
	MaxQueriesPerRun int     `json:"max_queries_per_run"`
	SearchDepth      string  `json:"search_depth"`
	RequestsPerSec   float64 `json:"requests_per_sec"`
	Timeout          int     `json:"timeout"`
}

// PipelineConfig carries the tailoring pipeline's tunable weights and caps.
type PipelineConfig struct {
	SemanticWeight float64 `json:"semantic_weight"`
	KeywordWeight  float64 `json:"keyword_weight"`
	RerankWeight   float64 `json:"rerank_weight"`
	WideTopK       int     `json:"wide_top_k"`
	FanOutLimit    int     `json:"fan_out_limit"`
	RequestTimeout int     `json:"request_timeout"`
	MaxUploadBytes int64   `json:"max_upload_bytes"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "tailor"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "context_tailor"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			JWKSURL:        getEnv("JWKS_URL", ""),
			AllowedIssuers: getEnvAsSlice("JWT_ALLOWED_ISSUERS", nil),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", ""),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			AnalysisTTL:  getEnvAsInt("REDIS_ANALYSIS_TTL", 1800),
			WebSearchTTL: getEnvAsInt("REDIS_WEB_SEARCH_TTL", 900),
			EnableCache:  getEnvAsBool("REDIS_ENABLE_CACHE", true),
		},
		Vector: VectorConfig{
			Backend:   getEnv("VECTOR_BACKEND", "pgvector"),
			DSN:       getEnv("VECTOR_DSN", ""),
			Dimension: getEnvAsInt("VECTOR_DIMENSION", 1536),
			MaxConns:  getEnvAsInt("VECTOR_MAX_CONNS", 10),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnv("EMBEDDER_PROVIDER", "openai"),
			APIKey:     getEnv("EMBEDDER_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:    getEnv("EMBEDDER_BASE_URL", ""),
			Model:      getEnv("EMBEDDER_MODEL", "text-embedding-3-small"),
			Dimension:  getEnvAsInt("EMBEDDER_DIMENSION", 1536),
			BatchSize:  getEnvAsInt("EMBEDDER_BATCH_SIZE", 64),
			MaxRetries: getEnvAsInt("EMBEDDER_MAX_RETRIES", 3),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			APIKey:      getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 2000),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvAsInt("LLM_TIMEOUT", 30),
		},
		Reranker: RerankerConfig{
			Provider: getEnv("RERANKER_PROVIDER", "off"),
			BaseURL:  getEnv("RERANKER_BASE_URL", ""),
			APIKey:   getEnv("RERANKER_API_KEY", ""),
			Model:    getEnv("RERANKER_MODEL", ""),
			TopN:     getEnvAsInt("RERANKER_TOP_N", 20),
		},
		WebSearch: WebSearchConfig{
			TavilyAPIKey:     getEnv("TAVILY_API_KEY", ""),
			SerperAPIKey:     getEnv("SERPER_API_KEY", ""),
			MaxQueriesPerRun: getEnvAsInt("WEB_SEARCH_MAX_QUERIES", 3),
			SearchDepth:      getEnv("WEB_SEARCH_DEPTH", "basic"),
			RequestsPerSec:   getEnvAsFloat("WEB_SEARCH_RPS", 2.0),
			Timeout:          getEnvAsInt("WEB_SEARCH_TIMEOUT", 15),
		},
		Pipeline: PipelineConfig{
			SemanticWeight: getEnvAsFloat("PIPELINE_SEMANTIC_WEIGHT", 0.7),
			KeywordWeight:  getEnvAsFloat("PIPELINE_KEYWORD_WEIGHT", 0.3),
			RerankWeight:   getEnvAsFloat("PIPELINE_RERANK_WEIGHT", 0.5),
			WideTopK:       getEnvAsInt("PIPELINE_WIDE_TOP_K", 40),
			FanOutLimit:    getEnvAsInt("PIPELINE_FAN_OUT_LIMIT", 8),
			RequestTimeout: getEnvAsInt("PIPELINE_REQUEST_TIMEOUT", 60),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 20*1024*1024)),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.Auth.JWTSecret == "" && config.Auth.JWKSURL == "" {
		return fmt.Errorf("either JWT_SECRET or JWKS_URL is required")
	}

	switch config.Vector.Backend {
	case "pgvector", "memory":
	default:
		return fmt.Errorf("unknown vector backend %q (VECTOR_BACKEND)", config.Vector.Backend)
	}

	switch config.Reranker.Provider {
	case "dedicated", "llm", "off":
	default:
		return fmt.Errorf("unknown reranker provider %q (RERANKER_PROVIDER)", config.Reranker.Provider)
	}

	if config.Vector.Backend == "pgvector" && config.Vector.DSN == "" {
		// Fall back to the metadata database.
		config.Vector.DSN = config.GetDatabaseDSN()
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
