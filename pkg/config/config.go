package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// グローバル変数は持たず、Load の戻り値を依存として引き回す。
type Config struct {
	// ログ設定
	Log LogConfig

	// Database設定
	Database DatabaseConfig

	// ナレッジストアの種別（"postgres" | "memory"）
	Store string

	// Embeddingプロバイダ設定
	Embedding EmbeddingConfig

	// OpenAI設定（Embeddings + 回答生成）
	OpenAI OpenAIConfig

	// 検索設定
	Search SearchConfig

	// 回答合成設定
	Answer AnswerConfig
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN はpgx用の接続文字列を返す
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// EmbeddingConfig はEmbeddingプロバイダ設定
type EmbeddingConfig struct {
	Provider     string // "openai" | "local" | "anthropic"
	MaxBatchSize int
	CacheTTL     string // Goのduration表記（例 "1h"）
}

// OpenAIConfig はOpenAI API設定（Embeddings + 回答生成）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	CompletionModel    string
}

// SearchConfig は検索実行設定
type SearchConfig struct {
	TopK                int
	CandidateMultiplier int
	SimilarityThreshold float64
	VectorWeight        float64
	LexicalWeight       float64
	ResultCacheTTL      string // Goのduration表記（例 "5m"）
}

// AnswerConfig は回答合成設定
type AnswerConfig struct {
	MaxContextTokens int
	MaxAnswerTokens  int
}

// Load は環境変数または.envファイルから設定を読み込む
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "kbrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "kbrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Store: getEnv("KB_STORE", "postgres"),
		Embedding: EmbeddingConfig{
			Provider:     getEnv("EMBEDDING_PROVIDER", "local"),
			MaxBatchSize: getEnvAsInt("EMBEDDING_MAX_BATCH_SIZE", 100),
			CacheTTL:     getEnv("EMBEDDING_CACHE_TTL", "1h"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			CompletionModel:    getEnv("OPENAI_COMPLETION_MODEL", "gpt-4o-mini"),
		},
		Search: SearchConfig{
			TopK:                getEnvAsInt("TOP_K", 5),
			CandidateMultiplier: getEnvAsInt("NUM_CANDIDATES_MULTIPLIER", 10),
			SimilarityThreshold: getEnvAsFloat("SIMILARITY_THRESHOLD", 0.6),
			VectorWeight:        getEnvAsFloat("HYBRID_VECTOR_WEIGHT", 0.7),
			LexicalWeight:       getEnvAsFloat("HYBRID_LEXICAL_WEIGHT", 0.3),
			ResultCacheTTL:      getEnv("SEARCH_CACHE_TTL", "5m"),
		},
		Answer: AnswerConfig{
			MaxContextTokens: getEnvAsInt("MAX_CONTEXT_TOKENS", 3000),
			MaxAnswerTokens:  getEnvAsInt("MAX_ANSWER_TOKENS", 1000),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返す
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得する
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得する
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
