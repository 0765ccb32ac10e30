package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/mo"
)

var (
	// ErrMissingRequired は必須の設定値が無い場合のエラー
	ErrMissingRequired = errors.New("missing required configuration")

	// ErrInvalidValue は設定値が範囲外の場合のエラー
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	OpenAI    OpenAIConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Store     StoreConfig
	Retrieval RetrievalConfig
	Database  DatabaseConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	AzureEndpoint      string
	AzureAPIVersion    string
	EmbeddingModel     string
	EmbeddingDimension int // 0 ならモデルの既定次元
	LLMModel           string
	Temperature        float64
	MaxTokens          int
	ContextTokens      int // ユーザープロンプトのトークン上限（0 なら無制限）
}

// EmbeddingConfig はバッチ Embedding の設定
type EmbeddingConfig struct {
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
}

// ChunkingConfig はチャンク分割の設定（文字数単位）
type ChunkingConfig struct {
	Size    int
	Overlap int
}

// StoreConfig はベクトルストアと近似検索インデックスの設定
type StoreConfig struct {
	Path       string
	IndexPath  string // 空なら Path + ".ivf.json"
	IVFEnabled bool
	IVFNList   int // 0 なら件数から自動決定
	IVFNProbe  int
}

// RetrievalConfig は問い合わせ時の設定
type RetrievalConfig struct {
	TopK            int
	Threshold       mo.Option[float64]
	ContextChunks   int
	PreviewLength   int
	QueryCacheSize  int // 0 ならキャッシュしない
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

// DatabaseConfig はpgvectorミラー用のデータベース接続設定
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig はメトリクス出力の設定
type MetricsConfig struct {
	TextfilePath string
}

// Load は環境変数または.envファイルから設定を読み込みます
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
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			AzureEndpoint:      getEnv("AZURE_OPENAI_ENDPOINT", ""),
			AzureAPIVersion:    getEnv("AZURE_OPENAI_API_VERSION", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-large"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 0),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			Temperature:        getEnvAsFloat("OPENAI_LLM_TEMPERATURE", 0.3),
			MaxTokens:          getEnvAsInt("OPENAI_LLM_MAX_TOKENS", 1000),
			ContextTokens:      getEnvAsInt("OPENAI_CONTEXT_TOKENS", 0),
		},
		Embedding: EmbeddingConfig{
			BatchSize:   getEnvAsInt("EMBEDDING_BATCH_SIZE", 16),
			BatchDelay:  getEnvAsDuration("EMBEDDING_BATCH_DELAY", 100*time.Millisecond),
			Concurrency: getEnvAsInt("EMBEDDING_CONCURRENCY", 1),
		},
		Chunking: ChunkingConfig{
			Size:    getEnvAsInt("CHUNK_SIZE", 1200),
			Overlap: getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		Store: StoreConfig{
			Path:       getEnv("RAG_STORE_PATH", "data/guideline_store.json"),
			IndexPath:  getEnv("RAG_INDEX_PATH", ""),
			IVFEnabled: getEnvAsBool("RAG_IVF_ENABLED", false),
			IVFNList:   getEnvAsInt("RAG_IVF_NLIST", 0),
			IVFNProbe:  getEnvAsInt("RAG_IVF_NPROBE", 4),
		},
		Retrieval: RetrievalConfig{
			TopK:            getEnvAsInt("RETRIEVAL_TOP_K", 5),
			Threshold:       getEnvAsOptionalFloat("RETRIEVAL_THRESHOLD"),
			ContextChunks:   getEnvAsInt("RETRIEVAL_CONTEXT_CHUNKS", 0),
			PreviewLength:   getEnvAsInt("RETRIEVAL_PREVIEW_LENGTH", 300),
			QueryCacheSize:  getEnvAsInt("RETRIEVAL_QUERY_CACHE_SIZE", 256),
			EmbedTimeout:    getEnvAsDuration("RETRIEVAL_EMBED_TIMEOUT", 30*time.Second),
			GenerateTimeout: getEnvAsDuration("RETRIEVAL_GENERATE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "agathon"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "agathon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			TextfilePath: getEnv("METRICS_TEXTFILE", ""),
		},
	}

	if cfg.Store.IndexPath == "" {
		cfg.Store.IndexPath = cfg.Store.Path + ".ivf.json"
	}

	return cfg, nil
}

// Validate は設定値を検証します
// 問題はすべてまとめて返す
func (c *Config) Validate() error {
	var errs []error

	if c.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired))
	}
	if c.OpenAI.AzureEndpoint != "" && c.OpenAI.AzureAPIVersion == "" {
		errs = append(errs, fmt.Errorf("%w: AZURE_OPENAI_API_VERSION", ErrMissingRequired))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("%w: RAG_STORE_PATH", ErrMissingRequired))
	}

	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("%w: CHUNK_SIZE=%d CHUNK_OVERLAP=%d", ErrInvalidValue, c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: EMBEDDING_BATCH_SIZE=%d", ErrInvalidValue, c.Embedding.BatchSize))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("%w: RETRIEVAL_TOP_K=%d", ErrInvalidValue, c.Retrieval.TopK))
	}
	if t, ok := c.Retrieval.Threshold.Get(); ok && (t < -1 || t > 1) {
		errs = append(errs, fmt.Errorf("%w: RETRIEVAL_THRESHOLD=%g", ErrInvalidValue, t))
	}

	return errors.Join(errs...)
}

// ValidateDatabase はpgvectorミラーの接続設定を検証します
func (c *Config) ValidateDatabase() error {
	var errs []error
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("%w: DB_HOST", ErrMissingRequired))
	}
	if c.Database.User == "" {
		errs = append(errs, fmt.Errorf("%w: DB_USER", ErrMissingRequired))
	}
	if c.Database.DBName == "" {
		errs = append(errs, fmt.Errorf("%w: DB_NAME", ErrMissingRequired))
	}
	return errors.Join(errs...)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
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

// getEnvAsFloat は環境変数を浮動小数点数として取得します
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

// getEnvAsOptionalFloat は環境変数を任意の浮動小数点数として取得します
func getEnvAsOptionalFloat(key string) mo.Option[float64] {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return mo.None[float64]()
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return mo.None[float64]()
	}
	return mo.Some(value)
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "100ms", "30s"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
