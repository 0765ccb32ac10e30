package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv はテスト中に読み込まれる環境変数を空にする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_VERSION",
		"OPENAI_EMBEDDING_MODEL", "OPENAI_EMBEDDING_DIMENSION", "OPENAI_LLM_MODEL",
		"OPENAI_LLM_TEMPERATURE", "OPENAI_LLM_MAX_TOKENS", "OPENAI_CONTEXT_TOKENS",
		"EMBEDDING_BATCH_SIZE", "EMBEDDING_BATCH_DELAY", "EMBEDDING_CONCURRENCY",
		"CHUNK_SIZE", "CHUNK_OVERLAP",
		"RAG_STORE_PATH", "RAG_INDEX_PATH", "RAG_IVF_ENABLED", "RAG_IVF_NLIST", "RAG_IVF_NPROBE",
		"RETRIEVAL_TOP_K", "RETRIEVAL_THRESHOLD", "RETRIEVAL_CONTEXT_CHUNKS", "RETRIEVAL_PREVIEW_LENGTH",
		"RETRIEVAL_QUERY_CACHE_SIZE", "RETRIEVAL_EMBED_TIMEOUT", "RETRIEVAL_GENERATE_TIMEOUT",
		"DB_ENABLED", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"LOG_LEVEL", "LOG_FORMAT", "METRICS_TEXTFILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-large", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.LLMModel)
	assert.Equal(t, 0.3, cfg.OpenAI.Temperature)
	assert.Equal(t, 1000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Embedding.BatchDelay)
	assert.Equal(t, 1200, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.Threshold.IsAbsent())
	assert.Equal(t, 300, cfg.Retrieval.PreviewLength)
	assert.Equal(t, "data/guideline_store.json.ivf.json", cfg.Store.IndexPath)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "OPENAI_API_KEY=sk-test\n" +
		"CHUNK_SIZE=800\n" +
		"EMBEDDING_BATCH_DELAY=250ms\n" +
		"RETRIEVAL_THRESHOLD=0.15\n" +
		"RAG_IVF_ENABLED=true\n" +
		"RAG_INDEX_PATH=/tmp/index.json\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	// godotenv.Load は既存の環境変数を上書きしないため、空にした値は Unsetenv する
	for _, key := range []string{"OPENAI_API_KEY", "CHUNK_SIZE", "EMBEDDING_BATCH_DELAY", "RETRIEVAL_THRESHOLD", "RAG_IVF_ENABLED", "RAG_INDEX_PATH"} {
		require.NoError(t, os.Unsetenv(key))
	}
	t.Cleanup(func() {
		for _, key := range []string{"OPENAI_API_KEY", "CHUNK_SIZE", "EMBEDDING_BATCH_DELAY", "RETRIEVAL_THRESHOLD", "RAG_IVF_ENABLED", "RAG_INDEX_PATH"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.BatchDelay)
	assert.Equal(t, 0.15, cfg.Retrieval.Threshold.MustGet())
	assert.True(t, cfg.Store.IVFEnabled)
	assert.Equal(t, "/tmp/index.json", cfg.Store.IndexPath)
}

func TestLoad_MissingEnvFileIsTolerated(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHUNK_SIZE", "abc")
	t.Setenv("RETRIEVAL_THRESHOLD", "high")
	t.Setenv("RETRIEVAL_EMBED_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Chunking.Size)
	assert.True(t, cfg.Retrieval.Threshold.IsAbsent())
	assert.Equal(t, 30*time.Second, cfg.Retrieval.EmbedTimeout)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	t.Run("APIキー未設定", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.ErrorIs(t, cfg.Validate(), ErrMissingRequired)
	})

	t.Run("正常", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("重なりがサイズ以上", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("CHUNK_SIZE", "100")
		t.Setenv("CHUNK_OVERLAP", "100")
		cfg, err := Load("")
		require.NoError(t, err)
		err = cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.NotErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("Azureはバージョン必須", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.ErrorIs(t, cfg.Validate(), ErrMissingRequired)
	})
}

func TestValidateDatabase(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateDatabase())

	cfg.Database.Host = ""
	assert.ErrorIs(t, cfg.ValidateDatabase(), ErrMissingRequired)
}
