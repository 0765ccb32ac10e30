package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/mo"

	coreask "github.com/AmanBhanse/agathon-backend/internal/core/ask"
	"github.com/AmanBhanse/agathon-backend/internal/core/embedding"
	coreingestion "github.com/AmanBhanse/agathon-backend/internal/core/ingestion"
	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion/chunk"
	coresearch "github.com/AmanBhanse/agathon-backend/internal/core/search"
	"github.com/AmanBhanse/agathon-backend/internal/infra/failurelog"
	"github.com/AmanBhanse/agathon-backend/internal/infra/openai"
	"github.com/AmanBhanse/agathon-backend/internal/infra/postgres"
	"github.com/AmanBhanse/agathon-backend/internal/platform/config"
	"github.com/AmanBhanse/agathon-backend/internal/platform/metrics"
)

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Holder       *coresearch.Holder
	IndexService *coreingestion.IndexService
	AskService   *coreask.AskService
	Metrics      *metrics.Metrics
	Mirror       *postgres.Mirror // DB 無効時は nil

	cfg      *config.Config
	logger   *slog.Logger
	database *postgres.DB
}

type containerOptions struct {
	logger    *slog.Logger
	provider  embedding.Provider
	generator coreask.Generator
	database  *postgres.DB
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerProvider は Embedding プロバイダーを差し替える
func WithContainerProvider(provider embedding.Provider) ContainerOption {
	return func(opts *containerOptions) {
		opts.provider = provider
	}
}

// WithContainerGenerator は回答生成クライアントを差し替える
func WithContainerGenerator(generator coreask.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerDatabase は既存のデータベース接続を使う
func WithContainerDatabase(db *postgres.DB) ContainerOption {
	return func(opts *containerOptions) {
		opts.database = db
	}
}

// NewContainer は設定からコンテナを生成する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	creds := openai.Credentials{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		AzureEndpoint:   cfg.OpenAI.AzureEndpoint,
		AzureAPIVersion: cfg.OpenAI.AzureAPIVersion,
	}

	// Embedding プロバイダー (OpenAI)
	provider := options.provider
	if provider == nil {
		embedder, err := openai.NewEmbedder(creds, openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension))
		if err != nil {
			return nil, fmt.Errorf("Embedderの初期化に失敗: %w", err)
		}
		provider = embedder
	}

	newBatchEmbedder := func(model string) (*embedding.BatchEmbedder, error) {
		return embedding.NewBatchEmbedder(provider, model,
			embedding.WithBatchSize(cfg.Embedding.BatchSize),
			embedding.WithBatchDelay(cfg.Embedding.BatchDelay),
			embedding.WithConcurrency(cfg.Embedding.Concurrency),
			embedding.WithDimension(cfg.OpenAI.EmbeddingDimension),
			embedding.WithEmbedderLogger(logger),
		)
	}
	batchEmbedder, err := newBatchEmbedder(cfg.OpenAI.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("BatchEmbedderの初期化に失敗: %w", err)
	}

	// 回答生成 (OpenAI)
	generator := options.generator
	if generator == nil {
		generator, err = newGenerator(creds, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	holder := coresearch.NewHolder()
	m := metrics.New()

	indexCfg := coreingestion.Config{
		Chunking:  chunk.Config{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap},
		StorePath: cfg.Store.Path,
		IndexPath: cfg.Store.IndexPath,
		IVF:       mo.None[coresearch.IVFConfig](),
	}
	if cfg.Store.IVFEnabled {
		indexCfg.IVF = mo.Some(coresearch.IVFConfig{
			NList:      cfg.Store.IVFNList,
			NProbe:     cfg.Store.IVFNProbe,
			Iterations: coresearch.DefaultIVFIterations,
		})
	}
	indexService, err := coreingestion.NewIndexService(batchEmbedder, holder, indexCfg,
		coreingestion.WithIndexLogger(logger),
		coreingestion.WithEmbedderFactory(func(model string) (coreingestion.Embedder, error) {
			return newBatchEmbedder(model)
		}),
		coreingestion.WithFailureLog(failurelog.NewWriter(failurelog.PathFor(cfg.Store.Path), logger)),
		coreingestion.WithIndexRecorder(m),
	)
	if err != nil {
		return nil, fmt.Errorf("IndexServiceの初期化に失敗: %w", err)
	}

	askOpts := []coreask.AskServiceOption{
		coreask.WithAskLogger(logger),
		coreask.WithAskConfig(coreask.Config{
			DefaultTopK:        cfg.Retrieval.TopK,
			RelevanceThreshold: cfg.Retrieval.Threshold,
			ContextChunks:      cfg.Retrieval.ContextChunks,
			PreviewLength:      cfg.Retrieval.PreviewLength,
			Model:              cfg.OpenAI.LLMModel,
			Temperature:        cfg.OpenAI.Temperature,
			MaxTokens:          cfg.OpenAI.MaxTokens,
			EmbedTimeout:       cfg.Retrieval.EmbedTimeout,
			GenerateTimeout:    cfg.Retrieval.GenerateTimeout,
		}),
		coreask.WithAskRecorder(m),
	}
	if cfg.Retrieval.QueryCacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.Retrieval.QueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("クエリキャッシュの初期化に失敗: %w", err)
		}
		askOpts = append(askOpts, coreask.WithQueryCache(cache))
	}
	askService := coreask.NewAskService(batchEmbedder, holder, generator, askOpts...)

	c := &ServiceContainer{
		Holder:       holder,
		IndexService: indexService,
		AskService:   askService,
		Metrics:      m,
		cfg:          cfg,
		logger:       logger,
		database:     options.database,
	}

	// pgvector ミラー（任意）
	if c.database == nil && cfg.Database.Enabled {
		db, err := OpenDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.database = db
	}
	if c.database != nil {
		c.Mirror = postgres.NewMirror(c.database, logger)
	}

	return c, nil
}

// OpenDatabase は設定からpgvectorミラー用の接続を作成する
func OpenDatabase(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	db, err := postgres.New(ctx, postgres.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	return db, nil
}

func newGenerator(creds openai.Credentials, cfg *config.Config, logger *slog.Logger) (*openai.Client, error) {
	clientOpts := []openai.ClientOption{
		openai.WithModel(cfg.OpenAI.LLMModel),
		openai.WithTimeout(cfg.Retrieval.GenerateTimeout),
		openai.WithClientLogger(logger),
	}
	if cfg.OpenAI.ContextTokens > 0 {
		counter, err := openai.NewTokenCounter()
		if err != nil {
			// エンコーディングを取得できない環境ではトークン上限なしで動作する
			logger.Warn("トークンカウンターの初期化に失敗", "error", err)
		} else {
			clientOpts = append(clientOpts, openai.WithPromptTokenLimit(counter, cfg.OpenAI.ContextTokens))
		}
	}

	client, err := openai.NewClient(creds, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("LLMクライアントの初期化に失敗: %w", err)
	}
	return client, nil
}

// LoadSnapshot は保存済みのストアを読み込んで Holder に公開する
// pgvector ミラーが同じ版を保持していれば、そちらで検索する
func (c *ServiceContainer) LoadSnapshot(ctx context.Context) (*coresearch.Snapshot, error) {
	snap, err := coresearch.Open(c.cfg.Store.Path, c.cfg.Store.IndexPath, c.logger)
	if err != nil {
		return nil, err
	}

	if c.database != nil {
		pgSearcher, err := postgres.NewSearcher(ctx, c.database, snap.Store)
		switch {
		case err == nil:
			snap.Searcher = pgSearcher
			c.logger.Info("pgvectorミラーで検索します", "buildID", snap.Store.BuildID().String())
		case errors.Is(err, coresearch.ErrStaleIndex):
			c.logger.Warn("pgvectorミラーがストアと一致しないため、ローカル検索を使用します", "buildID", snap.Store.BuildID().String())
		default:
			c.logger.Warn("pgvectorミラーの確認に失敗", "error", err)
		}
	}

	if err := c.Holder.Swap(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Config は設定を返す
func (c *ServiceContainer) Config() *config.Config {
	return c.cfg
}

// Database はpgvectorミラー用の接続を返す（無効時は nil）
func (c *ServiceContainer) Database() *postgres.DB {
	return c.database
}

// Close は内部リソースを解放し、メトリクスを書き出す
func (c *ServiceContainer) Close() {
	if err := c.Metrics.WriteTextfile(c.cfg.Metrics.TextfilePath); err != nil {
		c.logger.Warn("メトリクスの書き出しに失敗", "error", err)
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
