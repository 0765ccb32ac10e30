package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/AmanBhanse/agathon-backend/internal/core/embedding"
	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion/chunk"
	"github.com/AmanBhanse/agathon-backend/internal/core/search"
	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

var (
	// ErrNothingToIndex は文書からチャンクが 1 件も得られなかった場合のエラー
	ErrNothingToIndex = errors.New("document produced no chunks")

	// ErrModelRequired は再 Embedding で別モデルを指定したが Embedder を作れない場合のエラー
	ErrModelRequired = errors.New("no embedder available for requested model")
)

// Config は IndexService の設定
type Config struct {
	Chunking  chunk.Config
	StorePath string
	IndexPath string
	IVF       mo.Option[search.IVFConfig] // 指定時のみ近似検索インデックスを構築する
}

// IndexResult はインデックス化処理の結果を表す
type IndexResult struct {
	BuildID   uuid.UUID
	ModelID   string
	Chunks    int
	Dimension int
	Failed    []int // プレースホルダーで保存したチャンク ID
	Strategy  string
	StorePath string
	Duration  time.Duration
}

// FailureCount はプレースホルダーで保存したチャンク数を返す
func (r *IndexResult) FailureCount() int {
	return len(r.Failed)
}

// IndexService はインデックス化のユースケースを提供する
type IndexService struct {
	embedder  Embedder
	factory   EmbedderFactory
	publisher Publisher
	cfg       Config
	failures  FailureLog
	recorder  Recorder
	logger    *slog.Logger
}

type indexServiceOptions struct {
	factory  EmbedderFactory
	failures FailureLog
	recorder Recorder
	logger   *slog.Logger
}

// IndexServiceOption は IndexService のオプション設定
type IndexServiceOption func(*indexServiceOptions)

// WithIndexLogger は IndexService にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.logger = logger
	}
}

// WithEmbedderFactory は再 Embedding 時に別モデル用の Embedder を作る関数を設定する
func WithEmbedderFactory(factory EmbedderFactory) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.factory = factory
	}
}

// WithFailureLog は Embedding 失敗の記録先を設定する
func WithFailureLog(log FailureLog) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.failures = log
	}
}

// WithIndexRecorder はメトリクス記録先を設定する
func WithIndexRecorder(recorder Recorder) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.recorder = recorder
	}
}

// NewIndexService は新しいIndexServiceを作成する
func NewIndexService(embedder Embedder, publisher Publisher, cfg Config, opts ...IndexServiceOption) (*IndexService, error) {
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	options := indexServiceOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &IndexService{
		embedder:  embedder,
		factory:   options.factory,
		publisher: publisher,
		cfg:       cfg,
		failures:  options.failures,
		recorder:  options.recorder,
		logger:    options.logger,
	}, nil
}

// IndexDocument は文書を分割・Embedding してストアを構築し、永続化・検証後に公開する
// 途中で失敗した場合は公開中のスナップショットを変更しない
func (s *IndexService) IndexDocument(ctx context.Context, doc chunk.Document) (*IndexResult, error) {
	startTime := time.Now()

	s.logger.Info("インデックス化を開始",
		"source", doc.Source,
		"pages", len(doc.Pages),
		"chunkSize", s.cfg.Chunking.Size,
		"overlap", s.cfg.Chunking.Overlap,
		"model", s.embedder.Model(),
	)

	// 1. チャンク分割
	chunks, err := chunk.SplitDocument(doc, s.cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("チャンク分割に失敗: %w", err)
	}
	texts := make([]string, len(chunks))
	hasText := false
	for i, c := range chunks {
		texts[i] = c.Text()
		hasText = hasText || texts[i] != ""
	}
	if !hasText {
		return nil, ErrNothingToIndex
	}
	s.logger.Info("チャンク分割完了", "chunks", len(chunks))

	return s.embedAndPublish(ctx, s.embedder, chunks, texts, startTime)
}

// ReembedParams は再 Embedding のパラメータ
type ReembedParams struct {
	Model string // 空なら現在の Embedder のモデル
}

// Reembed は公開中（無ければ保存済み）のストアの全チャンクを再 Embedding し、新しいストアとして公開する
func (s *IndexService) Reembed(ctx context.Context, params ReembedParams) (*IndexResult, error) {
	startTime := time.Now()

	current, err := s.currentStore()
	if err != nil {
		return nil, err
	}
	if current.Len() == 0 {
		return nil, ErrNothingToIndex
	}

	embedder, err := s.embedderFor(params.Model)
	if err != nil {
		return nil, err
	}

	s.logger.Info("再Embeddingを開始",
		"previousBuildID", current.BuildID().String(),
		"previousModel", current.ModelID(),
		"model", embedder.Model(),
		"chunks", current.Len(),
	)

	return s.embedAndPublish(ctx, embedder, current.Chunks(), current.Texts(), startTime)
}

func (s *IndexService) embedAndPublish(ctx context.Context, embedder Embedder, chunks []chunk.Chunk, texts []string, startTime time.Time) (*IndexResult, error) {
	// 2. Embedding
	batch, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("Embedding生成に失敗: %w", err)
	}
	if batch.FailureCount() > 0 {
		s.logger.Warn("一部のチャンクはプレースホルダーベクトルで保存されます",
			"failed", batch.FailureCount(),
			"total", len(texts),
		)
	}

	// 3. ストア構築
	built, err := store.Build(chunks, batch.Vectors, embedder.Model())
	if err != nil {
		return nil, fmt.Errorf("ストアの構築に失敗: %w", err)
	}

	// 4. 永続化・再読み込み・検証・公開
	snap, err := s.persist(built)
	if err != nil {
		return nil, err
	}

	s.logFailures(built, batch.Failures)

	result := &IndexResult{
		BuildID:   snap.Store.BuildID(),
		ModelID:   snap.Store.ModelID(),
		Chunks:    snap.Store.Len(),
		Dimension: snap.Store.Dimension(),
		Failed:    batch.FailedIndexes(),
		Strategy:  snap.Searcher.Strategy(),
		StorePath: s.cfg.StorePath,
		Duration:  time.Since(startTime),
	}
	if s.recorder != nil {
		s.recorder.ObserveIndex(result.Chunks, result.FailureCount(), result.Duration)
	}

	s.logger.Info("インデックス化完了",
		"buildID", result.BuildID.String(),
		"chunks", result.Chunks,
		"dimension", result.Dimension,
		"failed", result.FailureCount(),
		"strategy", result.Strategy,
		"duration", result.Duration,
	)

	return result, nil
}

// persist はストアを保存し、読み戻した内容を検証してから Holder を差し替える
func (s *IndexService) persist(built *store.Store) (*search.Snapshot, error) {
	if err := store.Save(built, s.cfg.StorePath); err != nil {
		return nil, fmt.Errorf("ストアの保存に失敗: %w", err)
	}

	loaded, err := store.Load(s.cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("保存したストアの読み込みに失敗: %w", err)
	}
	if loaded.BuildID() != built.BuildID() || loaded.Len() != built.Len() || loaded.Dimension() != built.Dimension() {
		return nil, &store.CorruptError{
			Path:   s.cfg.StorePath,
			Reason: "persisted store does not match the built store",
		}
	}

	index := mo.None[*search.IVFIndex]()
	if ivfCfg, ok := s.cfg.IVF.Get(); ok && s.cfg.IndexPath != "" {
		idx, err := search.BuildIVF(loaded, ivfCfg)
		if err != nil {
			return nil, fmt.Errorf("近似検索インデックスの構築に失敗: %w", err)
		}
		if err := search.SaveIndex(idx, s.cfg.IndexPath); err != nil {
			return nil, fmt.Errorf("近似検索インデックスの保存に失敗: %w", err)
		}
		s.logger.Info("近似検索インデックスを保存", "path", s.cfg.IndexPath, "lists", len(idx.Lists))
		index = mo.Some(idx)
	}

	snap := &search.Snapshot{
		Store:    loaded,
		Searcher: search.Select(loaded, index, s.logger),
	}
	if err := s.publisher.Swap(snap); err != nil {
		return nil, fmt.Errorf("スナップショットの差し替えに失敗: %w", err)
	}
	return snap, nil
}

func (s *IndexService) currentStore() (*store.Store, error) {
	if snap, ok := s.publisher.Current().Get(); ok {
		return snap.Store, nil
	}
	loaded, err := store.Load(s.cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("ストアの読み込みに失敗: %w", err)
	}
	return loaded, nil
}

func (s *IndexService) embedderFor(model string) (Embedder, error) {
	if model == "" || model == s.embedder.Model() {
		return s.embedder, nil
	}
	if s.factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelRequired, model)
	}
	e, err := s.factory(model)
	if err != nil {
		return nil, fmt.Errorf("Embedderの作成に失敗: %w", err)
	}
	return e, nil
}

func (s *IndexService) logFailures(built *store.Store, failures []embedding.Failure) {
	if s.failures == nil || len(failures) == 0 {
		return
	}
	failed := make([]FailedChunk, len(failures))
	for i, f := range failures {
		c := built.Chunk(f.Index)
		failed[i] = FailedChunk{
			BuildID: built.BuildID(),
			ModelID: built.ModelID(),
			ChunkID: c.ID(),
			Pages:   c.Pages(),
			Err:     f.Err,
		}
	}
	// 記録に失敗してもストアは公開済みのため警告に留める
	if err := s.failures.LogFailures(failed); err != nil {
		s.logger.Warn("Embedding失敗の記録に失敗", "error", err)
	}
}
