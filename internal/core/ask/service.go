package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/mo"

	"github.com/AmanBhanse/agathon-backend/internal/core/search"
)

// QueryEmbedder はクエリ文をベクトルに変換する
// model には検索対象ストアの model_id が渡される
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text, model string) ([]float32, error)
}

// SnapshotSource は現在の検索スナップショットを提供する
type SnapshotSource interface {
	Current() mo.Option[*search.Snapshot]
}

// GenerationRequest は回答生成の入力
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Question と Context は UserPrompt の構成要素。予算超過時は Context のみを削る
	Question    string
	Context     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator は外部の生成モデルとの境界
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Recorder は問い合わせ結果を計測する
type Recorder interface {
	ObserveQuery(outcome string, elapsed time.Duration)
}

// Config は AskService の既定値
type Config struct {
	DefaultTopK        int
	RelevanceThreshold mo.Option[float64]
	ContextChunks      int // コンテキストに含める最大チャンク数（0 なら全件）
	PreviewLength      int
	Model              string
	Temperature        float64
	MaxTokens          int
	EmbedTimeout       time.Duration
	GenerateTimeout    time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		DefaultTopK:        5,
		RelevanceThreshold: mo.None[float64](),
		PreviewLength:      300,
		Model:              "gpt-4o-mini",
		Temperature:        0.3,
		MaxTokens:          1000,
		EmbedTimeout:       30 * time.Second,
		GenerateTimeout:    60 * time.Second,
	}
}

// AskService は質問応答のビジネスロジックを提供する
type AskService struct {
	embedder  QueryEmbedder
	snapshots SnapshotSource
	generator Generator
	cfg       Config
	cache     *lru.Cache[string, []float32]
	recorder  Recorder
	logger    *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// WithAskConfig は既定値を差し替える
func WithAskConfig(cfg Config) AskServiceOption {
	return func(s *AskService) {
		s.cfg = cfg
	}
}

// WithQueryCache はクエリ Embedding の LRU キャッシュを設定する
func WithQueryCache(cache *lru.Cache[string, []float32]) AskServiceOption {
	return func(s *AskService) {
		s.cache = cache
	}
}

// WithAskRecorder はメトリクス記録先を設定する
func WithAskRecorder(recorder Recorder) AskServiceOption {
	return func(s *AskService) {
		s.recorder = recorder
	}
}

// NewAskService は新しいAskServiceを作成する
func NewAskService(
	embedder QueryEmbedder,
	snapshots SnapshotSource,
	generator Generator,
	opts ...AskServiceOption,
) *AskService {
	svc := &AskService{
		embedder:  embedder,
		snapshots: snapshots,
		generator: generator,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.cfg.DefaultTopK <= 0 {
		svc.cfg.DefaultTopK = DefaultConfig().DefaultTopK
	}

	return svc
}

// RetrieveParams は検索のみを行う場合のパラメータ
type RetrieveParams struct {
	Question  string
	TopK      int
	Threshold mo.Option[float64]
}

// Retrieval は検索段階までの結果
type Retrieval struct {
	Ranked   []RankedChunk
	Strategy string
	BuildID  uuid.UUID
}

// Retrieve はクエリの Embedding・類似度検索・閾値フィルタまでを実行する
func (s *AskService) Retrieve(ctx context.Context, params RetrieveParams) (*Retrieval, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	snap, ok := s.snapshots.Current().Get()
	if !ok {
		return nil, ErrStoreNotLoaded
	}

	topK := params.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	threshold := params.Threshold
	if threshold.IsAbsent() {
		threshold = s.cfg.RelevanceThreshold
	}

	// 1. クエリの Embedding
	queryVector, err := s.embedQuery(ctx, snap.Store.ModelID(), question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	// 2. 類似度検索
	hits, err := snap.Searcher.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	// 3. 閾値フィルタ
	ranked := make([]RankedChunk, 0, len(hits))
	for i, hit := range hits {
		if hit.ID < 0 || hit.ID >= snap.Store.Len() {
			return nil, fmt.Errorf("search failed: %w: hit %d outside store of %d chunks", search.ErrStaleIndex, hit.ID, snap.Store.Len())
		}
		if floor, ok := threshold.Get(); ok && hit.Score < floor {
			continue
		}
		ranked = append(ranked, RankedChunk{
			Rank:  i + 1,
			Chunk: snap.Store.Chunk(hit.ID),
			Score: hit.Score,
		})
	}

	return &Retrieval{
		Ranked:   ranked,
		Strategy: snap.Searcher.Strategy(),
		BuildID:  snap.Store.BuildID(),
	}, nil
}

// Ask は質問に対してRAGベースで回答を生成する
func (s *AskService) Ask(ctx context.Context, params AskParams) (*AskResult, error) {
	started := time.Now()
	requestID := uuid.New()
	logger := s.logger.With("requestID", requestID.String())

	retrieval, err := s.Retrieve(ctx, RetrieveParams{
		Question:  params.Question,
		TopK:      params.TopK,
		Threshold: params.Threshold,
	})
	if err != nil {
		logger.Error("retrieval failed", "error", err)
		s.observe("error", started)
		return nil, err
	}

	logger.Info("retrieval completed",
		"strategy", retrieval.Strategy,
		"buildID", retrieval.BuildID.String(),
		"chunks", len(retrieval.Ranked),
	)

	result := &AskResult{
		RequestID: requestID,
		Strategy:  retrieval.Strategy,
		Sources:   s.sources(retrieval.Ranked),
	}

	if len(retrieval.Ranked) == 0 {
		result.Outcome = OutcomeNoRelevantContext
		result.Message = "No sufficiently relevant information found in the indexed document."
		logger.Info("no relevant context, skipping generation")
		s.observe(string(result.Outcome), started)
		return result, nil
	}

	// 4. コンテキスト組み立て
	contextChunks := retrieval.Ranked
	if s.cfg.ContextChunks > 0 && len(contextChunks) > s.cfg.ContextChunks {
		contextChunks = contextChunks[:s.cfg.ContextChunks]
	}
	question := strings.TrimSpace(params.Question)
	contextText := BuildContext(contextChunks)
	req := GenerationRequest{
		SystemPrompt: SystemPrompt,
		UserPrompt:   BuildUserPrompt(question, contextText),
		Question:     question,
		Context:      contextText,
		Model:        s.cfg.Model,
		Temperature:  params.Temperature.OrElse(s.cfg.Temperature),
		MaxTokens:    s.cfg.MaxTokens,
	}
	if params.Model != "" {
		req.Model = params.Model
	}

	// 5. 回答生成
	logger.Info("generating answer", "model", req.Model, "contextChunks", len(contextChunks))
	answer, err := s.generate(ctx, req)
	if err != nil {
		result.Outcome = OutcomeGenerationFailed
		result.Err = fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
		result.Message = "Relevant context was found but the answer could not be generated."
		logger.Error("answer generation failed", "error", err)
		s.observe(string(result.Outcome), started)
		return result, nil
	}

	// 6. 整形
	result.Outcome = OutcomeAnswered
	result.Answer = strings.TrimSpace(answer)
	result.Message = fmt.Sprintf("Answer generated from %d relevant chunks.", len(retrieval.Ranked))

	logger.Info("ask completed successfully",
		"answerLength", len(result.Answer),
		"sources", len(result.Sources),
		"elapsed", time.Since(started),
	)
	s.observe(string(result.Outcome), started)

	return result, nil
}

func (s *AskService) embedQuery(ctx context.Context, modelID, question string) ([]float32, error) {
	key := modelID + "\x00" + question
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}

	if s.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		defer cancel()
	}

	v, err := s.embedder.EmbedQuery(ctx, question, modelID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(key, v)
	}
	return v, nil
}

func (s *AskService) generate(ctx context.Context, req GenerationRequest) (string, error) {
	if s.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()
	}
	return s.generator.Generate(ctx, req)
}

func (s *AskService) sources(ranked []RankedChunk) []SourceReference {
	sources := make([]SourceReference, len(ranked))
	for i, rc := range ranked {
		sources[i] = SourceReference{
			Rank:                 rc.Rank,
			ChunkID:              rc.Chunk.ID(),
			Text:                 preview(rc.Chunk.Text(), s.cfg.PreviewLength),
			Pages:                rc.Chunk.Pages(),
			Similarity:           rc.Score,
			SimilarityPercentage: similarityPercentage(rc.Score),
		}
	}
	return sources
}

func (s *AskService) observe(outcome string, started time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveQuery(outcome, time.Since(started))
	}
}
