package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize は 1 回のプロバイダー呼び出しに含めるテキスト数
	DefaultBatchSize = 16
	// DefaultBatchDelay はバッチ間に挟む待機時間
	DefaultBatchDelay = 100 * time.Millisecond
)

// Provider は外部の Embedding プロバイダーとの境界
// 戻り値は texts と同じ順序・同じ件数でなければならない
type Provider interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Failure は Embedding に失敗したテキストの位置と原因
type Failure struct {
	Index int
	Err   error
}

// BatchResult はバッチ Embedding の結果
// Vectors は入力と同じ順序で、失敗した位置にはゼロベクトルが入る
type BatchResult struct {
	Vectors   [][]float32
	Failures  []Failure
	Dimension int
}

// FailureCount は失敗した（ゼロベクトルで埋めた）件数を返す
func (r *BatchResult) FailureCount() int {
	return len(r.Failures)
}

// FailedIndexes は失敗した位置を昇順で返す
func (r *BatchResult) FailedIndexes() []int {
	indexes := make([]int, len(r.Failures))
	for i, f := range r.Failures {
		indexes[i] = f.Index
	}
	return indexes
}

// BatchEmbedder は Provider をバッチ分割・リトライ・プレースホルダー補完でラップする
type BatchEmbedder struct {
	provider    Provider
	model       string
	dimension   int
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option は BatchEmbedder のオプション設定
type Option func(*BatchEmbedder)

// WithBatchSize は 1 回の呼び出しに含めるテキスト数を設定する
func WithBatchSize(size int) Option {
	return func(e *BatchEmbedder) {
		e.batchSize = size
	}
}

// WithBatchDelay はバッチ間の待機時間を設定する（0 以下で待機なし）
func WithBatchDelay(delay time.Duration) Option {
	return func(e *BatchEmbedder) {
		if delay <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		e.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
}

// WithConcurrency は同時に処理するバッチ数を設定する
func WithConcurrency(n int) Option {
	return func(e *BatchEmbedder) {
		e.concurrency = n
	}
}

// WithDimension はモデルのベクトル次元を明示する
// 未指定の場合は最初に成功したベクトルから推定する
func WithDimension(dimension int) Option {
	return func(e *BatchEmbedder) {
		e.dimension = dimension
	}
}

// WithEmbedderLogger はロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) Option {
	return func(e *BatchEmbedder) {
		e.logger = logger
	}
}

// NewBatchEmbedder は新しい BatchEmbedder を作成する
func NewBatchEmbedder(provider Provider, model string, opts ...Option) (*BatchEmbedder, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is nil", ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model is empty", ErrInvalidConfig)
	}

	e := &BatchEmbedder{
		provider:    provider,
		model:       model,
		batchSize:   DefaultBatchSize,
		concurrency: 1,
		limiter:     rate.NewLimiter(rate.Every(DefaultBatchDelay), 1),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, e.batchSize)
	}
	if e.concurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfig, e.concurrency)
	}
	if e.dimension < 0 {
		return nil, fmt.Errorf("%w: dimension must not be negative, got %d", ErrInvalidConfig, e.dimension)
	}

	return e, nil
}

// Model はモデル名を返す
func (e *BatchEmbedder) Model() string {
	return e.model
}

// Dimension は設定済みのベクトル次元を返す（未指定なら 0）
func (e *BatchEmbedder) Dimension() int {
	return e.dimension
}

type batchRange struct {
	start int
	end   int
}

// EmbedBatch は texts をバッチに分けて Embedding を生成する。
// 失敗したバッチは 1 件ずつ再試行し、それでも失敗した位置にはゼロベクトルを入れる。
// 処理を中断するのはコンテキストのキャンセルと ErrProviderFatal の場合のみ。
func (e *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	n := len(texts)
	vectors := make([][]float32, n)
	errs := make([]error, n)

	batches := make([]batchRange, 0, n/e.batchSize+1)
	for start := 0; start < n; start += e.batchSize {
		batches = append(batches, batchRange{start: start, end: min(start+e.batchSize, n)})
	}

	e.logger.Info("embedding started",
		"model", e.model,
		"texts", n,
		"batches", len(batches),
		"concurrency", e.concurrency,
	)

	if e.concurrency == 1 {
		for i, b := range batches {
			if err := e.embedRange(ctx, texts, b, vectors, errs); err != nil {
				return nil, err
			}
			e.logger.Debug("batch embedded", "batch", i+1, "of", len(batches))
		}
	} else {
		// 各バッチは自分の担当位置にだけ書き込むため、結果は投入順のまま組み立てられる
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for _, b := range batches {
			g.Go(func() error {
				return e.embedRange(gctx, texts, b, vectors, errs)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	dimension := e.dimension
	if dimension == 0 {
		for _, v := range vectors {
			if v != nil {
				dimension = len(v)
				break
			}
		}
	}
	if dimension == 0 && n > 0 {
		return nil, ErrNoVectors
	}

	result := &BatchResult{
		Vectors:   vectors,
		Dimension: dimension,
	}
	for i := range vectors {
		if errs[i] == nil && len(vectors[i]) != dimension {
			errs[i] = fmt.Errorf("%w: dimension %d, want %d", ErrUnexpectedResponse, len(vectors[i]), dimension)
		}
		if errs[i] != nil {
			vectors[i] = make([]float32, dimension)
			result.Failures = append(result.Failures, Failure{Index: i, Err: errs[i]})
		}
	}

	if len(result.Failures) > 0 {
		e.logger.Warn("embedding finished with placeholder vectors",
			"model", e.model,
			"failed", len(result.Failures),
			"total", n,
		)
	} else {
		e.logger.Info("embedding finished", "model", e.model, "total", n, "dimension", dimension)
	}

	return result, nil
}

// embedRange は 1 バッチを処理し、失敗時は 1 件ずつ再試行する
func (e *BatchEmbedder) embedRange(ctx context.Context, texts []string, b batchRange, vectors [][]float32, errs []error) error {
	batch := texts[b.start:b.end]

	got, err := e.call(ctx, batch, e.model)
	if err == nil {
		copy(vectors[b.start:b.end], got)
		return nil
	}
	if isFatal(ctx, err) {
		return err
	}

	e.logger.Warn("batch embedding failed, retrying items individually",
		"start", b.start,
		"size", len(batch),
		"error", err,
	)

	for i := b.start; i < b.end; i++ {
		got, err := e.call(ctx, texts[i:i+1], e.model)
		if err != nil {
			if isFatal(ctx, err) {
				return err
			}
			e.logger.Warn("item embedding failed, using zero vector", "index", i, "error", err)
			errs[i] = err
			continue
		}
		vectors[i] = got[0]
	}
	return nil
}

// call はレート制御を通してプロバイダーを 1 回呼び出す
func (e *BatchEmbedder) call(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := e.provider.Embed(ctx, texts, model)
	if err != nil {
		return nil, &ProviderError{Op: "embed", Model: model, Count: len(texts), Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Op:    "embed",
			Model: model,
			Count: len(texts),
			Err:   fmt.Errorf("%w: got %d vectors", ErrUnexpectedResponse, len(vectors)),
		}
	}
	return vectors, nil
}

// EmbedQuery はクエリ 1 件の Embedding を生成する
// model にはストアを作ったモデルを渡す（空なら Embedder のモデル）
// バッチと異なり失敗時にプレースホルダーは返さない
func (e *BatchEmbedder) EmbedQuery(ctx context.Context, text, model string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if model == "" {
		model = e.model
	}

	vectors, err := e.call(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, &ProviderError{Op: "embed query", Model: model, Count: 1, Err: ErrUnexpectedResponse}
	}
	return vectors[0], nil
}

func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrProviderFatal)
}
