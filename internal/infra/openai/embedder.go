package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/AmanBhanse/agathon-backend/internal/core/embedding"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-large"

	// MaxEmbeddingInputs は 1 リクエストに含められる入力数の上限
	MaxEmbeddingInputs = 2048
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	dimension int
	retry     retryPolicy
}

type embedderOptions struct {
	dimension int
	retry     retryPolicy
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingDimension はベクトル次元を指定する（0 ならモデルの既定値）
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingRetry はレート制限時の再試行方針を上書きする
func WithEmbeddingRetry(maxRetries int, initial, max time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.retry = retryPolicy{maxRetries: uint64(maxRetries), initial: initial, max: max}
	}
}

// NewEmbedder は新しい Embedder を作成する
// APIキーが無い場合はバッチを開始する前に ErrAPIKeyNotSet を返す
func NewEmbedder(creds Credentials, opts ...EmbedderOption) (*Embedder, error) {
	reqOpts, err := creds.requestOptions()
	if err != nil {
		return nil, err
	}

	options := embedderOptions{retry: defaultRetryPolicy()}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client:    openai.NewClient(reqOpts...),
		dimension: options.dimension,
		retry:     options.retry,
	}, nil
}

// Embed はテキスト群の Embedding を入力と同じ順序で返す
// 認証エラーなど設定不備によるエラーは embedding.ErrProviderFatal でラップする
func (e *Embedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > MaxEmbeddingInputs {
		return nil, fmt.Errorf("batch size %d exceeds maximum of %d", len(texts), MaxEmbeddingInputs)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := retry(ctx, e.retry, func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		return e.client.Embeddings.New(ctx, params)
	})
	if err != nil {
		if isMisconfigured(err) {
			return nil, fmt.Errorf("%w: %w", embedding.ErrProviderFatal, err)
		}
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	// レスポンスは index で入力位置を示すため、その位置に並べ直す
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = vector
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("embedding for input %d missing in response", i)
		}
	}

	return embeddings, nil
}

// インターフェース実装の確認
var _ embedding.Provider = (*Embedder)(nil)
