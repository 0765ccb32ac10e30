package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider は "fail" を含むテキストを含むバッチを失敗させる
type stubProvider struct {
	mu        sync.Mutex
	calls     [][]string
	fatal     bool
	dimension int
	delay     func(texts []string) time.Duration
}

func (p *stubProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	p.mu.Unlock()

	if p.delay != nil {
		time.Sleep(p.delay(texts))
	}
	if p.fatal {
		return nil, fmt.Errorf("%w: 401 unauthorized", ErrProviderFatal)
	}
	for _, t := range texts {
		if strings.Contains(t, "fail") {
			return nil, errors.New("provider rejected input")
		}
	}

	dim := p.dimension
	if dim == 0 {
		dim = 3
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(t))
		v[dim-1] = 1
		vectors[i] = v
	}
	return vectors, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestEmbedder(t *testing.T, provider Provider, opts ...Option) *BatchEmbedder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithBatchDelay(0), WithEmbedderLogger(logger)}, opts...)
	e, err := NewBatchEmbedder(provider, "test-model", opts...)
	require.NoError(t, err)
	return e
}

func TestEmbedBatch_AllSucceed(t *testing.T) {
	provider := &stubProvider{}
	e := newTestEmbedder(t, provider, WithBatchSize(2))

	result, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	require.Len(t, result.Vectors, 5)
	assert.Equal(t, 0, result.FailureCount())
	assert.Equal(t, 3, result.Dimension)
	for i, v := range result.Vectors {
		assert.Equal(t, float32(i+1), v[0])
	}
	// 5 件 / バッチサイズ 2 = 3 回
	assert.Equal(t, 3, provider.callCount())
}

func TestEmbedBatch_FailedItemGetsPlaceholderAtItsPosition(t *testing.T) {
	provider := &stubProvider{}
	e := newTestEmbedder(t, provider, WithBatchSize(3))

	texts := []string{"one", "two", "fail here", "four", "five"}
	result, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, result.Vectors, len(texts))
	assert.Equal(t, 1, result.FailureCount())
	assert.Equal(t, []int{2}, result.FailedIndexes())
	assert.Equal(t, []float32{0, 0, 0}, result.Vectors[2])

	// 周囲の位置は成功している
	assert.Equal(t, float32(3), result.Vectors[0][0])
	assert.Equal(t, float32(3), result.Vectors[1][0])
	assert.Equal(t, float32(4), result.Vectors[3][0])

	// バッチ 1 回（失敗）+ 個別 3 回 + バッチ 1 回
	assert.Equal(t, 5, provider.callCount())
}

func TestEmbedBatch_UsesConfiguredDimensionForPlaceholders(t *testing.T) {
	provider := &stubProvider{dimension: 4}
	e := newTestEmbedder(t, provider, WithDimension(4))

	result, err := e.EmbedBatch(context.Background(), []string{"fail"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0, 0, 0}}, result.Vectors)
	assert.Equal(t, 1, result.FailureCount())
}

func TestEmbedBatch_WrongDimensionCountsAsFailure(t *testing.T) {
	provider := &stubProvider{dimension: 5}
	e := newTestEmbedder(t, provider, WithDimension(3))

	result, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailureCount())
	assert.ErrorIs(t, result.Failures[0].Err, ErrUnexpectedResponse)
	assert.Equal(t, []float32{0, 0, 0}, result.Vectors[0])
}

func TestEmbedBatch_NoVectorsAndUnknownDimension(t *testing.T) {
	e := newTestEmbedder(t, &stubProvider{})

	_, err := e.EmbedBatch(context.Background(), []string{"fail", "fail too"})
	assert.ErrorIs(t, err, ErrNoVectors)
}

func TestEmbedBatch_FatalProviderErrorAborts(t *testing.T) {
	provider := &stubProvider{fatal: true}
	e := newTestEmbedder(t, provider, WithBatchSize(2))

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFatal)
	assert.Equal(t, 1, provider.callCount())
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	e := newTestEmbedder(t, &stubProvider{})

	result, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Vectors)
	assert.Equal(t, 0, result.FailureCount())
}

func TestEmbedBatch_ParallelKeepsSubmissionOrder(t *testing.T) {
	// 先頭のバッチほど遅く完了させる
	provider := &stubProvider{delay: func(texts []string) time.Duration {
		return time.Duration(20-len(texts[0])) * time.Millisecond
	}}
	e := newTestEmbedder(t, provider, WithBatchSize(1), WithConcurrency(4))

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	result, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	for i, v := range result.Vectors {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestEmbedBatch_CancelledContext(t *testing.T) {
	e := newTestEmbedder(t, &stubProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
}

func TestEmbedQuery(t *testing.T) {
	e := newTestEmbedder(t, &stubProvider{})

	v, err := e.EmbedQuery(context.Background(), "frage", "")
	require.NoError(t, err)
	assert.Equal(t, float32(5), v[0])

	_, err = e.EmbedQuery(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.EmbedQuery(context.Background(), "fail", "")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "test-model", perr.Model)

	_, err = e.EmbedQuery(context.Background(), "fail", "store-model")
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "store-model", perr.Model)
}

func TestNewBatchEmbedder_InvalidConfig(t *testing.T) {
	_, err := NewBatchEmbedder(nil, "m")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatchEmbedder(&stubProvider{}, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatchEmbedder(&stubProvider{}, "m", WithBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatchEmbedder(&stubProvider{}, "m", WithConcurrency(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
