package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/AmanBhanse/agathon-backend/internal/core/embedding"
	"github.com/AmanBhanse/agathon-backend/internal/core/search"
)

// Embedder はチャンク本文をまとめて Embedding するインターフェース
// embedding.BatchEmbedder が実装する
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error)
	Model() string
}

// EmbedderFactory は指定モデル用の Embedder を作成する（再 Embedding 用）
type EmbedderFactory func(model string) (Embedder, error)

// Publisher は検証済みのスナップショットを公開する
// search.Holder が実装する
type Publisher interface {
	Swap(snap *search.Snapshot) error
	Current() mo.Option[*search.Snapshot]
}

// FailedChunk はプレースホルダーベクトルで保存されたチャンク
type FailedChunk struct {
	BuildID uuid.UUID
	ModelID string
	ChunkID int
	Pages   []int
	Err     error
}

// FailureLog は Embedding に失敗したチャンクを後から再試行できるよう記録する
type FailureLog interface {
	LogFailures(failed []FailedChunk) error
}

// Recorder は索引作成の結果を計測する
type Recorder interface {
	ObserveIndex(chunks, failures int, elapsed time.Duration)
}
