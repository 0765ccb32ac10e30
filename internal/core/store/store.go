package store

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion/chunk"
)

// Store はチャンクと Embedding を同じ並びで保持する不変のベクトルストア
// BuildID がバージョンタグとなり、再構築のたびに新しい値が振られる
type Store struct {
	buildID    uuid.UUID
	modelID    string
	dimension  int
	createdAt  time.Time
	chunks     []chunk.Chunk
	embeddings [][]float32
}

// Build はチャンクと Embedding から新しい Store を作成する
// 件数・次元・ID の並びが一致しない場合は CorruptError を返す
func Build(chunks []chunk.Chunk, embeddings [][]float32, modelID string) (*Store, error) {
	return newStore(uuid.New(), modelID, time.Now().UTC(), chunks, embeddings)
}

func newStore(buildID uuid.UUID, modelID string, createdAt time.Time, chunks []chunk.Chunk, embeddings [][]float32) (*Store, error) {
	if len(chunks) != len(embeddings) {
		return nil, corruptf("chunk count %d does not match embedding count %d", len(chunks), len(embeddings))
	}
	if modelID == "" {
		return nil, corruptf("model id is empty")
	}

	dimension := 0
	if len(embeddings) > 0 {
		dimension = len(embeddings[0])
		if dimension == 0 {
			return nil, corruptf("embedding 0 is empty")
		}
	}

	vectors := make([][]float32, len(embeddings))
	for i, v := range embeddings {
		if len(v) != dimension {
			return nil, corruptf("embedding %d has dimension %d, want %d", i, len(v), dimension)
		}
		vectors[i] = slices.Clone(v)
	}
	for i, c := range chunks {
		if c.ID() != i {
			return nil, corruptf("chunk at position %d has id %d", i, c.ID())
		}
	}

	return &Store{
		buildID:    buildID,
		modelID:    modelID,
		dimension:  dimension,
		createdAt:  createdAt,
		chunks:     slices.Clone(chunks),
		embeddings: vectors,
	}, nil
}

// BuildID はストアのバージョンタグを返す
func (s *Store) BuildID() uuid.UUID { return s.buildID }

// ModelID は Embedding を生成したモデル名を返す
func (s *Store) ModelID() string { return s.modelID }

// Dimension はベクトル次元を返す（空のストアでは 0）
func (s *Store) Dimension() int { return s.dimension }

// CreatedAt は構築時刻を返す
func (s *Store) CreatedAt() time.Time { return s.createdAt }

// Len はチャンク数を返す
func (s *Store) Len() int { return len(s.chunks) }

// Chunk は i 番目のチャンクを返す
func (s *Store) Chunk(i int) chunk.Chunk { return s.chunks[i] }

// Vector は i 番目の Embedding を返す。戻り値を変更してはならない
func (s *Store) Vector(i int) []float32 { return s.embeddings[i] }

// Chunks は全チャンクのコピーを返す
func (s *Store) Chunks() []chunk.Chunk { return slices.Clone(s.chunks) }

// Texts は全チャンク本文を ID 順に返す
func (s *Store) Texts() []string {
	texts := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		texts[i] = c.Text()
	}
	return texts
}

// Validate は保持しているデータの整合性を再検証する
func (s *Store) Validate() error {
	if s == nil {
		return corruptf("store is nil")
	}
	_, err := newStore(s.buildID, s.modelID, s.createdAt, s.chunks, s.embeddings)
	return err
}
