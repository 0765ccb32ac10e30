package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/AmanBhanse/agathon-backend/internal/core/search"
	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

// StrategyPgvector は pgvector による検索を表す
const StrategyPgvector = "pgvector"

// Searcher は search.Searcher を実装する pgvector 検索
// 類似度は 1 - コサイン距離で、ExactSearch と同じ尺度・並び順になる。
// 検索のたびにミラーが作成時と同じビルドかを確認する
type Searcher struct {
	db        *DB
	buildID   uuid.UUID
	dimension int
	count     int
}

// NewSearcher は指定ストアのミラーを検索する Searcher を作成する
// ミラーがストアと一致しない場合はエラーを返す
func NewSearcher(ctx context.Context, db *DB, s *store.Store) (*Searcher, error) {
	ok, err := NewMirror(db, nil).Matches(ctx, s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: postgres mirror does not hold build %s", search.ErrStaleIndex, s.BuildID())
	}
	return &Searcher{db: db, buildID: s.BuildID(), dimension: s.Dimension(), count: s.Len()}, nil
}

// Strategy は検索方式の名前を返す
func (s *Searcher) Strategy() string {
	return StrategyPgvector
}

// Search は類似度の降順（同点は ID 昇順）で最大 topK 件を返す
func (s *Searcher) Search(ctx context.Context, query []float32, topK int) ([]search.Hit, error) {
	if topK < 1 {
		return nil, search.ErrInvalidTopK
	}
	if s.count == 0 {
		return []search.Hit{}, nil
	}
	if len(query) != s.dimension {
		return nil, &search.DimensionMismatchError{Query: len(query), Store: s.dimension}
	}

	rows, err := s.db.Pool.Query(ctx, searchSQL,
		pgvector.NewVector(query),
		isZero(query),
		int32(min(topK, s.count)),
		UUIDToPgtype(s.buildID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]search.Hit, 0, min(topK, s.count))
	for rows.Next() {
		var (
			id    int32
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if id < 0 || int(id) >= s.count {
			return nil, fmt.Errorf("%w: postgres mirror returned chunk %d outside build %s", search.ErrStaleIndex, id, s.buildID)
		}
		hits = append(hits, search.Hit{ID: int(id), Score: clamp(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	// チャンクがあるのに 0 行ならミラーが別ビルドに置き換わっている
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: postgres mirror no longer holds build %s", search.ErrStaleIndex, s.buildID)
	}
	return hits, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return max(-1, min(1, score))
}

// インターフェース実装の確認
var _ search.Searcher = (*Searcher)(nil)
