package search

import (
	"context"
	"math"
	"slices"

	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

// Searcher はストアに対する類似度検索の能力
// 実装は検索戦略ごとに分かれ、どれも同じ順位付け規約に従う:
// スコア降順、同点は ID 昇順、件数は min(topK, ストア件数)
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)
	Strategy() string
}

// Hit は検索結果の 1 件。Score はコサイン類似度のスケールで表す
type Hit struct {
	ID    int
	Score float64
}

// Cosine はコサイン類似度を返す。どちらかのノルムが 0 の場合は 0
func Cosine(a, b []float32) float64 {
	return cosineWithNorms(a, b, norm(a), norm(b))
}

func cosineWithNorms(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return clampScore(dot / (na * nb))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func clampScore(s float64) float64 {
	return max(-1, min(1, s))
}

// validateQuery は topK とクエリ次元を検証する
func validateQuery(s *store.Store, query []float32, topK int) error {
	if topK < 1 {
		return ErrInvalidTopK
	}
	if s.Len() > 0 && len(query) != s.Dimension() {
		return &DimensionMismatchError{Query: len(query), Store: s.Dimension()}
	}
	return nil
}

// rankHits はスコア降順・ID 昇順に並べ、上位 topK 件に切り詰める
func rankHits(hits []Hit, topK int) []Hit {
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.ID - b.ID
		}
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
