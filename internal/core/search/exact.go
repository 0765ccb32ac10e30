package search

import (
	"context"

	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

// StrategyExact は全件のコサイン類似度を計算する検索戦略名
const StrategyExact = "exact"

// ExactSearch はストアの全ベクトルとのコサイン類似度で順位付けする
type ExactSearch struct {
	store *store.Store
	norms []float64
}

// NewExactSearch はストアのノルムを事前計算して ExactSearch を作成する
func NewExactSearch(s *store.Store) *ExactSearch {
	norms := make([]float64, s.Len())
	for i := range norms {
		norms[i] = norm(s.Vector(i))
	}
	return &ExactSearch{store: s, norms: norms}
}

// Search は上位 topK 件を返す
func (e *ExactSearch) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(e.store, query, topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(query)
	hits := make([]Hit, e.store.Len())
	for i := range hits {
		hits[i] = Hit{
			ID:    i,
			Score: cosineWithNorms(query, e.store.Vector(i), qn, e.norms[i]),
		}
	}
	return rankHits(hits, topK), nil
}

// Strategy は検索戦略名を返す
func (e *ExactSearch) Strategy() string {
	return StrategyExact
}

var _ Searcher = (*ExactSearch)(nil)
