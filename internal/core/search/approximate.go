package search

import (
	"context"
	"slices"

	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

// StrategyApproximate は IVF インデックスを使う検索戦略名
const StrategyApproximate = "approximate"

// ApproximateSearch は IVF インデックスで候補を絞り込んでから順位付けする。
// 正規化ベクトル間の二乗ユークリッド距離 d は 1 - d/2 でコサイン類似度に換算する。
type ApproximateSearch struct {
	store      *store.Store
	index      *IVFIndex
	normalized [][]float32
	zero       []bool
}

// NewApproximateSearch はインデックスがストアに対応していることを確認して作成する
func NewApproximateSearch(s *store.Store, idx *IVFIndex) (*ApproximateSearch, error) {
	if idx.Stale(s) {
		return nil, ErrStaleIndex
	}

	normalized := make([][]float32, s.Len())
	zero := make([]bool, s.Len())
	for i := range normalized {
		v := s.Vector(i)
		zero[i] = norm(v) == 0
		normalized[i] = normalize(v)
	}

	return &ApproximateSearch{
		store:      s,
		index:      idx,
		normalized: normalized,
		zero:       zero,
	}, nil
}

// Search は上位 topK 件を返す。走査したリストの候補が min(topK, 件数) に満たない場合は
// 近い順に追加のリストを走査する。
func (a *ApproximateSearch) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(a.store, query, topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := a.store.Len()
	if n == 0 {
		return []Hit{}, nil
	}

	q := normalize(query)
	queryZero := norm(query) == 0
	want := min(topK, n)

	hits := make([]Hit, 0, want)
	for probed, c := range a.probeOrder(q) {
		if probed >= a.index.NProbe && len(hits) >= want {
			break
		}
		for _, id := range a.index.Lists[c] {
			score := 0.0
			if !queryZero && !a.zero[id] {
				d := squaredL2(q, a.normalized[id])
				score = clampScore(1 - d/2)
			}
			hits = append(hits, Hit{ID: id, Score: score})
		}
	}

	return rankHits(hits, topK), nil
}

// probeOrder はクエリに近い順のクラスタ番号を返す
func (a *ApproximateSearch) probeOrder(q []float32) []int {
	type scored struct {
		cluster int
		dist    float64
	}
	order := make([]scored, len(a.index.Centroids))
	for c, centroid := range a.index.Centroids {
		order[c] = scored{cluster: c, dist: squaredL2(q, centroid)}
	}
	slices.SortFunc(order, func(x, y scored) int {
		switch {
		case x.dist < y.dist:
			return -1
		case x.dist > y.dist:
			return 1
		default:
			return x.cluster - y.cluster
		}
	})

	clusters := make([]int, len(order))
	for i, o := range order {
		clusters[i] = o.cluster
	}
	return clusters
}

// Strategy は検索戦略名を返す
func (a *ApproximateSearch) Strategy() string {
	return StrategyApproximate
}

var _ Searcher = (*ApproximateSearch)(nil)
