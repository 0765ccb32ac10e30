package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

const (
	// DefaultIVFIterations は k-means の反復回数
	DefaultIVFIterations = 10
	// DefaultIVFProbe は検索時に走査するリスト数
	DefaultIVFProbe = 4
)

// IVFConfig は転置ファイル（IVF）インデックスの構築設定
type IVFConfig struct {
	NList      int // クラスタ数（0 なら sqrt(件数)）
	NProbe     int // 検索時に走査するクラスタ数
	Iterations int // k-means の反復回数
}

// IVFIndex は正規化ベクトルを k-means でクラスタリングした近似検索用インデックス
// ストアとは別ファイルに保存され、BuildID・件数・次元で対応するストアを識別する
type IVFIndex struct {
	BuildID   uuid.UUID   `json:"build_id"`
	Count     int         `json:"count"`
	Dimension int         `json:"dimension"`
	NProbe    int         `json:"nprobe"`
	Centroids [][]float32 `json:"centroids"`
	Lists     [][]int     `json:"lists"`
}

// BuildIVF はストアから IVF インデックスを構築する
// 初期セントロイドは等間隔に選ぶため、同じストアからは同じインデックスができる
func BuildIVF(s *store.Store, cfg IVFConfig) (*IVFIndex, error) {
	n := s.Len()
	if n == 0 {
		return nil, errors.New("cannot build approximate index for an empty store")
	}

	nlist := cfg.NList
	if nlist <= 0 {
		nlist = int(math.Sqrt(float64(n)))
	}
	nlist = max(1, min(nlist, n))

	nprobe := cfg.NProbe
	if nprobe <= 0 {
		nprobe = DefaultIVFProbe
	}
	nprobe = min(nprobe, nlist)

	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = DefaultIVFIterations
	}

	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = normalize(s.Vector(i))
	}

	centroids := make([][]float32, nlist)
	for c := range centroids {
		centroids[c] = slices.Clone(vectors[c*n/nlist])
	}

	assign := make([]int, n)
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range vectors {
			if best := nearestCentroid(centroids, v); best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}
		updateCentroids(centroids, vectors, assign)
	}

	// 最終的なセントロイドに対して割り当て直し、各リストが最も近いセントロイドに属するようにする
	for i, v := range vectors {
		assign[i] = nearestCentroid(centroids, v)
	}

	lists := make([][]int, nlist)
	for i, c := range assign {
		lists[c] = append(lists[c], i)
	}

	return &IVFIndex{
		BuildID:   s.BuildID(),
		Count:     n,
		Dimension: s.Dimension(),
		NProbe:    nprobe,
		Centroids: centroids,
		Lists:     lists,
	}, nil
}

// Stale はインデックスが指定ストアから構築されたものでなければ true を返す
func (idx *IVFIndex) Stale(s *store.Store) bool {
	return idx.BuildID != s.BuildID() ||
		idx.Count != s.Len() ||
		idx.Dimension != s.Dimension()
}

// validate はリスト構造がインデックスのヘッダーと整合しているかを検証する
func (idx *IVFIndex) validate() error {
	if idx.Count < 0 || idx.Dimension <= 0 {
		return fmt.Errorf("invalid header: count %d, dimension %d", idx.Count, idx.Dimension)
	}
	if len(idx.Centroids) == 0 || len(idx.Centroids) != len(idx.Lists) {
		return fmt.Errorf("centroid count %d does not match list count %d", len(idx.Centroids), len(idx.Lists))
	}
	for c, centroid := range idx.Centroids {
		if len(centroid) != idx.Dimension {
			return fmt.Errorf("centroid %d has dimension %d, want %d", c, len(centroid), idx.Dimension)
		}
	}
	seen := make([]bool, idx.Count)
	total := 0
	for _, list := range idx.Lists {
		for _, id := range list {
			if id < 0 || id >= idx.Count || seen[id] {
				return fmt.Errorf("invalid or duplicated member %d", id)
			}
			seen[id] = true
			total++
		}
	}
	if total != idx.Count {
		return fmt.Errorf("lists hold %d members, want %d", total, idx.Count)
	}
	return nil
}

// SaveIndex はインデックスを path に原子的に書き込む
func SaveIndex(idx *IVFIndex, path string) error {
	return store.WriteFileAtomic(path, func(w io.Writer) error {
		if err := json.NewEncoder(w).Encode(idx); err != nil {
			return fmt.Errorf("failed to encode approximate index: %w", err)
		}
		return nil
	})
}

// LoadIndex は path からインデックスを読み込む
func LoadIndex(path string) (*IVFIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read approximate index: %w", err)
	}

	var idx IVFIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &store.CorruptError{Path: path, Reason: "cannot decode approximate index", Err: err}
	}
	if err := idx.validate(); err != nil {
		return nil, &store.CorruptError{Path: path, Reason: "inconsistent approximate index", Err: err}
	}
	return &idx, nil
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := norm(v)
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredL2(centroid, v); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// updateCentroids は各クラスタの平均でセントロイドを更新する。空のクラスタは据え置く
func updateCentroids(centroids, vectors [][]float32, assign []int) {
	dim := len(centroids[0])
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, v := range vectors {
		c := assign[i]
		counts[c]++
		for j, x := range v {
			sums[c][j] += float64(x)
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] = float32(sums[c][j] / float64(counts[c]))
		}
	}
}
