package search

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/samber/mo"

	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

// Snapshot は同時に読み出されるストアと検索器の組
type Snapshot struct {
	Store    *store.Store
	Searcher Searcher
}

// Holder は現在のスナップショットを保持し、再構築時に原子的に差し替える
// 読み出し側はロックを取らずに一貫したスナップショットを得る
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder は空の Holder を作成する
func NewHolder() *Holder {
	return &Holder{}
}

// Swap はスナップショットを検証してから差し替える。検証に失敗した場合は現在の値を維持する
func (h *Holder) Swap(snap *Snapshot) error {
	if snap == nil || snap.Store == nil || snap.Searcher == nil {
		return errors.New("snapshot must have a store and a searcher")
	}
	if err := snap.Store.Validate(); err != nil {
		return fmt.Errorf("refusing to swap in invalid store: %w", err)
	}
	h.current.Store(snap)
	return nil
}

// Current は現在のスナップショットを返す
func (h *Holder) Current() mo.Option[*Snapshot] {
	snap := h.current.Load()
	if snap == nil {
		return mo.None[*Snapshot]()
	}
	return mo.Some(snap)
}

// Select は近似インデックスが利用可能ならば ApproximateSearch を、そうでなければ ExactSearch を返す
func Select(s *store.Store, index mo.Option[*IVFIndex], logger *slog.Logger) Searcher {
	if logger == nil {
		logger = slog.Default()
	}

	idx, ok := index.Get()
	if !ok {
		return NewExactSearch(s)
	}

	approx, err := NewApproximateSearch(s, idx)
	if err != nil {
		logger.Warn("approximate index does not match store, falling back to exact search",
			"storeBuildID", s.BuildID().String(),
			"indexBuildID", idx.BuildID.String(),
			"storeCount", s.Len(),
			"indexCount", idx.Count,
		)
		return NewExactSearch(s)
	}
	return approx
}

// Open は永続化されたストアと（あれば）近似インデックスを読み込んでスナップショットを作る
// インデックスが存在しない・壊れている・古い場合は ExactSearch を使う
func Open(storePath, indexPath string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Load(storePath)
	if err != nil {
		return nil, err
	}

	index := mo.None[*IVFIndex]()
	if indexPath != "" {
		idx, err := LoadIndex(indexPath)
		switch {
		case err == nil:
			index = mo.Some(idx)
		case errors.Is(err, store.ErrNotFound):
			logger.Debug("approximate index not found", "path", indexPath)
		default:
			logger.Warn("failed to load approximate index, using exact search", "path", indexPath, "error", err)
		}
	}

	searcher := Select(s, index, logger)
	logger.Info("store loaded",
		"path", storePath,
		"buildID", s.BuildID().String(),
		"model", s.ModelID(),
		"chunks", s.Len(),
		"dimension", s.Dimension(),
		"strategy", searcher.Strategy(),
	)

	return &Snapshot{Store: s, Searcher: searcher}, nil
}
