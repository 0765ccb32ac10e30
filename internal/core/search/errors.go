package search

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch はクエリとストアのベクトル次元が異なる場合のエラー
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidTopK は topK が 1 未満の場合のエラー
	ErrInvalidTopK = errors.New("topK must be at least 1")

	// ErrStaleIndex は近似インデックスがストアと対応していない場合のエラー
	ErrStaleIndex = errors.New("approximate index is stale")

	// ErrNoSnapshot はストアがまだ読み込まれていない場合のエラー
	ErrNoSnapshot = errors.New("no store loaded")
)

// DimensionMismatchError はクエリとストアの次元の組を保持する
type DimensionMismatchError struct {
	Query int
	Store int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("search: query dimension %d does not match store dimension %d", e.Query, e.Store)
}

func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}
