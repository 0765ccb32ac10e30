package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound は永続化されたストアが存在しない場合のエラー
	ErrNotFound = errors.New("store not found")

	// ErrCorrupt は永続化データの整合性が取れない場合のエラー
	ErrCorrupt = errors.New("store corrupt")
)

// CorruptError はストアの整合性エラーの詳細を表す
type CorruptError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("store: corrupt: %s", e.Reason)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CorruptError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCorrupt, e.Err}
	}
	return []error{ErrCorrupt}
}

func corruptf(format string, args ...any) *CorruptError {
	return &CorruptError{Reason: fmt.Sprintf(format, args...)}
}
