package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig はチャンク設定が不正な場合に返されます
	ErrInvalidConfig = errors.New("invalid chunk config")

	// ErrInvalidRange はチャンクのオフセット範囲が不正な場合に返されます
	ErrInvalidRange = errors.New("invalid chunk range")
)

// ConfigError はチャンク設定の検証エラーを表します
type ConfigError struct {
	Field string
	Value int
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunk: %s=%d: %s", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func newConfigError(field string, value int, reason string) *ConfigError {
	return &ConfigError{
		Field: field,
		Value: value,
		Err:   fmt.Errorf("%w: %s", ErrInvalidConfig, reason),
	}
}
