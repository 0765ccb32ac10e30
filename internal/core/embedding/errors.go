package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderFatal はプロバイダーの設定不備（認証失敗など）で処理を継続できない場合のエラー
	// プロバイダー実装はこのエラーをラップして返すことで実行全体を中断させる
	ErrProviderFatal = errors.New("embedding provider misconfigured")

	// ErrInvalidConfig は BatchEmbedder の設定が不正な場合のエラー
	ErrInvalidConfig = errors.New("invalid embedder config")

	// ErrNoVectors は 1 件も成功せずベクトル次元が確定できない場合のエラー
	ErrNoVectors = errors.New("no embedding succeeded and dimension is unknown")

	// ErrEmptyInput は空のクエリが渡された場合のエラー
	ErrEmptyInput = errors.New("empty input")

	// ErrUnexpectedResponse はプロバイダーの応答件数や次元が要求と一致しない場合のエラー
	ErrUnexpectedResponse = errors.New("unexpected provider response")
)

// ProviderError はプロバイダー呼び出しの失敗を表す
type ProviderError struct {
	Op    string
	Model string
	Count int // 呼び出しに含まれたテキスト数
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding: %s (model=%s, count=%d): %s", e.Op, e.Model, e.Count, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
