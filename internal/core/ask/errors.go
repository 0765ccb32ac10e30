package ask

import "errors"

var (
	// ErrEmbeddingUnavailable はクエリの Embedding を取得できなかった場合のエラー
	ErrEmbeddingUnavailable = errors.New("query embedding unavailable")

	// ErrGenerationUnavailable は回答生成に失敗した場合のエラー（AskResult.Err に格納される）
	ErrGenerationUnavailable = errors.New("answer generation unavailable")

	// ErrStoreNotLoaded は検索対象のストアが読み込まれていない場合のエラー
	ErrStoreNotLoaded = errors.New("store not loaded")

	// ErrEmptyQuestion は質問文が空の場合のエラー
	ErrEmptyQuestion = errors.New("question is required")
)
