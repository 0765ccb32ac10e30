package ask

import (
	"math"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Outcome は質問応答の結果種別
type Outcome string

const (
	// OutcomeAnswered はコンテキストに基づいて回答を生成できた
	OutcomeAnswered Outcome = "answered"
	// OutcomeNoRelevantContext は閾値以上のチャンクが見つからず、生成を呼び出していない
	OutcomeNoRelevantContext Outcome = "no_relevant_context"
	// OutcomeGenerationFailed は検索は成功したが回答生成に失敗した
	OutcomeGenerationFailed Outcome = "generation_failed"
)

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Question    string             // ユーザーの質問文
	Model       string             // 生成モデル（空なら設定値）
	Temperature mo.Option[float64] // 生成温度（未指定なら設定値）
	TopK        int                // 検索件数（0 以下なら設定値）
	Threshold   mo.Option[float64] // 関連度の下限（未指定なら設定値）
}

// AskResult は質問応答の結果を表す
type AskResult struct {
	RequestID uuid.UUID
	Outcome   Outcome
	Answer    string            // LLMによる回答
	Sources   []SourceReference // 参照したソース情報（順位順）
	Message   string
	Strategy  string // 使用した検索戦略
	Err       error  // OutcomeGenerationFailed の原因
}

// SourceReference は回答の根拠となったチャンクを表す
type SourceReference struct {
	Rank                 int     // 1 始まりの順位
	ChunkID              int     // ストア内のチャンク ID
	Text                 string  // プレビュー用に切り詰めた本文
	Pages                []int   // ページ番号
	Similarity           float64 // コサイン類似度
	SimilarityPercentage float64 // 0〜100 に正規化した類似度
}

// Response は問い合わせインターフェースに返す JSON の形
type Response struct {
	Answer         string          `json:"answer"`
	RelevantChunks []RelevantChunk `json:"relevant_chunks"`
	Message        string          `json:"message"`
}

// RelevantChunk は Response 内のチャンク情報
type RelevantChunk struct {
	Rank                 int     `json:"rank"`
	Text                 string  `json:"text"`
	Similarity           float64 `json:"similarity"`
	SimilarityPercentage float64 `json:"similarity_percentage"`
}

// Response は結果を問い合わせインターフェースの形に変換する
func (r *AskResult) Response() Response {
	chunks := make([]RelevantChunk, len(r.Sources))
	for i, s := range r.Sources {
		chunks[i] = RelevantChunk{
			Rank:                 s.Rank,
			Text:                 s.Text,
			Similarity:           s.Similarity,
			SimilarityPercentage: s.SimilarityPercentage,
		}
	}
	return Response{
		Answer:         r.Answer,
		RelevantChunks: chunks,
		Message:        r.Message,
	}
}

// similarityPercentage は類似度を 0〜100 に丸め、小数第 1 位で四捨五入する
func similarityPercentage(score float64) float64 {
	clamped := max(0, min(1, score))
	return math.Round(clamped*1000) / 10
}

// preview は本文を limit 文字に切り詰め、切り詰めた場合は "..." を付ける
func preview(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
