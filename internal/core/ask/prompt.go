package ask

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion/chunk"
)

// SystemPrompt は回答をコンテキストに限定させるシステムプロンプト
const SystemPrompt = `You are an assistant specialised in clinical guidelines. You answer strictly from the provided context excerpts of the guideline document.

Guidelines for responses:
1. Base your answer ONLY on the provided context
2. If the context does not contain sufficient information, say so clearly
3. Include page references when mentioning specific recommendations
4. Be precise and avoid speculation
5. If excerpts conflict, mention both viewpoints`

// RankedChunk はコンテキスト組み立てに使う順位付きチャンク
type RankedChunk struct {
	Rank  int
	Chunk chunk.Chunk
	Score float64
}

// BuildContext は順位付きチャンクの全文をタグ付きで連結する
func BuildContext(ranked []RankedChunk) string {
	parts := make([]string, len(ranked))
	for i, rc := range ranked {
		parts[i] = fmt.Sprintf("[Chunk %d - Page %s - Similarity: %.3f]\n%s",
			rc.Rank,
			formatPages(rc.Chunk.Pages()),
			rc.Score,
			rc.Chunk.Text(),
		)
	}
	return strings.Join(parts, "\n\n")
}

// BuildUserPrompt はコンテキストと質問からユーザープロンプトを構築する
func BuildUserPrompt(question, context string) string {
	var sb strings.Builder

	sb.WriteString("Based on the following context from the guideline document, please answer the question.\n\n")
	sb.WriteString("CONTEXT:\n")
	sb.WriteString(context)
	sb.WriteString("\n\n")
	sb.WriteString("QUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString("ANSWER:")

	return sb.String()
}

// formatPages はページ番号を "3, 4" の形式にする。ページ情報が無ければ "unknown"
func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "unknown"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}
