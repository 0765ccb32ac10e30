package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

type codec interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// TokenCounter はトークン数をカウントする機能を提供する
type TokenCounter struct {
	encoding codec
}

// NewTokenCounter は新しいTokenCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Truncate はテキストを maxTokens トークン以内に切り詰める
func (tc *TokenCounter) Truncate(text string, maxTokens int) (string, bool) {
	if tc == nil || tc.encoding == nil || maxTokens <= 0 {
		return text, false
	}
	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return tc.encoding.Decode(tokens[:maxTokens]), true
}
