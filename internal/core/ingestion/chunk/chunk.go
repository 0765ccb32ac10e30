package chunk

import (
	"fmt"
	"slices"
)

// Chunk は元テキストの連続した区間を表す不変の値
// Start/End は文字（Unicode コードポイント）単位の半開区間 [Start, End)
type Chunk struct {
	id    int
	text  string
	start int
	end   int
	pages []int
}

// NewChunk はオフセットとページ番号を検証して Chunk を作成する
func NewChunk(id int, text string, start, end int, pages []int) (Chunk, error) {
	if id < 0 {
		return Chunk{}, fmt.Errorf("%w: negative id %d", ErrInvalidRange, id)
	}
	if start < 0 || start >= end {
		return Chunk{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	for i, p := range pages {
		if p < 1 {
			return Chunk{}, fmt.Errorf("%w: page %d", ErrInvalidRange, p)
		}
		if i > 0 && pages[i-1] >= p {
			return Chunk{}, fmt.Errorf("%w: pages must be strictly ascending", ErrInvalidRange)
		}
	}

	return Chunk{
		id:    id,
		text:  text,
		start: start,
		end:   end,
		pages: slices.Clone(pages),
	}, nil
}

// ID は文書内の 0 始まりの連番を返す
func (c Chunk) ID() int { return c.id }

// Text はトリム済みのチャンク本文を返す
func (c Chunk) Text() string { return c.text }

// Start は元テキスト上の開始オフセットを返す
func (c Chunk) Start() int { return c.start }

// End は元テキスト上の終了オフセット（排他的）を返す
func (c Chunk) End() int { return c.end }

// Pages はチャンクが重なるページ番号（昇順）のコピーを返す
func (c Chunk) Pages() []int { return slices.Clone(c.pages) }

// withPages はページ番号を差し替えた新しい Chunk を返す
func (c Chunk) withPages(pages []int) Chunk {
	c.pages = pages
	return c
}
