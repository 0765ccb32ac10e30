package chunk

import (
	"strings"
)

const (
	// DefaultSize はチャンクサイズのデフォルト値（文字数）
	DefaultSize = 1200
	// DefaultOverlap は隣接チャンク間の重なりのデフォルト値（文字数）
	DefaultOverlap = 200
)

// Config はスライディングウィンドウの設定
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig はデフォルトのチャンク設定を返す
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate は size > 0 かつ 0 <= overlap < size であることを検証する
func (c Config) Validate() error {
	if c.Size <= 0 {
		return newConfigError("size", c.Size, "must be positive")
	}
	if c.Overlap < 0 {
		return newConfigError("overlap", c.Overlap, "must not be negative")
	}
	if c.Overlap >= c.Size {
		return newConfigError("overlap", c.Overlap, "must be smaller than size")
	}
	return nil
}

// Split はテキストを size 文字のウィンドウで overlap 文字ずつ重ねながら分割する。
// 各ウィンドウは size-overlap 文字ずつ進み、終端がテキスト長に達したウィンドウで終了する。
// 本文はトリムされるが、オフセットはトリム前の位置を保持する。
func Split(text string, size, overlap int) ([]Chunk, error) {
	if err := (Config{Size: size, Overlap: overlap}).Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]Chunk, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+size, n)
		c, err := NewChunk(len(chunks), strings.TrimSpace(string(runes[start:end])), start, end, nil)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
		if end == n {
			break
		}
	}

	return chunks, nil
}

// SplitDocument はページを連結した文書を分割し、各チャンクにページ番号を付与する
func SplitDocument(doc Document, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	text, ranges := doc.Join()
	chunks, err := Split(text, cfg.Size, cfg.Overlap)
	if err != nil {
		return nil, err
	}

	return AttributePages(chunks, ranges), nil
}
