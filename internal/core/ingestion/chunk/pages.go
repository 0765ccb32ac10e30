package chunk

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// PageSeparator はページ本文を連結するときの区切り文字列
const PageSeparator = "\n\n"

// Page は抽出済みの 1 ページ分のテキスト
type Page struct {
	Number int    // 1 始まりのページ番号
	Text   string // ページ本文
}

// Document はページ単位に抽出された元文書
type Document struct {
	Source string // 読み込み元（ファイルパスなど）
	Pages  []Page
}

// PageRange は連結後テキスト上でページ本文が占める範囲 [Start, End)
type PageRange struct {
	Number int
	Start  int
	End    int
}

// Join はページ本文を PageSeparator で連結し、各ページの文字範囲を返す
func (d Document) Join() (string, []PageRange) {
	var sb strings.Builder
	ranges := make([]PageRange, 0, len(d.Pages))
	offset := 0
	sepLen := utf8.RuneCountInString(PageSeparator)

	for i, page := range d.Pages {
		if i > 0 {
			sb.WriteString(PageSeparator)
			offset += sepLen
		}
		length := utf8.RuneCountInString(page.Text)
		sb.WriteString(page.Text)
		ranges = append(ranges, PageRange{
			Number: page.Number,
			Start:  offset,
			End:    offset + length,
		})
		offset += length
	}

	return sb.String(), ranges
}

// AttributePages は各チャンクと重なるページ番号を昇順・重複なしで付与した新しいスライスを返す
func AttributePages(chunks []Chunk, ranges []PageRange) []Chunk {
	result := make([]Chunk, len(chunks))
	for i, c := range chunks {
		var pages []int
		for _, r := range ranges {
			if max(c.start, r.Start) < min(c.end, r.End) {
				pages = append(pages, r.Number)
			}
		}
		slices.Sort(pages)
		result[i] = c.withPages(slices.Compact(pages))
	}
	return result
}
