package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"github.com/ledongthuc/pdf"

	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion/chunk"
)

// FormFeed はプレーンテキストでのページ区切り
const FormFeed = "\f"

var (
	// ErrUnsupportedFormat は読み込めない形式のファイルを表す
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument はテキストを 1 文字も含まない文書を表す
	ErrEmptyDocument = errors.New("document contains no text")
)

// LoadError は文書読み込みの失敗を表す
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load document %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// jsonPage は抽出済みページ JSON の 1 要素
type jsonPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// Load はパスの拡張子に応じて文書をページ単位で読み込む
//   - .pdf  : PDF の各ページからテキストを抽出
//   - .json : [{"page": 1, "text": "..."}] 形式の抽出済みページ
//   - その他: プレーンテキスト。フォームフィードでページを区切る
func Load(path string) (chunk.Document, error) {
	var (
		pages []chunk.Page
		err   error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		pages, err = loadPDF(path)
	case ".json":
		pages, err = loadJSON(path)
	default:
		pages, err = loadText(path)
	}
	if err != nil {
		return chunk.Document{}, &LoadError{Path: path, Err: err}
	}

	if !hasText(pages) {
		return chunk.Document{}, &LoadError{Path: path, Err: ErrEmptyDocument}
	}

	return chunk.Document{Source: path, Pages: pages}, nil
}

func loadPDF(path string) ([]chunk.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]chunk.Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			// 中身のないページも番号は維持する
			pages = append(pages, chunk.Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		pages = append(pages, chunk.Page{Number: i, Text: text})
	}
	return pages, nil
}

func loadJSON(path string) ([]chunk.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []jsonPage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid page list: %v", ErrUnsupportedFormat, err)
	}

	pages := make([]chunk.Page, 0, len(raw))
	prev := 0
	for i, p := range raw {
		number := p.Page
		if number == 0 {
			number = i + 1
		}
		if number <= prev {
			return nil, fmt.Errorf("%w: page numbers must be ascending (page %d after %d)", ErrUnsupportedFormat, number, prev)
		}
		prev = number
		pages = append(pages, chunk.Page{Number: number, Text: p.Text})
	}
	return pages, nil
}

func loadText(path string) ([]chunk.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if enry.IsBinary(data) {
		return nil, fmt.Errorf("%w: binary content", ErrUnsupportedFormat)
	}
	return SplitPages(string(bytes.ToValidUTF8(data, []byte("�")))), nil
}

// SplitPages はプレーンテキストをフォームフィードでページに分割する
// 末尾のフォームフィードによる空ページは除外する
func SplitPages(text string) []chunk.Page {
	parts := strings.Split(text, FormFeed)
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]chunk.Page, len(parts))
	for i, part := range parts {
		pages[i] = chunk.Page{Number: i + 1, Text: part}
	}
	return pages
}

func hasText(pages []chunk.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
